// Package mediaerr holds the failure taxonomy of the acquisition pipeline.
// Every error that reaches the orchestrator is reduced to one of these kinds
// and its Message is stored verbatim on the failed library entry.
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind classifies an acquisition failure.
type Kind string

const (
	DownloadFailed     Kind = "download_failed"
	InvalidContent     Kind = "invalid_content"
	StorageUnavailable Kind = "storage_unavailable"
	ExtractionFailed   Kind = "extraction_failed"
	InvalidSource      Kind = "invalid_source"
	Unexpected         Kind = "unexpected"
)

// Error is a classified failure with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, keeping it as the cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Unexpected.
func KindOf(err error) Kind {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Kind
	}
	return Unexpected
}

// Is checks whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var mErr *Error
	return errors.As(err, &mErr) && mErr.Kind == kind
}

// UserMessage is the text recorded on a failed entry. Unclassified errors
// are prefixed so the requester can tell them apart from fetch failures.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var mErr *Error
	if errors.As(err, &mErr) {
		if mErr.Kind == Unexpected && mErr.Err != nil {
			return fmt.Sprintf("%s: %v", mErr.Message, mErr.Err)
		}
		return mErr.Message
	}
	return "Processing failed: " + err.Error()
}
