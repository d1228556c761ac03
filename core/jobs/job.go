// Package jobs schedules pipeline work with at-least-once delivery.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a job handler.
type Type string

const (
	TypeIngest           Type = "ingest"
	TypeCleanupDuplicate Type = "cleanup_duplicate"
	TypeSweepOrphans     Type = "sweep_orphans"
)

// Job is one unit of queued work.
type Job struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`

	raw string // encoded form as stored, used to ack
}

// IngestPayload starts an acquisition run for an entry.
type IngestPayload struct {
	EntryID    int64  `json:"entryId"`
	UploadPath string `json:"uploadPath,omitempty"`
}

// CleanupPayload names a duplicate entry to expire.
type CleanupPayload struct {
	EntryID int64 `json:"entryId"`
}

// NewJob encodes payload into a fresh job.
func NewJob(t Type, payload interface{}) (*Job, error) {
	j := &Job{ID: uuid.NewString(), Type: t, EnqueuedAt: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		j.Payload = data
	}
	return j, nil
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s has no payload", j.ID)
	}
	return json.Unmarshal(j.Payload, v)
}

func (j *Job) encode() (string, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJob(raw string) (*Job, error) {
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	j.raw = raw
	return &j, nil
}

// Queue is an at-least-once job queue with delayed delivery.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	EnqueueDelayed(ctx context.Context, job *Job, delay time.Duration) error
	// Dequeue waits up to timeout for a job. It returns nil, nil when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	// Ack removes a finished job from the in-flight set.
	Ack(ctx context.Context, job *Job) error
	// Nack hands an unfinished job back for another delivery.
	Nack(ctx context.Context, job *Job) error
}

// Recoverer is a Queue whose in-flight jobs can outlive the worker that took
// them.
type Recoverer interface {
	Recover(ctx context.Context, staleAfter time.Duration) (int, error)
}
