// Package library is the intake, query and pre-check surface over the
// acquisition pipeline.
package library

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"CastShelf/core/artifact"
	"CastShelf/core/dedup"
	"CastShelf/core/fetcher"
	"CastShelf/core/jobs"
	"CastShelf/core/mediaerr"
	"CastShelf/core/sweeper"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/repository"
)

const (
	maxTitleLength       = 255
	maxDescriptionLength = 1000
	maxURLLength         = 2048
)

// ErrNotFound is returned for entries that do not exist or belong to someone else.
var ErrNotFound = errors.New("library entry not found")

// Enqueuer accepts jobs for immediate processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job *jobs.Job) error
}

// SubmitRequest is one ingestion request. UploadPath is a file already
// saved under temp-uploads and is only valid for upload sources.
type SubmitRequest struct {
	OwnerID     int64
	Title       string
	Description string
	SourceKind  model.SourceKind
	SourceURL   string
	UploadPath  string
}

// SubmitResult carries the pending entry and a message for the requester.
type SubmitResult struct {
	Entry   *model.LibraryEntry `json:"entry"`
	Message string              `json:"message"`
}

// URLCheck is the answer of the pre-submission duplicate check.
type URLCheck struct {
	IsDuplicate bool                   `json:"isDuplicate"`
	Artifact    *model.ArtifactSummary `json:"existingArtifact,omitempty"`
}

// Service 媒体库服务
type Service struct {
	entries  repository.LibraryRepository
	resolver *dedup.Resolver
	store    *artifact.Store
	sweeper  *sweeper.Sweeper
	queue    Enqueuer
	meta     fetcher.MetadataSource
}

// NewService 创建媒体库服务
func NewService(
	entries repository.LibraryRepository,
	resolver *dedup.Resolver,
	store *artifact.Store,
	sw *sweeper.Sweeper,
	queue Enqueuer,
	meta fetcher.MetadataSource,
) *Service {
	return &Service{
		entries:  entries,
		resolver: resolver,
		store:    store,
		sweeper:  sw,
		queue:    queue,
		meta:     meta,
	}
}

func invalid(format string, args ...any) error {
	return mediaerr.New(mediaerr.InvalidSource, format, args...)
}

func validate(req *SubmitRequest) error {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	req.SourceURL = strings.TrimSpace(req.SourceURL)

	kind, err := model.ParseSourceKind(string(req.SourceKind))
	if err != nil {
		return invalid("The source type must be one of upload, url, youtube.")
	}
	req.SourceKind = kind

	if req.Title == "" && kind != model.SourceYouTube {
		return invalid("The title field is required.")
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		return invalid("The title may not be greater than %d characters.", maxTitleLength)
	}
	if utf8.RuneCountInString(req.Description) > maxDescriptionLength {
		return invalid("The description may not be greater than %d characters.", maxDescriptionLength)
	}

	switch kind {
	case model.SourceUpload:
		if req.UploadPath == "" {
			return invalid("Please provide a file to upload.")
		}
		if req.SourceURL != "" {
			return invalid("You cannot provide both a URL and a file.")
		}
	case model.SourceURL, model.SourceYouTube:
		if req.UploadPath != "" {
			return invalid("You cannot provide both a URL and a file.")
		}
		if req.SourceURL == "" {
			return invalid("Please provide a URL.")
		}
		if len(req.SourceURL) > maxURLLength {
			return invalid("The URL may not be greater than %d characters.", maxURLLength)
		}
		u, err := url.Parse(req.SourceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("The URL must be a valid http or https URL.")
		}
		if kind == model.SourceYouTube {
			if _, err := fetcher.ExtractVideoID(req.SourceURL); err != nil {
				return err
			}
		}
	}
	return nil
}

// Submit validates req, stores a pending entry and queues its ingestion.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := validate(&req); err != nil {
		utils.RemoveFile(req.UploadPath)
		return nil, err
	}

	entry := &model.LibraryEntry{
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		SourceKind:  req.SourceKind,
		Status:      model.StatusPending,
	}
	if req.SourceURL != "" {
		u := req.SourceURL
		entry.SourceURL = &u
	}
	if err := s.entries.Create(ctx, entry); err != nil {
		utils.RemoveFile(req.UploadPath)
		return nil, fmt.Errorf("create library entry: %w", err)
	}

	job, err := jobs.NewJob(jobs.TypeIngest, jobs.IngestPayload{EntryID: entry.ID, UploadPath: req.UploadPath})
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		logger.Error("failed to queue ingestion", logger.Int64("entryId", entry.ID), logger.ErrorField(err))
		utils.RemoveFile(req.UploadPath)
		msg := "Failed to queue media processing"
		if _, dbErr := s.entries.MarkFailed(ctx, entry.ID, "", msg); dbErr != nil {
			logger.Error("failed to record queue failure", logger.Int64("entryId", entry.ID), logger.ErrorField(dbErr))
		}
		entry.Status = model.StatusFailed
		entry.ProcessingError = &msg
		return &SubmitResult{Entry: entry, Message: msg}, nil
	}

	logger.Info("ingestion queued",
		logger.Int64("entryId", entry.ID),
		logger.Int64("ownerId", entry.OwnerID),
		logger.String("source", string(entry.SourceKind)),
		logger.String("jobId", job.ID))

	var message string
	switch entry.SourceKind {
	case model.SourceUpload:
		message = "Media file uploaded successfully. Processing..."
	case model.SourceURL:
		message = "Media file URL added successfully. Downloading and processing..."
	case model.SourceYouTube:
		message = "YouTube video added successfully. Processing..."
	}
	return &SubmitResult{Entry: entry, Message: message}, nil
}

// List returns ownerID's entries, newest first.
func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]*model.LibraryEntry, error) {
	return s.entries.ListByOwner(ctx, ownerID, limit, offset)
}

// Get returns one of ownerID's entries.
func (s *Service) Get(ctx context.Context, ownerID, id int64) (*model.LibraryEntry, error) {
	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return entry, nil
}

// Delete removes one of ownerID's entries. If it was the last reference to
// its artifact, the artifact and its object are reclaimed right away.
func (s *Service) Delete(ctx context.Context, ownerID, id int64) error {
	entry, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if err := s.entries.Delete(ctx, entry.ID); err != nil {
		return fmt.Errorf("delete library entry: %w", err)
	}
	logger.Info("library entry deleted", logger.Int64("entryId", entry.ID), logger.Int64("ownerId", ownerID))

	if entry.ArtifactID != nil && s.sweeper != nil {
		// 最后一个引用被删除时立即回收
		if _, err := s.sweeper.ReclaimArtifact(ctx, *entry.ArtifactID); err != nil {
			logger.Warn("failed to reclaim artifact",
				logger.Int64("artifactId", *entry.ArtifactID), logger.ErrorField(err))
		}
	}
	return nil
}

// CheckURLDuplicate tells ownerID whether rawURL is already in their library.
// It is advisory; ingestion checks again.
func (s *Service) CheckURLDuplicate(ctx context.Context, rawURL string, ownerID int64) (*URLCheck, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, invalid("Please provide a URL.")
	}
	an, err := s.resolver.ByURL(ctx, rawURL, ownerID, 0)
	if err != nil {
		return nil, err
	}
	if !an.SameIdentity() {
		return &URLCheck{}, nil
	}
	return &URLCheck{IsDuplicate: true, Artifact: s.store.Summary(an.Artifact)}, nil
}

// Locator is the public retrieval URL for an entry's artifact, or "".
func (s *Service) Locator(entry *model.LibraryEntry) string {
	if entry == nil {
		return ""
	}
	return s.store.PublicLocator(entry.Artifact)
}

// VideoInfo looks up YouTube metadata for videoID.
func (s *Service) VideoInfo(ctx context.Context, videoID string) (*fetcher.Metadata, error) {
	if !fetcher.ValidVideoID(videoID) {
		return nil, invalid("Invalid YouTube video ID")
	}
	if s.meta == nil {
		return nil, mediaerr.New(mediaerr.ExtractionFailed, "YouTube metadata lookup is not configured")
	}
	return s.meta.VideoInfo(ctx, videoID)
}
