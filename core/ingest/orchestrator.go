// Package ingest drives a library entry from pending to a terminal state:
// resolve by URL, fetch, fingerprint, resolve again, commit and link.
package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"CastShelf/core/artifact"
	"CastShelf/core/dedup"
	"CastShelf/core/fetcher"
	"CastShelf/core/hasher"
	"CastShelf/core/jobs"
	"CastShelf/core/mediaerr"
	"CastShelf/core/metrics"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/repository"
)

const (
	// DefaultDuplicateGrace is how long a same-owner duplicate entry stays visible.
	DefaultDuplicateGrace = 5 * time.Minute

	// DefaultProcessingLease is how long a claim on an entry stays exclusive.
	// A delivery finding a live claim is deferred; after the lease another
	// delivery may take the entry over.
	DefaultProcessingLease = 15 * time.Minute

	minRetryDelay = time.Second
)

// Code tells the presentation layer what happened to an ingestion.
type Code string

const (
	CodeCreated              Code = "created"
	CodeDuplicateOwnEntry    Code = "duplicate_own_entry"
	CodeLinkedOwnArtifact    Code = "linked_own_artifact"
	CodeLinkedSharedArtifact Code = "linked_shared_artifact"
	CodeFailed               Code = "failed"
	CodeSkipped              Code = "skipped"
)

var messages = map[Code]string{
	CodeCreated:              "Media file processed successfully.",
	CodeDuplicateOwnEntry:    "This media file is already in your library.",
	CodeLinkedOwnArtifact:    "Media file already exists. Added to your library.",
	CodeLinkedSharedArtifact: "Media file already exists. Added to your library.",
	CodeSkipped:              "Entry is no longer awaiting processing.",
}

// Outcome is the structured result of one ingestion attempt.
type Outcome struct {
	EntryID     int64                  `json:"entryId"`
	Status      model.ProcessingStatus `json:"status"`
	Disposition dedup.Disposition      `json:"-"`
	Code        Code                   `json:"code"`
	Message     string                 `json:"message"`
	ArtifactID  int64                  `json:"artifactId,omitempty"`

	// RetryAfter is set when another delivery holds the entry; the job
	// should be delivered again after it.
	RetryAfter time.Duration `json:"-"`
}

// Scheduler delivers a job after a delay, at least once.
type Scheduler interface {
	EnqueueDelayed(ctx context.Context, job *jobs.Job, delay time.Duration) error
}

// Orchestrator 媒体获取编排器
type Orchestrator struct {
	entries   repository.LibraryRepository
	resolver  *dedup.Resolver
	fetchers  *fetcher.Set
	store     *artifact.Store
	scheduler Scheduler
	grace     time.Duration
	lease     time.Duration
}

// NewOrchestrator wires the acquisition pipeline. grace <= 0 uses
// DefaultDuplicateGrace and lease <= 0 DefaultProcessingLease.
func NewOrchestrator(
	entries repository.LibraryRepository,
	resolver *dedup.Resolver,
	fetchers *fetcher.Set,
	store *artifact.Store,
	scheduler Scheduler,
	grace time.Duration,
	lease time.Duration,
) *Orchestrator {
	if grace <= 0 {
		grace = DefaultDuplicateGrace
	}
	if lease <= 0 {
		lease = DefaultProcessingLease
	}
	return &Orchestrator{
		entries:   entries,
		resolver:  resolver,
		fetchers:  fetchers,
		store:     store,
		scheduler: scheduler,
		grace:     grace,
		lease:     lease,
	}
}

// Run processes one entry. uploadPath is the temp-uploads file for upload
// sources and empty otherwise. Failures are recorded on the entry and never
// returned. Every transition after the claim is bound to its token, so a
// second delivery of the same entry can neither finish nor fail it. A
// cancelled ctx hands the entry back to pending for the queue to redeliver.
func (o *Orchestrator) Run(ctx context.Context, entryID int64, uploadPath string) (out Outcome) {
	var (
		kind  model.SourceKind
		token string
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("ingestion panicked",
				logger.Int64("entryId", entryID),
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())))
			utils.RemoveFile(uploadPath)
			out = o.fail(ctx, entryID, token, kind, mediaerr.New(mediaerr.Unexpected, "Processing failed: %v", r))
		}
	}()

	entry, err := o.entries.GetByID(ctx, entryID)
	if err != nil {
		return o.fail(ctx, entryID, "", "", mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
	}
	if entry == nil {
		utils.RemoveFile(uploadPath)
		return o.skipped(entryID, "entry not found")
	}
	kind = entry.SourceKind

	token, err = o.entries.Claim(ctx, entry.ID, o.lease)
	if err != nil {
		return o.fail(ctx, entry.ID, "", kind, mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
	}
	if token == "" {
		return o.notClaimed(ctx, entry.ID, uploadPath)
	}
	logger.Info("ingestion started",
		logger.Int64("entryId", entry.ID),
		logger.Int64("ownerId", entry.OwnerID),
		logger.String("source", string(kind)))

	// 下载前先按 URL 查重
	if kind != model.SourceUpload && entry.URL() != "" {
		an, err := o.resolver.ByURL(ctx, entry.URL(), entry.OwnerID, entry.ID)
		if err != nil {
			utils.RemoveFile(uploadPath)
			return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
		}
		if !an.CreateNew() {
			return o.link(ctx, entry, token, an, nil)
		}
	}

	f, err := o.fetchers.For(kind)
	if err != nil {
		utils.RemoveFile(uploadPath)
		return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.InvalidSource, err, "Unsupported source type"))
	}
	fetchStart := time.Now()
	res, err := f.Fetch(ctx, fetcher.Source{Kind: kind, URL: entry.URL(), UploadPath: uploadPath})
	metrics.ObserveFetch(string(kind), fetchStart)
	if err != nil {
		if ctx.Err() != nil {
			return o.interrupted(ctx, entry.ID, token, ctx.Err())
		}
		metrics.FetchFailuresTotal.WithLabelValues(string(mediaerr.KindOf(err))).Inc()
		return o.fail(ctx, entry.ID, token, kind, err)
	}
	defer res.Cleanup()

	fingerprint, err := hasher.HashFile(res.Path)
	if err != nil {
		return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Temp file not found or inaccessible"))
	}

	// 下载后按内容指纹再查一次
	an, err := o.resolver.ByFingerprint(ctx, fingerprint, entry.OwnerID, entry.ID)
	if err != nil {
		return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
	}
	if !an.CreateNew() {
		res.Cleanup()
		if an.SameIdentity() {
			if err := o.store.BackfillURL(ctx, an.Artifact, entry.URL()); err != nil {
				logger.Warn("failed to backfill source url",
					logger.Int64("artifactId", an.Artifact.ID), logger.ErrorField(err))
			}
		}
		return o.link(ctx, entry, token, an, res.Metadata)
	}

	a, created, err := o.store.Commit(ctx, artifact.CommitRequest{
		TempPath:    res.Path,
		Fingerprint: fingerprint,
		Extension:   res.Extension,
		SourceURL:   entry.URL(),
		OwnerID:     entry.OwnerID,
	})
	if err != nil {
		return o.fail(ctx, entry.ID, token, kind, err)
	}
	if !created {
		// another ingestion committed the same bytes first
		an, err = o.resolver.ByFingerprint(ctx, fingerprint, entry.OwnerID, entry.ID)
		if err != nil {
			return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
		}
		if an.CreateNew() {
			an = dedup.Analysis{Disposition: dedup.LinkToForeignArtifact, Artifact: a}
		}
		return o.link(ctx, entry, token, an, res.Metadata)
	}

	return o.link(ctx, entry, token, dedup.Analysis{Disposition: dedup.CreateNew, Artifact: a}, res.Metadata)
}

// notClaimed handles a delivery that lost the claim. While another delivery
// holds a live claim the upload is kept and the job deferred; a gone or
// finished entry needs nothing more.
func (o *Orchestrator) notClaimed(ctx context.Context, entryID int64, uploadPath string) Outcome {
	current, err := o.entries.GetByID(ctx, entryID)
	if err != nil {
		return o.deferred(entryID, minRetryDelay, "entry lookup failed: "+err.Error())
	}
	if current != nil && current.Status == model.StatusProcessing {
		retry := minRetryDelay
		if !current.LeaseExpired(time.Now(), o.lease) {
			if d := time.Until(current.ProcessingStartedAt.Add(o.lease)); d > retry {
				retry = d
			}
		}
		return o.deferred(entryID, retry, "entry claimed by another delivery")
	}
	utils.RemoveFile(uploadPath)
	if current == nil {
		return o.skipped(entryID, "entry not found")
	}
	return o.skipped(entryID, "entry already "+string(current.Status))
}

// link completes entry against the analysed artifact. Only an entry that
// repeats one the owner already has is flagged and scheduled for removal.
func (o *Orchestrator) link(ctx context.Context, entry *model.LibraryEntry, token string, an dedup.Analysis, meta *fetcher.Metadata) Outcome {
	kind := entry.SourceKind
	duplicate := an.LinkToOwnDuplicateEntry()

	ok, err := o.entries.LinkArtifact(ctx, entry.ID, token, an.Artifact.ID, duplicate)
	if err != nil {
		return o.fail(ctx, entry.ID, token, kind, mediaerr.Wrap(mediaerr.Unexpected, err, "Processing failed"))
	}
	if !ok {
		current, err := o.entries.GetByID(ctx, entry.ID)
		if err == nil && (current == nil || current.Status.Terminal() || current.ClaimToken != token) {
			return o.skipped(entry.ID, "entry changed during processing")
		}
		return o.fail(ctx, entry.ID, token, kind,
			mediaerr.New(mediaerr.StorageUnavailable, "Processing failed: stored file was removed before it could be linked"))
	}

	if kind == model.SourceYouTube {
		o.backfillYouTube(ctx, entry, meta)
	}

	if duplicate {
		o.scheduleCleanup(ctx, entry.ID)
	}

	code := CodeCreated
	switch an.Disposition {
	case dedup.LinkToOwnDuplicateEntry:
		code = CodeDuplicateOwnEntry
	case dedup.LinkToOwnArtifactOnly:
		code = CodeLinkedOwnArtifact
	case dedup.LinkToForeignArtifact:
		code = CodeLinkedSharedArtifact
	}
	metrics.IngestionsTotal.WithLabelValues(string(kind), string(code)).Inc()
	logger.Info("ingestion completed",
		logger.Int64("entryId", entry.ID),
		logger.Int64("artifactId", an.Artifact.ID),
		logger.String("disposition", an.Disposition.String()),
		logger.Bool("duplicate", duplicate))

	return Outcome{
		EntryID:     entry.ID,
		Status:      model.StatusCompleted,
		Disposition: an.Disposition,
		Code:        code,
		Message:     messages[code],
		ArtifactID:  an.Artifact.ID,
	}
}

// backfillYouTube fills an untitled entry from the extraction metadata,
// falling back to the video ID. A title the user typed is never replaced.
func (o *Orchestrator) backfillYouTube(ctx context.Context, entry *model.LibraryEntry, meta *fetcher.Metadata) {
	if entry.Title != "" {
		return
	}
	var title, description string
	if meta != nil {
		title, description = meta.Title, meta.Description
		if title == "" {
			title = meta.VideoID
		}
	}
	if title == "" {
		if id, err := fetcher.ExtractVideoID(entry.URL()); err == nil {
			title = id
		}
	}
	if title == "" {
		return
	}
	if err := o.entries.BackfillMetadata(ctx, entry.ID, title, description); err != nil {
		logger.Warn("failed to backfill youtube metadata", logger.Int64("entryId", entry.ID), logger.ErrorField(err))
	}
}

func (o *Orchestrator) scheduleCleanup(ctx context.Context, entryID int64) {
	if o.scheduler == nil {
		return
	}
	job, err := jobs.NewJob(jobs.TypeCleanupDuplicate, jobs.CleanupPayload{EntryID: entryID})
	if err == nil {
		err = o.scheduler.EnqueueDelayed(ctx, job, o.grace)
	}
	if err != nil {
		logger.Warn("failed to schedule duplicate cleanup", logger.Int64("entryId", entryID), logger.ErrorField(err))
		return
	}
	logger.Info("duplicate cleanup scheduled",
		logger.Int64("entryId", entryID),
		logger.Duration("grace", o.grace))
}

// Redeliver queues the ingestion of entryID again after delay.
func (o *Orchestrator) Redeliver(ctx context.Context, entryID int64, uploadPath string, delay time.Duration) error {
	if o.scheduler == nil {
		return fmt.Errorf("no scheduler to redeliver entry %d", entryID)
	}
	job, err := jobs.NewJob(jobs.TypeIngest, jobs.IngestPayload{EntryID: entryID, UploadPath: uploadPath})
	if err != nil {
		return err
	}
	return o.scheduler.EnqueueDelayed(ctx, job, delay)
}

// fail records err on the entry held under token. A cancelled ctx means
// shutdown, and the entry is released for redelivery instead.
func (o *Orchestrator) fail(ctx context.Context, entryID int64, token string, kind model.SourceKind, err error) Outcome {
	msg := mediaerr.UserMessage(err)
	logger.Error("ingestion failed",
		logger.Int64("entryId", entryID),
		logger.String("kind", string(mediaerr.KindOf(err))),
		logger.ErrorField(err))

	if ctx.Err() != nil {
		return o.interrupted(ctx, entryID, token, ctx.Err())
	}
	if _, dbErr := o.entries.MarkFailed(ctx, entryID, token, msg); dbErr != nil {
		logger.Error("failed to record ingestion failure", logger.Int64("entryId", entryID), logger.ErrorField(dbErr))
	}

	metrics.IngestionsTotal.WithLabelValues(string(kind), string(CodeFailed)).Inc()
	return Outcome{EntryID: entryID, Status: model.StatusFailed, Code: CodeFailed, Message: msg}
}

func (o *Orchestrator) interrupted(ctx context.Context, entryID int64, token string, err error) Outcome {
	logger.Warn("ingestion interrupted", logger.Int64("entryId", entryID), logger.ErrorField(err))
	status := model.StatusProcessing
	if token != "" {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if ok, relErr := o.entries.Release(releaseCtx, entryID, token); relErr != nil {
			logger.Warn("failed to release entry", logger.Int64("entryId", entryID), logger.ErrorField(relErr))
		} else if ok {
			status = model.StatusPending
		}
	}
	return Outcome{
		EntryID: entryID,
		Status:  status,
		Code:    CodeSkipped,
		Message: fmt.Sprintf("Processing interrupted: %v", err),
	}
}

func (o *Orchestrator) deferred(entryID int64, retry time.Duration, reason string) Outcome {
	logger.Info("ingestion deferred",
		logger.Int64("entryId", entryID),
		logger.String("reason", reason),
		logger.Duration("retryAfter", retry))
	return Outcome{
		EntryID:    entryID,
		Status:     model.StatusProcessing,
		Code:       CodeSkipped,
		Message:    messages[CodeSkipped],
		RetryAfter: retry,
	}
}

func (o *Orchestrator) skipped(entryID int64, reason string) Outcome {
	logger.Info("ingestion skipped", logger.Int64("entryId", entryID), logger.String("reason", reason))
	return Outcome{EntryID: entryID, Code: CodeSkipped, Message: messages[CodeSkipped]}
}
