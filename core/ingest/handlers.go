package ingest

import (
	"context"
	"fmt"

	"CastShelf/core/jobs"
	"CastShelf/core/sweeper"
	"CastShelf/logger"
)

// RegisterHandlers binds the pipeline's job types to w.
func RegisterHandlers(w *jobs.Worker, o *Orchestrator, s *sweeper.Sweeper) {
	w.Handle(jobs.TypeIngest, func(ctx context.Context, job *jobs.Job) error {
		var p jobs.IngestPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		out := o.Run(ctx, p.EntryID, p.UploadPath)
		if out.RetryAfter > 0 {
			if err := o.Redeliver(ctx, p.EntryID, p.UploadPath, out.RetryAfter); err != nil {
				return fmt.Errorf("redeliver entry %d: %w", p.EntryID, err)
			}
		}
		logger.Debug("ingest job finished",
			logger.Int64("entryId", out.EntryID),
			logger.String("code", string(out.Code)))
		return nil
	})

	w.Handle(jobs.TypeCleanupDuplicate, func(ctx context.Context, job *jobs.Job) error {
		var p jobs.CleanupPayload
		if err := job.Decode(&p); err != nil {
			return err
		}
		_, err := s.ExpireDuplicate(ctx, p.EntryID)
		return err
	})

	w.Handle(jobs.TypeSweepOrphans, func(ctx context.Context, job *jobs.Job) error {
		report, err := s.ReclaimOrphans(ctx, false)
		if err != nil {
			return fmt.Errorf("sweep orphans: %w", err)
		}
		logger.Info("orphan sweep job finished",
			logger.Int("scanned", report.Scanned),
			logger.Int("reclaimed", report.Reclaimed))
		return nil
	})
}
