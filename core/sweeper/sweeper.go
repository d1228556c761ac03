// Package sweeper reclaims artifacts nothing references any more and
// removes duplicate library entries once their grace window has passed.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CastShelf/core/metrics"
	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/repository"
	"CastShelf/storage"
)

const (
	defaultBatchSize = 100

	// DefaultMinAge keeps freshly committed artifacts out of orphan sweeps
	// until their entry has had time to link.
	DefaultMinAge = 10 * time.Minute
)

// Report summarises one orphan pass.
type Report struct {
	Scanned   int
	Reclaimed int
	Skipped   int
	Orphans   []*model.Artifact // dry runs only
}

// Sweeper 清理服务
type Sweeper struct {
	entries   repository.LibraryRepository
	artifacts repository.ArtifactRepository
	backend   storage.Backend
	locker    storage.Locker
	batchSize int
	minAge    time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New 创建清理服务
func New(entries repository.LibraryRepository, artifacts repository.ArtifactRepository, backend storage.Backend) *Sweeper {
	return &Sweeper{
		entries:   entries,
		artifacts: artifacts,
		backend:   backend,
		locker:    storage.DefaultLocker(),
		batchSize: defaultBatchSize,
		minAge:    DefaultMinAge,
		stopChan:  make(chan struct{}),
	}
}

// SetLocker must be given the same Locker as the artifact store.
func (s *Sweeper) SetLocker(l storage.Locker) {
	if l != nil {
		s.locker = l
	}
}

// SetMinAge sets how old an unreferenced artifact must be before an orphan
// pass reclaims it. Zero reclaims regardless of age.
func (s *Sweeper) SetMinAge(d time.Duration) {
	if d >= 0 {
		s.minAge = d
	}
}

func (s *Sweeper) cutoff() time.Time {
	if s.minAge <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-s.minAge)
}

// ReclaimOrphans deletes every unreferenced artifact older than the minimum
// age and its stored object. An artifact that gains a reference before its
// delete is left alone.
func (s *Sweeper) ReclaimOrphans(ctx context.Context, dryRun bool) (Report, error) {
	var report Report
	if dryRun {
		orphans, err := s.artifacts.FindOrphans(ctx, s.cutoff(), 0)
		if err != nil {
			return report, fmt.Errorf("find orphans: %w", err)
		}
		report.Scanned = len(orphans)
		report.Orphans = orphans
		return report, nil
	}

	seen := make(map[int64]bool)
	cutoff := s.cutoff()

	for {
		orphans, err := s.artifacts.FindOrphans(ctx, cutoff, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("find orphans: %w", err)
		}

		progressed := false
		for _, a := range orphans {
			if seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			progressed = true
			report.Scanned++

			ok, err := s.reclaim(ctx, a)
			if err != nil {
				return report, err
			}
			if ok {
				report.Reclaimed++
			} else {
				report.Skipped++
			}
		}
		if !progressed || len(orphans) < s.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}

	if report.Scanned > 0 {
		logger.Info("orphan sweep finished",
			logger.Int("scanned", report.Scanned),
			logger.Int("reclaimed", report.Reclaimed),
			logger.Int("skipped", report.Skipped))
	}
	return report, nil
}

// ReclaimArtifact removes a single artifact if it is unreferenced. It is
// called right after an entry is deleted, so no minimum age applies.
func (s *Sweeper) ReclaimArtifact(ctx context.Context, artifactID int64) (bool, error) {
	refs, err := s.entries.CountByArtifact(ctx, artifactID)
	if err != nil {
		return false, fmt.Errorf("count references of artifact %d: %w", artifactID, err)
	}
	if refs > 0 {
		logger.Debug("artifact still referenced, kept",
			logger.Int64("artifactId", artifactID),
			logger.Int64("references", refs))
		return false, nil
	}
	a, err := s.artifacts.GetByID(ctx, artifactID)
	if err != nil || a == nil {
		return false, err
	}
	return s.reclaim(ctx, a)
}

// reclaim holds the storage key lock across the row delete, the path
// recheck and the object delete; Store.Commit takes the same lock.
func (s *Sweeper) reclaim(ctx context.Context, a *model.Artifact) (bool, error) {
	unlock, err := s.locker.Lock(ctx, a.StoragePath)
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", a.StoragePath, err)
	}
	defer unlock()

	deleted, err := s.artifacts.DeleteIfUnreferenced(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("delete artifact %d: %w", a.ID, err)
	}
	if !deleted {
		logger.Debug("artifact gained a reference, kept", logger.Int64("artifactId", a.ID))
		return false, nil
	}

	// a fresh commit of the same content may already own the path again
	if used, err := s.artifacts.ExistsByStoragePath(ctx, a.StoragePath); err != nil {
		return true, fmt.Errorf("recheck %s: %w", a.StoragePath, err)
	} else if used {
		return true, nil
	}
	if err := s.backend.Delete(ctx, a.StoragePath); err != nil {
		logger.Error("failed to delete stored object",
			logger.Int64("artifactId", a.ID),
			logger.String("path", a.StoragePath),
			logger.ErrorField(err))
		return true, nil
	}

	metrics.OrphansReclaimedTotal.Inc()
	logger.Info("artifact reclaimed",
		logger.Int64("artifactId", a.ID),
		logger.String("path", a.StoragePath))
	return true, nil
}

// ExpireDuplicate deletes the entry if it is still flagged as a duplicate.
func (s *Sweeper) ExpireDuplicate(ctx context.Context, entryID int64) (bool, error) {
	deleted, err := s.entries.DeleteIfDuplicate(ctx, entryID)
	if err != nil {
		return false, fmt.Errorf("expire duplicate entry %d: %w", entryID, err)
	}
	if deleted {
		metrics.DuplicatesExpiredTotal.Inc()
		logger.Info("duplicate entry expired", logger.Int64("entryId", entryID))
	} else {
		logger.Debug("entry no longer a duplicate, kept", logger.Int64("entryId", entryID))
	}
	return deleted, nil
}

// Start runs ReclaimOrphans every interval until Stop.
func (s *Sweeper) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	logger.Info("starting sweeper", logger.Duration("interval", interval))
	s.wg.Add(1)
	go s.loop(interval)
}

// Stop 停止清理服务
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Sweeper) loop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopChan
		cancel()
	}()

	for {
		select {
		case <-s.stopChan:
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.ReclaimOrphans(ctx, false); err != nil && ctx.Err() == nil {
				logger.Error("orphan sweep failed", logger.ErrorField(err))
			}
		}
	}
}
