// Package app assembles the pipeline's components from configuration.
package app

import (
	"context"
	"fmt"

	"CastShelf/cache"
	"CastShelf/config"
	"CastShelf/core/artifact"
	"CastShelf/core/dedup"
	"CastShelf/core/fetcher"
	"CastShelf/core/ingest"
	"CastShelf/core/jobs"
	"CastShelf/core/library"
	"CastShelf/core/probe"
	"CastShelf/core/sweeper"
	"CastShelf/core/utils"
	"CastShelf/db"
	"CastShelf/logger"
	"CastShelf/repository"
	"CastShelf/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App holds every long-lived component.
type App struct {
	Config *config.Config

	DB      *gorm.DB
	Redis   *redis.Client
	Backend storage.Backend
	Temp    *storage.TempArea
	Queue   jobs.Queue

	Entries      repository.LibraryRepository
	Artifacts    repository.ArtifactRepository
	Store        *artifact.Store
	Sweeper      *sweeper.Sweeper
	Orchestrator *ingest.Orchestrator
	Library      *library.Service
	Worker       *jobs.Worker
}

// New connects to the database, Redis (when a Redis queue is configured)
// and the storage backend, and wires the pipeline on top.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, err
	}
	a.DB = gdb
	if err := db.MigrateSchema(gdb); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.QueueDriver == "redis" {
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		q := jobs.NewRedisQueue(rdb, cfg.QueuePrefix+":jobs")
		if n, err := q.Recover(ctx, cfg.ProcessingLease); err != nil {
			logger.Warn("failed to recover in-flight jobs", logger.ErrorField(err))
		} else if n > 0 {
			logger.Info("recovered in-flight jobs", logger.Int("count", n))
		}
		a.Queue = q
	} else {
		a.Queue = jobs.NewMemoryQueue()
	}

	if a.Backend, err = storage.NewBackend(ctx, cfg); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if a.Temp, err = storage.NewTempArea(cfg.TempDir); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize temp area: %w", err)
	}

	a.Entries = repository.NewGormLibraryRepository(gdb)
	a.Artifacts = repository.NewGormArtifactRepository(gdb)
	resolver := dedup.NewResolver(a.Entries, a.Artifacts)

	runner := utils.ExecRunner{}
	a.Store = artifact.NewStore(a.Backend, a.Artifacts, probe.NewProber(cfg.FFprobePath, runner), cfg.PublicBaseURL)
	a.Sweeper = sweeper.New(a.Entries, a.Artifacts, a.Backend)
	a.Sweeper.SetMinAge(cfg.OrphanMinAge)
	if a.Redis != nil {
		locker := cache.NewRedisLocker(a.Redis, cfg.QueuePrefix, 0)
		a.Store.SetLocker(locker)
		a.Sweeper.SetLocker(locker)
	}

	yt := fetcher.NewYouTubeFetcher(a.Temp, runner, fetcher.YouTubeOptions{
		YtDlpPath:       cfg.YtDlpPath,
		AudioFormat:     cfg.YtDlpAudioFormat,
		ExtractTimeout:  cfg.ExtractTimeout,
		MetadataTimeout: cfg.MetadataTimeout,
	})
	var meta fetcher.MetadataSource = yt
	if a.Redis != nil {
		cached := cache.NewVideoInfoCache(a.Redis, yt, cfg.VideoInfoTTL)
		yt.SetMetadataSource(cached)
		meta = cached
	}
	fetchers := &fetcher.Set{
		Upload: fetcher.UploadFetcher{Temp: a.Temp},
		URL: fetcher.NewURLFetcher(a.Temp, fetcher.URLOptions{
			Timeout:      cfg.DownloadTimeout,
			MaxRedirects: cfg.MaxRedirects,
			MaxBytes:     cfg.MaxDownloadBytes,
		}),
		YouTube: yt,
	}

	a.Orchestrator = ingest.NewOrchestrator(a.Entries, resolver, fetchers, a.Store, a.Queue, cfg.DuplicateGrace, cfg.ProcessingLease)
	a.Library = library.NewService(a.Entries, resolver, a.Store, a.Sweeper, a.Queue, meta)

	a.Worker = jobs.NewWorker(a.Queue, cfg.WorkerConcurrency)
	a.Worker.RecoverStale(cfg.ProcessingLease)
	ingest.RegisterHandlers(a.Worker, a.Orchestrator, a.Sweeper)
	return a, nil
}

// Close releases connections. Safe to call on a partially built App.
func (a *App) Close() {
	if mq, ok := a.Queue.(*jobs.MemoryQueue); ok {
		mq.Stop()
	}
	if a.Redis != nil {
		if err := db.CloseRedis(); err != nil {
			logger.Warn("failed to close Redis", logger.ErrorField(err))
		}
	}
	if a.DB != nil {
		if err := db.CloseGormDB(); err != nil {
			logger.Warn("failed to close database", logger.ErrorField(err))
		}
	}
}
