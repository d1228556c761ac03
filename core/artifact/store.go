// Package artifact owns the content-addressed media namespace: it moves
// validated temporary files to media/<fingerprint>.<ext> and keeps exactly
// one artifact record per fingerprint.
package artifact

import (
	"context"
	"strings"

	"CastShelf/core/mediaerr"
	"CastShelf/core/probe"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/repository"
	"CastShelf/storage"
)

// Store commits content into durable storage.
type Store struct {
	backend       storage.Backend
	artifacts     repository.ArtifactRepository
	prober        *probe.Prober
	locker        storage.Locker
	publicBaseURL string
}

// NewStore 创建存储对象管理器
func NewStore(backend storage.Backend, artifacts repository.ArtifactRepository, prober *probe.Prober, publicBaseURL string) *Store {
	if prober == nil {
		prober = probe.NewProber("", nil)
	}
	return &Store{
		backend:       backend,
		artifacts:     artifacts,
		prober:        prober,
		locker:        storage.DefaultLocker(),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// SetLocker replaces the in-process key lock, e.g. with one shared through
// Redis when several processes commit and sweep against the same storage.
func (s *Store) SetLocker(l storage.Locker) {
	if l != nil {
		s.locker = l
	}
}

// Backend exposes the storage the store writes to.
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// CommitRequest describes a fetched and fingerprinted temp file.
type CommitRequest struct {
	TempPath    string
	Fingerprint string
	Extension   string
	SourceURL   string
	OwnerID     int64
}

// Commit makes the content durable. If an artifact with the fingerprint
// already exists, the temp file is discarded and that artifact is returned
// with created=false. The canonical key stays locked from the lookup to the
// insert so an orphan sweep of the same path cannot interleave.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*model.Artifact, bool, error) {
	ext := req.Extension
	if ext == "" {
		ext = "bin"
	}
	key := model.CanonicalPath(req.Fingerprint, ext)

	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, false, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Failed to store file")
	}
	defer unlock()

	existing, err := s.artifacts.GetByFingerprint(ctx, req.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		utils.RemoveFile(req.TempPath)
		return existing, false, nil
	}

	info, err := s.prober.Probe(ctx, req.TempPath)
	if err != nil {
		return nil, false, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Temp file not found or inaccessible")
	}

	if err := s.backend.MoveIn(ctx, req.TempPath, key, info.MimeType); err != nil {
		return nil, false, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Failed to store file")
	}

	candidate := &model.Artifact{
		StoragePath: key,
		Fingerprint: req.Fingerprint,
		MimeType:    info.MimeType,
		Size:        info.Size,
		Duration:    info.Duration,
	}
	if req.SourceURL != "" {
		u := req.SourceURL
		candidate.SourceURL = &u
	}
	if req.OwnerID != 0 {
		owner := req.OwnerID
		candidate.OwnerID = &owner
	}

	a, created, err := s.artifacts.InsertOrGet(ctx, candidate)
	if err != nil {
		s.dropObject(ctx, key)
		return nil, false, err
	}
	if !created {
		// lost the race; identical bytes under a different extension are removed
		if a.StoragePath != key {
			s.dropObject(ctx, key)
		}
		logger.Info("artifact committed concurrently",
			logger.String("fingerprint", req.Fingerprint),
			logger.Int64("artifactId", a.ID))
		return a, false, nil
	}

	logger.Info("artifact created",
		logger.Int64("artifactId", a.ID),
		logger.String("path", key),
		logger.String("mime", info.MimeType),
		logger.Int64("size", info.Size))
	return a, true, nil
}

// dropObject deletes key unless a record still points at it.
func (s *Store) dropObject(ctx context.Context, key string) {
	if used, err := s.artifacts.ExistsByStoragePath(ctx, key); err != nil || used {
		return
	}
	if err := s.backend.Delete(ctx, key); err != nil {
		logger.Warn("failed to remove stray object", logger.String("path", key), logger.ErrorField(err))
	}
}

// BackfillURL records url as the artifact's origin if none is known yet.
func (s *Store) BackfillURL(ctx context.Context, a *model.Artifact, url string) error {
	if a == nil || url == "" || a.HasSourceURL() {
		return nil
	}
	ok, err := s.artifacts.BackfillSourceURL(ctx, a.ID, url)
	if err != nil {
		return err
	}
	if ok {
		a.SourceURL = &url
	}
	return nil
}

// PublicLocator is the public retrieval URL of an artifact.
func (s *Store) PublicLocator(a *model.Artifact) string {
	if a == nil {
		return ""
	}
	return s.publicBaseURL + "/" + a.StoragePath
}

// Summary is the read-only projection used by the pre-check surface.
func (s *Store) Summary(a *model.Artifact) *model.ArtifactSummary {
	if a == nil {
		return nil
	}
	return &model.ArtifactSummary{
		ID:        a.ID,
		MimeType:  a.MimeType,
		Size:      a.Size,
		Duration:  a.Duration,
		PublicURL: s.PublicLocator(a),
	}
}
