package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"CastShelf/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ArtifactRepository 存储对象数据访问接口
type ArtifactRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Artifact, error)
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.Artifact, error)
	GetBySourceURL(ctx context.Context, url string) (*model.Artifact, error)
	ExistsByStoragePath(ctx context.Context, path string) (bool, error)

	InsertOrGet(ctx context.Context, artifact *model.Artifact) (*model.Artifact, bool, error)
	BackfillSourceURL(ctx context.Context, id int64, url string) (bool, error)

	FindOrphans(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Artifact, error)
	DeleteIfUnreferenced(ctx context.Context, id int64) (bool, error)
}

type gormArtifactRepository struct {
	db *gorm.DB
}

// NewGormArtifactRepository 创建 GORM 存储对象仓库
func NewGormArtifactRepository(db *gorm.DB) ArtifactRepository {
	return &gormArtifactRepository{db: db}
}

func (r *gormArtifactRepository) first(ctx context.Context, query string, args ...interface{}) (*model.Artifact, error) {
	var a model.Artifact
	err := r.db.WithContext(ctx).Where(query, args...).Order("id ASC").First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *gormArtifactRepository) GetByID(ctx context.Context, id int64) (*model.Artifact, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *gormArtifactRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*model.Artifact, error) {
	return r.first(ctx, "fingerprint = ?", fingerprint)
}

// GetBySourceURL returns the earliest artifact first seen at url.
func (r *gormArtifactRepository) GetBySourceURL(ctx context.Context, url string) (*model.Artifact, error) {
	if url == "" {
		return nil, nil
	}
	return r.first(ctx, "source_url_hash = ? AND source_url = ?", model.URLHash(url), url)
}

func (r *gormArtifactRepository) ExistsByStoragePath(ctx context.Context, path string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("storage_path = ?", path).
		Count(&count).Error
	return count > 0, err
}

// InsertOrGet inserts artifact unless one with the same fingerprint exists.
// The unique index on fingerprint decides races; the loser gets the winner's
// row and created=false.
func (r *gormArtifactRepository) InsertOrGet(ctx context.Context, artifact *model.Artifact) (*model.Artifact, bool, error) {
	if artifact.SourceURL != nil {
		artifact.SourceURLHash = model.URLHash(*artifact.SourceURL)
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(artifact)
	if res.Error != nil {
		return nil, false, fmt.Errorf("insert artifact: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return artifact, true, nil
	}

	existing, err := r.GetByFingerprint(ctx, artifact.Fingerprint)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("artifact %s conflicted but is not visible", artifact.Fingerprint)
	}
	return existing, false, nil
}

// BackfillSourceURL sets the originating URL only if none is recorded.
func (r *gormArtifactRepository) BackfillSourceURL(ctx context.Context, id int64, url string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Artifact{}).
		Where("id = ? AND (source_url IS NULL OR source_url = '')", id).
		Updates(map[string]interface{}{
			"source_url":      url,
			"source_url_hash": model.URLHash(url),
		})
	return res.RowsAffected > 0, res.Error
}

const unreferenced = "NOT EXISTS (SELECT 1 FROM library_entries WHERE library_entries.artifact_id = artifacts.id)"

// FindOrphans lists artifacts no library entry points at. A non-zero
// createdBefore leaves younger artifacts alone: a fresh commit is unreferenced
// until its entry is linked.
func (r *gormArtifactRepository) FindOrphans(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Artifact, error) {
	var orphans []*model.Artifact
	q := r.db.WithContext(ctx).Where(unreferenced).Order("id ASC")
	if !createdBefore.IsZero() {
		q = q.Where("created_at < ?", createdBefore)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orphans).Error; err != nil {
		return nil, err
	}
	return orphans, nil
}

// DeleteIfUnreferenced deletes the artifact row only if it still has no
// referencing entries at the moment of the delete.
func (r *gormArtifactRepository) DeleteIfUnreferenced(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ?", id).
		Where(unreferenced).
		Delete(&model.Artifact{})
	return res.RowsAffected > 0, res.Error
}
