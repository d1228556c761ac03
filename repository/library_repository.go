package repository

import (
	"context"
	"errors"
	"time"

	"CastShelf/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LibraryRepository 媒体库条目数据访问接口
type LibraryRepository interface {
	Create(ctx context.Context, entry *model.LibraryEntry) error
	GetByID(ctx context.Context, id int64) (*model.LibraryEntry, error)
	ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*model.LibraryEntry, error)
	Delete(ctx context.Context, id int64) error

	// 去重查询
	FindOwnEntryByURL(ctx context.Context, ownerID int64, url string, excludeID int64) (*model.LibraryEntry, error)
	FindOwnEntryByFingerprint(ctx context.Context, ownerID int64, fingerprint string, excludeID int64) (*model.LibraryEntry, error)
	CountByArtifact(ctx context.Context, artifactID int64) (int64, error)

	// 状态流转，均为条件更新
	Claim(ctx context.Context, id int64, lease time.Duration) (string, error)
	Release(ctx context.Context, id int64, token string) (bool, error)
	LinkArtifact(ctx context.Context, id int64, token string, artifactID int64, duplicate bool) (bool, error)
	MarkFailed(ctx context.Context, id int64, token, message string) (bool, error)
	BackfillMetadata(ctx context.Context, id int64, title, description string) error
	DeleteIfDuplicate(ctx context.Context, id int64) (bool, error)
}

type gormLibraryRepository struct {
	db *gorm.DB
}

// NewGormLibraryRepository 创建 GORM 媒体库仓库
func NewGormLibraryRepository(db *gorm.DB) LibraryRepository {
	return &gormLibraryRepository{db: db}
}

func (r *gormLibraryRepository) Create(ctx context.Context, entry *model.LibraryEntry) error {
	if entry.Status == "" {
		entry.Status = model.StatusPending
	}
	entry.SourceURLHash = model.URLHash(entry.URL())
	return r.db.WithContext(ctx).Omit("Artifact").Create(entry).Error
}

// GetByID returns the entry with its artifact preloaded, or nil.
func (r *gormLibraryRepository) GetByID(ctx context.Context, id int64) (*model.LibraryEntry, error) {
	var entry model.LibraryEntry
	err := r.db.WithContext(ctx).Preload("Artifact").First(&entry, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *gormLibraryRepository) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*model.LibraryEntry, error) {
	var entries []*model.LibraryEntry
	q := r.db.WithContext(ctx).Preload("Artifact").
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *gormLibraryRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&model.LibraryEntry{}, id).Error
}

// FindOwnEntryByURL finds an entry of ownerID with the same source URL that
// is already linked to an artifact.
func (r *gormLibraryRepository) FindOwnEntryByURL(ctx context.Context, ownerID int64, url string, excludeID int64) (*model.LibraryEntry, error) {
	var entry model.LibraryEntry
	err := r.db.WithContext(ctx).Preload("Artifact").
		Where("owner_id = ? AND source_url_hash = ? AND source_url = ?", ownerID, model.URLHash(url), url).
		Where("artifact_id IS NOT NULL AND id <> ?", excludeID).
		Order("id ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// FindOwnEntryByFingerprint finds an entry of ownerID linked to the artifact
// holding fingerprint.
func (r *gormLibraryRepository) FindOwnEntryByFingerprint(ctx context.Context, ownerID int64, fingerprint string, excludeID int64) (*model.LibraryEntry, error) {
	var entry model.LibraryEntry
	err := r.db.WithContext(ctx).Preload("Artifact").
		Joins("JOIN artifacts ON artifacts.id = library_entries.artifact_id").
		Where("library_entries.owner_id = ? AND artifacts.fingerprint = ? AND library_entries.id <> ?", ownerID, fingerprint, excludeID).
		Order("library_entries.id ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *gormLibraryRepository) CountByArtifact(ctx context.Context, artifactID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.LibraryEntry{}).
		Where("artifact_id = ?", artifactID).
		Count(&count).Error
	return count, err
}

// Claim moves an entry to processing under a fresh claim token. Pending
// entries are always claimable; a processing entry only once its previous
// claim is older than lease. It returns "" when the entry is gone, terminal or
// held by a live claim.
func (r *gormLibraryRepository) Claim(ctx context.Context, id int64, lease time.Duration) (string, error) {
	now := time.Now()
	token := uuid.New().String()
	res := r.db.WithContext(ctx).Model(&model.LibraryEntry{}).
		Where("id = ?", id).
		Where("(status = ? OR (status = ? AND (processing_started_at IS NULL OR processing_started_at < ?)))",
			model.StatusPending, model.StatusProcessing, now.Add(-lease)).
		Updates(map[string]interface{}{
			"status":                model.StatusProcessing,
			"claim_token":           token,
			"processing_started_at": now,
			"processing_error":      nil,
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", nil
	}
	return token, nil
}

// Release hands a claimed entry back to pending so the next delivery can
// pick it up at once.
func (r *gormLibraryRepository) Release(ctx context.Context, id int64, token string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.LibraryEntry{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, model.StatusProcessing, token).
		Updates(map[string]interface{}{
			"status":                model.StatusPending,
			"claim_token":           "",
			"processing_started_at": nil,
		})
	return res.RowsAffected > 0, res.Error
}

// LinkArtifact completes the entry held under token against artifactID. The
// update only applies while the artifact row still exists, so a concurrent
// orphan sweep cannot leave the entry pointing at a deleted artifact.
func (r *gormLibraryRepository) LinkArtifact(ctx context.Context, id int64, token string, artifactID int64, duplicate bool) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"artifact_id":             artifactID,
		"is_duplicate":            duplicate,
		"status":                  model.StatusCompleted,
		"claim_token":             "",
		"processing_completed_at": now,
		"processing_error":        nil,
	}
	if duplicate {
		updates["duplicate_detected_at"] = now
	}
	res := r.db.WithContext(ctx).Model(&model.LibraryEntry{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, model.StatusProcessing, token).
		Where("EXISTS (SELECT 1 FROM artifacts WHERE artifacts.id = ?)", artifactID).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// MarkFailed records a terminal failure. With a token it only applies to the
// entry held under that claim; without one only to a pending entry.
func (r *gormLibraryRepository) MarkFailed(ctx context.Context, id int64, token, message string) (bool, error) {
	q := r.db.WithContext(ctx).Model(&model.LibraryEntry{}).Where("id = ?", id)
	if token == "" {
		q = q.Where("status = ?", model.StatusPending)
	} else {
		q = q.Where("status = ? AND claim_token = ?", model.StatusProcessing, token)
	}
	res := q.Updates(map[string]interface{}{
		"status":                  model.StatusFailed,
		"claim_token":             "",
		"processing_error":        message,
		"processing_completed_at": time.Now(),
	})
	return res.RowsAffected > 0, res.Error
}

// BackfillMetadata sets title and description only when the entry has no title.
func (r *gormLibraryRepository) BackfillMetadata(ctx context.Context, id int64, title, description string) error {
	return r.db.WithContext(ctx).Model(&model.LibraryEntry{}).
		Where("id = ? AND (title IS NULL OR title = '')", id).
		Updates(map[string]interface{}{
			"title":       title,
			"description": description,
		}).Error
}

// DeleteIfDuplicate removes the entry only while it is still flagged.
func (r *gormLibraryRepository) DeleteIfDuplicate(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND is_duplicate = ?", id, true).
		Delete(&model.LibraryEntry{})
	return res.RowsAffected > 0, res.Error
}
