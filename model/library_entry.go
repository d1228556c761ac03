package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SourceKind is the closed set of ingestion sources.
type SourceKind string

const (
	SourceUpload  SourceKind = "upload"
	SourceURL     SourceKind = "url"
	SourceYouTube SourceKind = "youtube"
)

// ParseSourceKind validates a user-supplied kind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch k := SourceKind(s); k {
	case SourceUpload, SourceURL, SourceYouTube:
		return k, nil
	}
	return "", fmt.Errorf("unknown source kind %q", s)
}

// ProcessingStatus tracks an entry through pending -> processing -> completed|failed.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LibraryEntry is a user's intent to include a piece of content in their library.
type LibraryEntry struct {
	ID                    int64            `json:"id" gorm:"primaryKey;autoIncrement"`
	OwnerID               int64            `json:"ownerId" gorm:"not null;index:idx_owner_source,priority:1"`
	Title                 string           `json:"title" gorm:"size:255"`
	Description           string           `json:"description" gorm:"type:text"`
	SourceKind            SourceKind       `json:"sourceKind" gorm:"size:16;not null"`
	SourceURL             *string          `json:"sourceUrl,omitempty" gorm:"size:2048"`
	SourceURLHash         string           `json:"-" gorm:"size:64;index:idx_owner_source,priority:2"`
	ArtifactID            *int64           `json:"artifactId,omitempty" gorm:"index"`
	Artifact              *Artifact        `json:"artifact,omitempty" gorm:"foreignKey:ArtifactID"`
	IsDuplicate           bool             `json:"isDuplicate" gorm:"not null;default:false"`
	DuplicateDetectedAt   *time.Time       `json:"duplicateDetectedAt,omitempty"`
	Status                ProcessingStatus `json:"status" gorm:"size:16;not null;index"`
	ProcessingStartedAt   *time.Time       `json:"processingStartedAt,omitempty"`
	ClaimToken            string           `json:"-" gorm:"size:36"`
	ProcessingCompletedAt *time.Time       `json:"processingCompletedAt,omitempty"`
	ProcessingError       *string          `json:"processingError,omitempty" gorm:"type:text"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

// TableName 指定表名
func (LibraryEntry) TableName() string {
	return "library_entries"
}

// URL returns the source URL or "" for uploads.
func (e *LibraryEntry) URL() string {
	if e.SourceURL == nil {
		return ""
	}
	return *e.SourceURL
}

// ErrorMessage returns the last recorded processing error, if any.
func (e *LibraryEntry) ErrorMessage() string {
	if e.ProcessingError == nil {
		return ""
	}
	return *e.ProcessingError
}

// URLHash is the indexed stand-in for a source URL: hex sha256, "" for no URL.
// Full URLs exceed the index key limit of MySQL utf8mb4 columns.
func URLHash(url string) string {
	if url == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// LeaseExpired reports whether a processing claim started before now-lease.
func (e *LibraryEntry) LeaseExpired(now time.Time, lease time.Duration) bool {
	if e.ProcessingStartedAt == nil {
		return true
	}
	return !e.ProcessingStartedAt.Add(lease).After(now)
}
