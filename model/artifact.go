package model

import (
	"fmt"
	"time"
)

// MediaPrefix is the canonical namespace for committed content.
const MediaPrefix = "media"

// Artifact is the single durable stored object for one distinct piece of content.
// Fingerprint is unique system-wide and never changes after creation.
type Artifact struct {
	ID            int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	StoragePath   string    `json:"storagePath" gorm:"size:191;uniqueIndex;not null"`
	Fingerprint   string    `json:"fingerprint" gorm:"size:64;uniqueIndex;not null"`
	MimeType      string    `json:"mimeType" gorm:"size:127"`
	Size          int64     `json:"size"`
	Duration      *float64  `json:"duration,omitempty"` // seconds
	SourceURL     *string   `json:"sourceUrl,omitempty" gorm:"size:2048"`
	SourceURLHash string    `json:"-" gorm:"size:64;index"`
	OwnerID       *int64    `json:"ownerId,omitempty" gorm:"index"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName 指定表名
func (Artifact) TableName() string {
	return "artifacts"
}

// CanonicalPath derives media/<fingerprint>.<extension>.
func CanonicalPath(fingerprint, extension string) string {
	return fmt.Sprintf("%s/%s.%s", MediaPrefix, fingerprint, extension)
}

// OwnedBy reports whether the artifact was first committed by ownerID.
func (a *Artifact) OwnedBy(ownerID int64) bool {
	return a != nil && a.OwnerID != nil && *a.OwnerID == ownerID
}

// HasSourceURL reports whether an originating URL is recorded.
func (a *Artifact) HasSourceURL() bool {
	return a != nil && a.SourceURL != nil && *a.SourceURL != ""
}

// ArtifactSummary is the read-only view returned by the pre-check surface.
type ArtifactSummary struct {
	ID        int64    `json:"id"`
	MimeType  string   `json:"mimeType"`
	Size      int64    `json:"size"`
	Duration  *float64 `json:"duration,omitempty"`
	PublicURL string   `json:"publicUrl"`
}
