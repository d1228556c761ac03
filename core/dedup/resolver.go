// Package dedup decides how newly acquired content relates to what a user
// and the system already hold. Every duplicate check in the service goes
// through Resolver.
package dedup

import (
	"context"
	"fmt"

	"CastShelf/model"
	"CastShelf/repository"
)

// Disposition is the single outcome of a duplicate analysis.
type Disposition int

const (
	CreateNew Disposition = iota
	LinkToOwnDuplicateEntry
	LinkToOwnArtifactOnly
	LinkToForeignArtifact
)

func (d Disposition) String() string {
	switch d {
	case CreateNew:
		return "create_new"
	case LinkToOwnDuplicateEntry:
		return "own_duplicate_entry"
	case LinkToOwnArtifactOnly:
		return "own_artifact_only"
	case LinkToForeignArtifact:
		return "foreign_artifact"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Analysis is the resolver's answer. Artifact is set for every disposition
// except CreateNew; Entry only for LinkToOwnDuplicateEntry.
type Analysis struct {
	Disposition Disposition
	Entry       *model.LibraryEntry
	Artifact    *model.Artifact
}

func (a Analysis) CreateNew() bool               { return a.Disposition == CreateNew }
func (a Analysis) LinkToOwnDuplicateEntry() bool { return a.Disposition == LinkToOwnDuplicateEntry }
func (a Analysis) LinkToOwnArtifactOnly() bool   { return a.Disposition == LinkToOwnArtifactOnly }
func (a Analysis) LinkToForeignArtifact() bool   { return a.Disposition == LinkToForeignArtifact }

// SameIdentity reports whether the requester already holds the content.
func (a Analysis) SameIdentity() bool {
	return a.Disposition == LinkToOwnDuplicateEntry || a.Disposition == LinkToOwnArtifactOnly
}

// Resolver runs the three-tier lookup against URL or fingerprint.
type Resolver struct {
	entries   repository.LibraryRepository
	artifacts repository.ArtifactRepository
}

// NewResolver 创建去重解析器
func NewResolver(entries repository.LibraryRepository, artifacts repository.ArtifactRepository) *Resolver {
	return &Resolver{entries: entries, artifacts: artifacts}
}

// ByURL resolves against source URL equality. excludeID keeps an entry from
// matching itself; pass 0 when there is no entry yet.
func (r *Resolver) ByURL(ctx context.Context, url string, ownerID, excludeID int64) (Analysis, error) {
	if url == "" {
		return Analysis{Disposition: CreateNew}, nil
	}
	entry, err := r.entries.FindOwnEntryByURL(ctx, ownerID, url, excludeID)
	if err != nil {
		return Analysis{}, fmt.Errorf("find own entry by url: %w", err)
	}
	if entry != nil && entry.Artifact != nil {
		return Analysis{Disposition: LinkToOwnDuplicateEntry, Entry: entry, Artifact: entry.Artifact}, nil
	}

	artifact, err := r.artifacts.GetBySourceURL(ctx, url)
	if err != nil {
		return Analysis{}, fmt.Errorf("find artifact by url: %w", err)
	}
	return classifyArtifact(artifact, ownerID), nil
}

// ByFingerprint resolves against content fingerprint equality.
func (r *Resolver) ByFingerprint(ctx context.Context, fingerprint string, ownerID, excludeID int64) (Analysis, error) {
	entry, err := r.entries.FindOwnEntryByFingerprint(ctx, ownerID, fingerprint, excludeID)
	if err != nil {
		return Analysis{}, fmt.Errorf("find own entry by fingerprint: %w", err)
	}
	if entry != nil && entry.Artifact != nil {
		return Analysis{Disposition: LinkToOwnDuplicateEntry, Entry: entry, Artifact: entry.Artifact}, nil
	}

	artifact, err := r.artifacts.GetByFingerprint(ctx, fingerprint)
	if err != nil {
		return Analysis{}, fmt.Errorf("find artifact by fingerprint: %w", err)
	}
	return classifyArtifact(artifact, ownerID), nil
}

func classifyArtifact(artifact *model.Artifact, ownerID int64) Analysis {
	switch {
	case artifact == nil:
		return Analysis{Disposition: CreateNew}
	case artifact.OwnedBy(ownerID):
		return Analysis{Disposition: LinkToOwnArtifactOnly, Artifact: artifact}
	default:
		return Analysis{Disposition: LinkToForeignArtifact, Artifact: artifact}
	}
}
