package dedup

import (
	"context"
	"testing"
	"time"

	"CastShelf/db/dbtest"
	"CastShelf/model"
	"CastShelf/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	entries   repository.LibraryRepository
	artifacts repository.ArtifactRepository
	resolver  *Resolver
}

func newFixture(t *testing.T) *fixture {
	gdb := dbtest.NewSQLite(t)
	f := &fixture{
		entries:   repository.NewGormLibraryRepository(gdb),
		artifacts: repository.NewGormArtifactRepository(gdb),
	}
	f.resolver = NewResolver(f.entries, f.artifacts)
	return f
}

func (f *fixture) artifact(t *testing.T, fp, url string, owner int64) *model.Artifact {
	a := &model.Artifact{StoragePath: model.CanonicalPath(fp, "mp3"), Fingerprint: fp, OwnerID: &owner}
	if url != "" {
		a.SourceURL = &url
	}
	got, _, err := f.artifacts.InsertOrGet(context.Background(), a)
	require.NoError(t, err)
	return got
}

func (f *fixture) linkedEntry(t *testing.T, owner int64, url string, artifactID int64) *model.LibraryEntry {
	ctx := context.Background()
	e := &model.LibraryEntry{OwnerID: owner, Title: "t", SourceKind: model.SourceURL}
	if url != "" {
		e.SourceURL = &url
	}
	require.NoError(t, f.entries.Create(ctx, e))
	token, err := f.entries.Claim(ctx, e.ID, time.Minute)
	require.NoError(t, err)
	ok, err := f.entries.LinkArtifact(ctx, e.ID, token, artifactID, false)
	require.NoError(t, err)
	require.True(t, ok)
	return e
}

func exactlyOne(t *testing.T, a Analysis) {
	t.Helper()
	n := 0
	for _, b := range []bool{a.CreateNew(), a.LinkToOwnDuplicateEntry(), a.LinkToOwnArtifactOnly(), a.LinkToForeignArtifact()} {
		if b {
			n++
		}
	}
	assert.Equal(t, 1, n, "exactly one disposition must hold, got %s", a.Disposition)
}

func TestByFingerprintDispositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	owned := f.artifact(t, "owned", "", 1)
	ownedNoEntry := f.artifact(t, "lonely", "", 1)
	f.artifact(t, "foreign", "", 2)
	entry := f.linkedEntry(t, 1, "", owned.ID)

	cases := []struct {
		name      string
		fp        string
		owner     int64
		exclude   int64
		want      Disposition
		wantEntry int64
	}{
		{"own entry", "owned", 1, 0, LinkToOwnDuplicateEntry, entry.ID},
		{"self excluded falls to own artifact", "owned", 1, entry.ID, LinkToOwnArtifactOnly, 0},
		{"own artifact without entry", "lonely", 1, 0, LinkToOwnArtifactOnly, 0},
		{"someone else's artifact", "foreign", 1, 0, LinkToForeignArtifact, 0},
		{"other user sees owner 1's artifact as foreign", "owned", 2, 0, LinkToForeignArtifact, 0},
		{"unknown content", "fresh", 1, 0, CreateNew, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := f.resolver.ByFingerprint(ctx, tc.fp, tc.owner, tc.exclude)
			require.NoError(t, err)
			exactlyOne(t, a)
			assert.Equal(t, tc.want, a.Disposition)
			if tc.wantEntry != 0 {
				require.NotNil(t, a.Entry)
				assert.Equal(t, tc.wantEntry, a.Entry.ID)
			} else {
				assert.Nil(t, a.Entry)
			}
			if tc.want == CreateNew {
				assert.Nil(t, a.Artifact)
			} else {
				require.NotNil(t, a.Artifact)
			}
		})
	}
	assert.Equal(t, ownedNoEntry.ID, mustFP(t, f, "lonely", 1).Artifact.ID)
}

func mustFP(t *testing.T, f *fixture, fp string, owner int64) Analysis {
	a, err := f.resolver.ByFingerprint(context.Background(), fp, owner, 0)
	require.NoError(t, err)
	return a
}

func TestByURLDispositions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a1 := f.artifact(t, "a1", "https://x/known.mp3", 1)
	f.artifact(t, "a2", "https://x/only-artifact.mp3", 1)
	f.artifact(t, "a3", "https://x/theirs.mp3", 2)
	entry := f.linkedEntry(t, 1, "https://x/known.mp3", a1.ID)

	// an own entry that is still pending does not count
	pending := &model.LibraryEntry{OwnerID: 1, Title: "p", SourceKind: model.SourceURL}
	u := "https://x/pending.mp3"
	pending.SourceURL = &u
	require.NoError(t, f.entries.Create(ctx, pending))

	cases := []struct {
		url   string
		owner int64
		want  Disposition
	}{
		{"https://x/known.mp3", 1, LinkToOwnDuplicateEntry},
		{"https://x/only-artifact.mp3", 1, LinkToOwnArtifactOnly},
		{"https://x/theirs.mp3", 1, LinkToForeignArtifact},
		{"https://x/known.mp3", 2, LinkToForeignArtifact},
		{"https://x/pending.mp3", 1, CreateNew},
		{"https://x/new.mp3", 1, CreateNew},
		{"", 1, CreateNew},
	}
	for _, tc := range cases {
		a, err := f.resolver.ByURL(ctx, tc.url, tc.owner, pending.ID)
		require.NoError(t, err)
		exactlyOne(t, a)
		assert.Equal(t, tc.want, a.Disposition, "%s as %d", tc.url, tc.owner)
	}

	a, err := f.resolver.ByURL(ctx, "https://x/known.mp3", 1, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, LinkToOwnArtifactOnly, a.Disposition, "excluded entry falls back to the artifact tier")
}

func TestSameIdentity(t *testing.T) {
	assert.True(t, Analysis{Disposition: LinkToOwnDuplicateEntry}.SameIdentity())
	assert.True(t, Analysis{Disposition: LinkToOwnArtifactOnly}.SameIdentity())
	assert.False(t, Analysis{Disposition: LinkToForeignArtifact}.SameIdentity())
	assert.False(t, Analysis{Disposition: CreateNew}.SameIdentity())
	assert.Equal(t, "foreign_artifact", LinkToForeignArtifact.String())
}
