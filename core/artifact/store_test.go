package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"CastShelf/core/hasher"
	"CastShelf/db/dbtest"
	"CastShelf/model"
	"CastShelf/repository"
	"CastShelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *Store
	backend   *storage.LocalBackend
	artifacts repository.ArtifactRepository
	tempDir   string
}

func newFixture(t *testing.T) *fixture {
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	artifacts := repository.NewGormArtifactRepository(dbtest.NewSQLite(t))
	return &fixture{
		store:     NewStore(backend, artifacts, nil, "https://cast.example.com/"),
		backend:   backend,
		artifacts: artifacts,
		tempDir:   t.TempDir(),
	}
}

func (f *fixture) tempFile(t *testing.T, name string, data []byte) string {
	p := filepath.Join(f.tempDir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestCommitCreatesCanonicalObject(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := append([]byte("ID3\x03\x00"), make([]byte, 200)...)
	fp := hasher.HashBytes(data)
	tmp := f.tempFile(t, "a.mp3", data)

	a, created, err := f.store.Commit(ctx, CommitRequest{
		TempPath: tmp, Fingerprint: fp, Extension: "mp3", SourceURL: "https://x/a.mp3", OwnerID: 7,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "media/"+fp+".mp3", a.StoragePath)
	assert.Equal(t, "audio/mpeg", a.MimeType)
	assert.Equal(t, int64(len(data)), a.Size)
	assert.True(t, a.OwnedBy(7))
	assert.Equal(t, "https://x/a.mp3", *a.SourceURL)

	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err), "temp file is moved, not copied")

	stored, err := hasher.HashObject(ctx, f.backend, a.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, fp, stored)

	assert.Equal(t, "https://cast.example.com/media/"+fp+".mp3", f.store.PublicLocator(a))
	sum := f.store.Summary(a)
	assert.Equal(t, a.ID, sum.ID)
	assert.Equal(t, f.store.PublicLocator(a), sum.PublicURL)
}

func TestCommitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := []byte("audio-bytes")
	fp := hasher.HashBytes(data)

	first, created, err := f.store.Commit(ctx, CommitRequest{TempPath: f.tempFile(t, "1.mp3", data), Fingerprint: fp, Extension: "mp3", OwnerID: 1})
	require.NoError(t, err)
	require.True(t, created)

	second := f.tempFile(t, "2.ogg", data)
	again, created, err := f.store.Commit(ctx, CommitRequest{TempPath: second, Fingerprint: fp, Extension: "ogg", OwnerID: 2})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, err = os.Stat(second)
	assert.True(t, os.IsNotExist(err), "the redundant temp input is discarded")
	ok, err := f.backend.Exists(ctx, "media/"+fp+".ogg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentCommitsYieldOneArtifact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := []byte("same content committed concurrently")
	fp := hasher.HashBytes(data)

	const n = 6
	paths := make([]string, n)
	for i := range paths {
		paths[i] = f.tempFile(t, filepath.Base(t.Name())+string(rune('a'+i))+".mp3", data)
	}

	var wg sync.WaitGroup
	ids := make([]int64, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, _, err := f.store.Commit(ctx, CommitRequest{TempPath: paths[i], Fingerprint: fp, Extension: "mp3", OwnerID: int64(i + 1)})
			errs[i] = err
			if a != nil {
				ids[i] = a.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	got, err := f.artifacts.GetByFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, ids[0], got.ID)
	ok, err := f.backend.Exists(ctx, model.CanonicalPath(fp, "mp3"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCommitMissingTempFile(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.store.Commit(context.Background(), CommitRequest{
		TempPath: filepath.Join(f.tempDir, "gone.mp3"), Fingerprint: "deadbeef", Extension: "mp3",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Temp file not found or inaccessible")
}

func TestBackfillURL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := []byte("x")
	a, _, err := f.store.Commit(ctx, CommitRequest{TempPath: f.tempFile(t, "x.mp3", data), Fingerprint: hasher.HashBytes(data), Extension: "mp3"})
	require.NoError(t, err)
	assert.False(t, a.HasSourceURL())

	require.NoError(t, f.store.BackfillURL(ctx, a, "https://x/first"))
	assert.Equal(t, "https://x/first", *a.SourceURL)
	require.NoError(t, f.store.BackfillURL(ctx, a, "https://x/second"))
	assert.Equal(t, "https://x/first", *a.SourceURL)

	stored, err := f.artifacts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://x/first", *stored.SourceURL)
}
