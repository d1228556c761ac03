package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackendPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "media/abc.mp3", strings.NewReader("ID3 payload"), -1, "audio/mpeg"))

	ok, err := b.Exists(ctx, "media/abc.mp3")
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := b.Open(ctx, "media/abc.mp3")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "ID3 payload", string(data))

	info, err := b.Stat(ctx, "media/abc.mp3")
	require.NoError(t, err)
	assert.Equal(t, int64(len("ID3 payload")), info.Size)

	require.NoError(t, b.Delete(ctx, "media/abc.mp3"))
	ok, err = b.Exists(ctx, "media/abc.mp3")
	require.NoError(t, err)
	assert.False(t, ok)

	// deleting twice is fine
	require.NoError(t, b.Delete(ctx, "media/abc.mp3"))

	_, err = b.Open(ctx, "media/abc.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Stat(ctx, "media/abc.mp3")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalBackendMoveIn(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(src, []byte("fLaC data"), 0644))

	require.NoError(t, b.MoveIn(ctx, src, "media/f.flac", "audio/flac"))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err), "source should be gone after MoveIn")

	got, err := os.ReadFile(filepath.Join(b.Root(), "media", "f.flac"))
	require.NoError(t, err)
	assert.Equal(t, "fLaC data", string(got))

	err = b.MoveIn(ctx, src, "media/g.flac", "audio/flac")
	assert.Error(t, err)
}

func TestLocalBackendRejectsEscapingKeys(t *testing.T) {
	ctx := context.Background()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../x", "/etc/passwd", "", "."} {
		err := b.Put(ctx, key, bytes.NewReader(nil), 0, "")
		assert.Error(t, err, "key %q", key)
	}
}

func TestTempArea(t *testing.T) {
	root := t.TempDir()
	ta, err := NewTempArea(root)
	require.NoError(t, err)

	for _, scope := range []string{TempUploads, TempDownloads, TempYouTube} {
		fi, err := os.Stat(filepath.Join(root, scope))
		require.NoError(t, err)
		assert.True(t, fi.IsDir())
	}

	f1, err := ta.NewFile(TempDownloads, "../../episode.mp3")
	require.NoError(t, err)
	defer f1.Close()
	f2, err := ta.NewFile(TempDownloads, "episode.mp3")
	require.NoError(t, err)
	defer f2.Close()

	assert.NotEqual(t, f1.Name(), f2.Name())
	assert.Equal(t, filepath.Join(root, TempDownloads), filepath.Dir(f1.Name()))
	assert.True(t, strings.HasSuffix(f1.Name(), "_episode.mp3"))
	assert.True(t, ta.Contains(f1.Name()))
	assert.False(t, ta.Contains(filepath.Join(t.TempDir(), "elsewhere")))

	dir, err := ta.NewDir(TempYouTube)
	require.NoError(t, err)
	assert.True(t, ta.Contains(dir))
}

func TestSummarizeAndTree(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	objects := []ObjectInfo{
		{Key: "media/a.mp3", Size: 1500, LastModified: now.Add(-time.Hour)},
		{Key: "media/b.MP3", Size: 500, LastModified: now},
		{Key: "media/c.ogg", Size: 1000, LastModified: now.Add(-2 * time.Hour)},
		{Key: "README", Size: 10, LastModified: now.Add(-3 * time.Hour)},
	}

	stats := summarize(objects)
	assert.Equal(t, int64(4), stats.TotalObjects)
	assert.Equal(t, int64(3010), stats.TotalSize)
	assert.Equal(t, now, stats.LastModified)
	assert.Equal(t, map[string]int64{"mp3": 2, "ogg": 1, "unknown": 1}, stats.ByExtension)

	var buf bytes.Buffer
	writeStats(&buf, "castshelf", "media/", stats)
	assert.Contains(t, buf.String(), "objects:       4")
	assert.Contains(t, buf.String(), "3.0 kB")

	buf.Reset()
	writeTree(&buf, objects)
	out := buf.String()
	assert.Contains(t, out, "README (10 B)")
	assert.Contains(t, out, "media/\n")
	assert.Contains(t, out, "  a.mp3 (1.5 kB)")
}
