package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"CastShelf/core/mediaerr"
	"CastShelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner imitates yt-dlp: extraction writes outputName into the
// --output directory, --dump-json returns infoJSON.
type scriptedRunner struct {
	mu         sync.Mutex
	outputName string
	extractErr error
	infoJSON   string
	infoErr    error
	calls      [][]string
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string{name}, args...))
	r.mu.Unlock()

	for i, a := range args {
		if a == "--dump-json" {
			return []byte(r.infoJSON), r.infoErr
		}
		if a == "--output" && i+1 < len(args) {
			if r.extractErr != nil {
				return nil, r.extractErr
			}
			if r.outputName != "" {
				dir := filepath.Dir(args[i+1])
				if err := os.WriteFile(filepath.Join(dir, r.outputName), []byte("ID3 extracted"), 0644); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}
	}
	return nil, errors.New("unexpected invocation")
}

func newTestYouTubeFetcher(t *testing.T, runner *scriptedRunner) (*YouTubeFetcher, *storage.TempArea) {
	t.Helper()
	temp, err := storage.NewTempArea(t.TempDir())
	require.NoError(t, err)
	return NewYouTubeFetcher(temp, runner, YouTubeOptions{YtDlpPath: "yt-dlp"}), temp
}

func youtubeDirs(t *testing.T, temp *storage.TempArea) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(temp.Root(), storage.TempYouTube))
	require.NoError(t, err)
	return entries
}

func TestExtractVideoID(t *testing.T) {
	valid := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=42": "dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ":                  "dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ&list=RD":      "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ?si=abc":                        "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":                  "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/aB_-12345xY":                 "aB_-12345xY",
		"youtube.com/v/dQw4w9WgXcQ":                                  "dQw4w9WgXcQ",
	}
	for in, want := range valid {
		got, err := ExtractVideoID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	invalid := []string{
		"",
		"https://vimeo.com/123456",
		"https://www.youtube.com/watch?v=short",
		"https://www.youtube.com/channel/UC1234567890",
		"https://evil.com/youtu.be/dQw4w9WgXcQ",
	}
	for _, in := range invalid {
		_, err := ExtractVideoID(in)
		assert.True(t, mediaerr.Is(err, mediaerr.InvalidSource), in)
	}
}

func TestYouTubeFetchSuccess(t *testing.T) {
	runner := &scriptedRunner{
		outputName: "audio.mp3",
		infoJSON:   `{"id":"dQw4w9WgXcQ","title":"Never Gonna","description":"desc","duration":212,"thumbnail":"https://i.ytimg.com/x.jpg"}`,
	}
	f, temp := newTestYouTubeFetcher(t, runner)

	res, err := f.Fetch(context.Background(), Source{URL: "https://youtu.be/dQw4w9WgXcQ"})
	require.NoError(t, err)
	assert.Equal(t, "mp3", res.Extension)
	assert.Equal(t, "audio.mp3", filepath.Base(res.Path))
	require.NotNil(t, res.Metadata)
	assert.Equal(t, "Never Gonna", res.Metadata.Title)
	assert.Equal(t, "desc", res.Metadata.Description)
	assert.Equal(t, "dQw4w9WgXcQ", res.Metadata.VideoID)

	extract := strings.Join(runner.calls[0], " ")
	assert.Contains(t, extract, "--extract-audio --audio-format mp3 --audio-quality 0 --no-playlist")
	assert.True(t, strings.HasSuffix(extract, "https://youtu.be/dQw4w9WgXcQ"))

	assert.Len(t, youtubeDirs(t, temp), 1)
	res.Cleanup()
	assert.Empty(t, youtubeDirs(t, temp), "the whole temp directory must be removed")
}

func TestYouTubeFetchToolPicksExtension(t *testing.T) {
	f, _ := newTestYouTubeFetcher(t, &scriptedRunner{outputName: "audio.opus", infoErr: errors.New("rate limited")})

	res, err := f.Fetch(context.Background(), Source{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"})
	require.NoError(t, err, "metadata failures never fail the fetch")
	defer res.Cleanup()
	assert.Equal(t, "opus", res.Extension)
	require.NotNil(t, res.Metadata)
	assert.Empty(t, res.Metadata.Title)
	assert.Equal(t, "dQw4w9WgXcQ", res.Metadata.VideoID)
}

func TestYouTubeFetchFailures(t *testing.T) {
	t.Run("tool fails", func(t *testing.T) {
		f, temp := newTestYouTubeFetcher(t, &scriptedRunner{extractErr: errors.New("exit status 1")})
		_, err := f.Fetch(context.Background(), Source{URL: "https://youtu.be/dQw4w9WgXcQ"})
		assert.True(t, mediaerr.Is(err, mediaerr.ExtractionFailed))
		assert.Empty(t, youtubeDirs(t, temp))
	})

	t.Run("no output file", func(t *testing.T) {
		f, temp := newTestYouTubeFetcher(t, &scriptedRunner{})
		_, err := f.Fetch(context.Background(), Source{URL: "https://youtu.be/dQw4w9WgXcQ"})
		assert.True(t, mediaerr.Is(err, mediaerr.DownloadFailed))
		assert.Empty(t, youtubeDirs(t, temp))
	})

	t.Run("partial output only", func(t *testing.T) {
		f, _ := newTestYouTubeFetcher(t, &scriptedRunner{outputName: "audio.webm.part"})
		_, err := f.Fetch(context.Background(), Source{URL: "https://youtu.be/dQw4w9WgXcQ"})
		assert.True(t, mediaerr.Is(err, mediaerr.DownloadFailed))
	})

	t.Run("invalid url", func(t *testing.T) {
		runner := &scriptedRunner{}
		f, _ := newTestYouTubeFetcher(t, runner)
		_, err := f.Fetch(context.Background(), Source{URL: "https://example.com/watch?v=dQw4w9WgXcQ"})
		assert.True(t, mediaerr.Is(err, mediaerr.InvalidSource))
		assert.Empty(t, runner.calls)
	})
}

type countingSource struct {
	calls int
}

func (c *countingSource) VideoInfo(ctx context.Context, videoID string) (*Metadata, error) {
	c.calls++
	return &Metadata{VideoID: videoID, Title: "cached"}, nil
}

func TestYouTubeFetchUsesMetadataSource(t *testing.T) {
	f, _ := newTestYouTubeFetcher(t, &scriptedRunner{outputName: "audio.mp3"})
	src := &countingSource{}
	f.SetMetadataSource(src)

	res, err := f.Fetch(context.Background(), Source{URL: "https://youtu.be/dQw4w9WgXcQ"})
	require.NoError(t, err)
	defer res.Cleanup()
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, "cached", res.Metadata.Title)
}

func TestSetFor(t *testing.T) {
	s := &Set{Upload: UploadFetcher{}}
	f, err := s.For("upload")
	require.NoError(t, err)
	assert.NotNil(t, f)
	_, err = s.For("url")
	assert.Error(t, err)
}

func TestUploadFetcher(t *testing.T) {
	p := filepath.Join(t.TempDir(), "1b2c_episode.m4a")
	require.NoError(t, os.WriteFile(p, []byte("data"), 0644))

	res, err := UploadFetcher{}.Fetch(context.Background(), Source{UploadPath: p})
	require.NoError(t, err)
	assert.Equal(t, p, res.Path)
	assert.Equal(t, "m4a", res.Extension)
	res.Cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))

	_, err = UploadFetcher{}.Fetch(context.Background(), Source{UploadPath: p})
	assert.True(t, mediaerr.Is(err, mediaerr.StorageUnavailable))
	assert.Equal(t, "Temp file not found or inaccessible", mediaerr.UserMessage(err))
}

func TestUploadFetcherStaysInsideTempArea(t *testing.T) {
	temp, err := storage.NewTempArea(t.TempDir())
	require.NoError(t, err)
	u := UploadFetcher{Temp: temp}

	outside := filepath.Join(t.TempDir(), "elsewhere.mp3")
	require.NoError(t, os.WriteFile(outside, []byte("not an upload"), 0644))
	_, err = u.Fetch(context.Background(), Source{UploadPath: outside})
	assert.True(t, mediaerr.Is(err, mediaerr.StorageUnavailable))
	_, err = os.Stat(outside)
	assert.NoError(t, err, "files outside the temp area are never touched")

	_, err = u.Fetch(context.Background(), Source{UploadPath: ""})
	assert.Error(t, err)

	file, err := temp.NewFile(storage.TempUploads, "episode.mp3")
	require.NoError(t, err)
	require.NoError(t, file.Close())
	res, err := u.Fetch(context.Background(), Source{UploadPath: file.Name()})
	require.NoError(t, err)
	assert.Equal(t, "mp3", res.Extension)
	res.Cleanup()
}
