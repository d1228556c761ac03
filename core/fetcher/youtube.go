package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"CastShelf/core/mediaerr"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/storage"
)

var videoIDPattern = regexp.MustCompile(
	`^(?:https?://)?(?:(?:www|m|music)\.)?` +
		`(?:youtube\.com/(?:watch\?(?:[^#]*&)?v=|embed/|shorts/|v/|live/)|youtu\.be/)` +
		`([A-Za-z0-9_-]{11})(?:[?&#/].*)?$`)

var bareIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ExtractVideoID returns the canonical 11 character video ID of a YouTube URL.
func ExtractVideoID(raw string) (string, error) {
	m := videoIDPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", mediaerr.New(mediaerr.InvalidSource, "Invalid YouTube URL")
	}
	return m[1], nil
}

// ValidVideoID reports whether id has the shape of a YouTube video ID.
func ValidVideoID(id string) bool {
	return bareIDPattern.MatchString(id)
}

// WatchURL is the canonical URL for a video ID.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// MetadataSource looks up descriptive information for a video.
type MetadataSource interface {
	VideoInfo(ctx context.Context, videoID string) (*Metadata, error)
}

// YouTubeOptions configures the extraction tool.
type YouTubeOptions struct {
	YtDlpPath       string
	AudioFormat     string
	ExtractTimeout  time.Duration
	MetadataTimeout time.Duration
}

// YouTubeFetcher extracts audio with yt-dlp into an isolated directory.
type YouTubeFetcher struct {
	opts   YouTubeOptions
	temp   *storage.TempArea
	runner utils.CommandRunner
	meta   MetadataSource
}

// NewYouTubeFetcher 创建 YouTube 音频提取器
func NewYouTubeFetcher(temp *storage.TempArea, runner utils.CommandRunner, opts YouTubeOptions) *YouTubeFetcher {
	if opts.YtDlpPath == "" {
		opts.YtDlpPath = "yt-dlp"
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = "mp3"
	}
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = 300 * time.Second
	}
	if opts.MetadataTimeout <= 0 {
		opts.MetadataTimeout = 60 * time.Second
	}
	if runner == nil {
		runner = utils.ExecRunner{}
	}
	f := &YouTubeFetcher{opts: opts, temp: temp, runner: runner}
	f.meta = f
	return f
}

// SetMetadataSource routes metadata lookups through src, typically a cache
// wrapping this fetcher.
func (f *YouTubeFetcher) SetMetadataSource(src MetadataSource) {
	if src != nil {
		f.meta = src
	}
}

func (f *YouTubeFetcher) Fetch(ctx context.Context, src Source) (*Result, error) {
	videoID, err := ExtractVideoID(src.URL)
	if err != nil {
		return nil, err
	}

	dir, err := f.temp.NewDir(storage.TempYouTube)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Failed to create temporary directory")
	}
	cleanup := func() { utils.RemoveDir(dir) }

	extractCtx, cancel := context.WithTimeout(ctx, f.opts.ExtractTimeout)
	defer cancel()
	_, err = f.runner.Run(extractCtx, f.opts.YtDlpPath,
		"--extract-audio",
		"--audio-format", f.opts.AudioFormat,
		"--audio-quality", "0",
		"--no-playlist",
		"--output", filepath.Join(dir, "audio.%(ext)s"),
		src.URL,
	)
	if err != nil {
		cleanup()
		logger.Warn("youtube extraction failed",
			logger.String("videoId", videoID),
			logger.ErrorField(err))
		return nil, mediaerr.Wrap(mediaerr.ExtractionFailed, err, "Failed to extract audio from YouTube video")
	}

	out := findOutput(dir)
	if out == "" {
		cleanup()
		return nil, mediaerr.New(mediaerr.DownloadFailed, "Failed to download YouTube audio: no output file produced")
	}

	res := &Result{
		Path:      out,
		Extension: extensionOf(out, out),
		FinalURL:  src.URL,
		cleanup:   cleanup,
	}

	// 元数据获取失败不影响下载结果
	meta, err := f.meta.VideoInfo(ctx, videoID)
	if err != nil {
		logger.Warn("youtube metadata probe failed",
			logger.String("videoId", videoID),
			logger.ErrorField(err))
		meta = &Metadata{VideoID: videoID}
	}
	res.Metadata = meta
	return res, nil
}

// findOutput locates the file yt-dlp wrote, ignoring partial downloads.
func findOutput(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "audio.") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}

type ytDlpInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration"`
	Thumbnail   string  `json:"thumbnail"`
	Uploader    string  `json:"uploader"`
}

// VideoInfo probes a video's metadata with yt-dlp --dump-json.
func (f *YouTubeFetcher) VideoInfo(ctx context.Context, videoID string) (*Metadata, error) {
	if !ValidVideoID(videoID) {
		return nil, mediaerr.New(mediaerr.InvalidSource, "Invalid YouTube video ID")
	}
	ctx, cancel := context.WithTimeout(ctx, f.opts.MetadataTimeout)
	defer cancel()

	out, err := f.runner.Run(ctx, f.opts.YtDlpPath,
		"--dump-json",
		"--no-playlist",
		"--skip-download",
		WatchURL(videoID),
	)
	if err != nil {
		return nil, fmt.Errorf("probe video %s: %w", videoID, err)
	}

	var info ytDlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output for %s: %w", videoID, err)
	}
	return &Metadata{
		VideoID:     videoID,
		Title:       info.Title,
		Description: info.Description,
		Duration:    info.Duration,
		Thumbnail:   info.Thumbnail,
		Uploader:    info.Uploader,
	}, nil
}
