// Package probe inspects committed media: MIME type by content sniffing and
// an optional duration read with ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"CastShelf/core/utils"

	"github.com/gabriel-vasile/mimetype"
)

// Info is what the artifact record needs from the file.
type Info struct {
	MimeType string
	Size     int64
	Duration *float64
}

// Prober probes local files. A zero FFprobePath disables duration probing.
type Prober struct {
	FFprobePath string
	Runner      utils.CommandRunner
}

// NewProber 创建探测器
func NewProber(ffprobePath string, runner utils.CommandRunner) *Prober {
	if runner == nil {
		runner = utils.ExecRunner{}
	}
	return &Prober{FFprobePath: ffprobePath, Runner: runner}
}

// DetectMIME sniffs the content type of the file at path.
func DetectMIME(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	return mt.String(), nil
}

// ExtensionFor returns the extension mimetype associates with the file's
// content, without the dot, or "" when unknown.
func ExtensionFor(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(mt.Extension(), ".")
}

// Probe reads size and MIME type. Duration is best-effort and left nil when
// ffprobe is disabled or fails.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}
	mime, err := DetectMIME(path)
	if err != nil {
		return Info{}, err
	}
	info := Info{MimeType: mime, Size: fi.Size()}
	if d, err := p.Duration(ctx, path); err == nil {
		info.Duration = &d
	}
	return info, nil
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Duration uses ffprobe to get the duration of a media file in seconds.
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	if p == nil || p.FFprobePath == "" {
		return 0, fmt.Errorf("duration probing disabled")
	}
	out, err := p.Runner.Run(ctx, p.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	if err != nil {
		return 0, err
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(out, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", path, err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output for %s", path)
	}
	d, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q for %s: %w", probeData.Format.Duration, path, err)
	}
	return d, nil
}
