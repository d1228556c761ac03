// Package fetcher materialises the raw bytes of a source into a scoped
// temporary location. Fetchers never write to the canonical namespace.
package fetcher

import (
	"context"
	"fmt"

	"CastShelf/model"
)

// Source describes what to fetch.
type Source struct {
	Kind       model.SourceKind
	URL        string
	UploadPath string // temp-uploads file for upload sources
}

// Metadata is the descriptive information a YouTube probe yields.
type Metadata struct {
	VideoID     string  `json:"videoId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Duration    float64 `json:"duration,omitempty"`
	Thumbnail   string  `json:"thumbnail,omitempty"`
	Uploader    string  `json:"uploader,omitempty"`
}

// Result is a fetched file. The caller must call Cleanup once the file has
// been committed or discarded.
type Result struct {
	Path      string
	Extension string
	FinalURL  string
	Metadata  *Metadata

	cleanup func()
}

// Cleanup removes every temporary file or directory the fetch created.
func (r *Result) Cleanup() {
	if r != nil && r.cleanup != nil {
		r.cleanup()
		r.cleanup = nil
	}
}

// Fetcher retrieves one kind of source.
type Fetcher interface {
	Fetch(ctx context.Context, src Source) (*Result, error)
}

// Set dispatches by source kind.
type Set struct {
	Upload  Fetcher
	URL     Fetcher
	YouTube Fetcher
}

// For selects the fetcher for kind.
func (s *Set) For(kind model.SourceKind) (Fetcher, error) {
	var f Fetcher
	switch kind {
	case model.SourceUpload:
		f = s.Upload
	case model.SourceURL:
		f = s.URL
	case model.SourceYouTube:
		f = s.YouTube
	}
	if f == nil {
		return nil, fmt.Errorf("no fetcher for source kind %q", kind)
	}
	return f, nil
}
