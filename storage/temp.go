package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Scoped temporary areas. Files in these are never canonical.
const (
	TempUploads   = "temp-uploads"
	TempDownloads = "temp-downloads"
	TempYouTube   = "temp-youtube"
)

// TempArea hands out unique paths inside the scoped temporary areas.
type TempArea struct {
	root string
}

// NewTempArea creates root and the scoped areas below it.
func NewTempArea(root string) (*TempArea, error) {
	for _, scope := range []string{TempUploads, TempDownloads, TempYouTube} {
		if err := os.MkdirAll(filepath.Join(root, scope), 0755); err != nil {
			return nil, fmt.Errorf("create temp area %s: %w", scope, err)
		}
	}
	return &TempArea{root: root}, nil
}

// Root returns the directory holding the scoped areas.
func (t *TempArea) Root() string {
	return t.root
}

// NewFile creates an empty file named <uuid>_<name> in scope.
func (t *TempArea) NewFile(scope, name string) (*os.File, error) {
	base := sanitizeName(name)
	p := filepath.Join(t.root, scope, uuid.NewString()+"_"+base)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

// NewDir creates a fresh directory in scope. The caller removes it.
func (t *TempArea) NewDir(scope string) (string, error) {
	dir := filepath.Join(t.root, scope, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// Contains reports whether p lies inside one of the temporary areas.
func (t *TempArea) Contains(p string) bool {
	rel, err := filepath.Rel(t.root, p)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == 0:
			return '_'
		}
		return r
	}, base)
	if len(base) > 100 {
		ext := filepath.Ext(base)
		if len(ext) > 16 {
			ext = ""
		}
		base = base[:100-len(ext)] + ext
	}
	return base
}
