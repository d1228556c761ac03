package fetcher

import (
	"context"
	"os"

	"CastShelf/core/mediaerr"
	"CastShelf/core/probe"
	"CastShelf/core/utils"
	"CastShelf/storage"
)

// UploadFetcher passes through content that already sits in temp-uploads.
// With Temp set, a path outside the temporary areas is refused: the file is
// moved into storage and must never be one the job payload merely names.
type UploadFetcher struct {
	Temp *storage.TempArea
}

func (u UploadFetcher) Fetch(ctx context.Context, src Source) (*Result, error) {
	if u.Temp != nil && !u.Temp.Contains(src.UploadPath) {
		return nil, mediaerr.New(mediaerr.StorageUnavailable, "Temp file not found or inaccessible")
	}
	fi, err := os.Stat(src.UploadPath)
	if src.UploadPath == "" || err != nil || fi.IsDir() {
		return nil, mediaerr.Wrap(mediaerr.StorageUnavailable, err, "Temp file not found or inaccessible")
	}
	path := src.UploadPath
	return &Result{
		Path:      path,
		Extension: extensionOf(path, path),
		cleanup:   func() { utils.RemoveFile(path) },
	}, nil
}

// extensionOf prefers the extension in name, then one derived from content.
func extensionOf(name, path string) string {
	if ext := utils.FileExtension(name); ext != "" {
		return ext
	}
	if ext := probe.ExtensionFor(path); ext != "" {
		return ext
	}
	return "bin"
}
