package utils

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"CastShelf/logger"
)

// FileExtension returns the lower-cased extension of name without the dot,
// or "" when there is none or it does not look like an extension.
func FileExtension(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" || len(ext) > 10 {
		return ""
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

// RemoveFile 删除临时文件，失败只记录日志
func RemoveFile(p string) {
	if p == "" {
		return
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove temp file", logger.String("path", p), logger.ErrorField(err))
	}
}

// RemoveDir 删除临时目录
func RemoveDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("failed to remove temp dir", logger.String("path", dir), logger.ErrorField(err))
	}
}
