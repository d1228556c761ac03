package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/storage"

	"github.com/gorilla/mux"
)

// handleMedia serves canonical objects at their public locator.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if strings.HasPrefix(name, ".") {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	key := model.MediaPrefix + "/" + name

	info, err := s.backend.Stat(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		logger.Error("failed to stat media", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}

	obj, err := s.backend.Open(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		logger.Error("failed to open media", logger.String("key", key), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to read file")
		return
	}
	defer obj.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	// 内容按指纹寻址，永不变化
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if rs, ok := obj.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", info.LastModified, rs)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(time.RFC1123))
	}
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, obj); err != nil {
		logger.Warn("error serving media", logger.String("key", key), logger.ErrorField(err))
	}
}
