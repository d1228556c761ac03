package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"CastShelf/core/library"
	"CastShelf/core/mediaerr"
	"CastShelf/logger"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, "Library entry not found")
	case mediaerr.Is(err, mediaerr.InvalidSource):
		writeError(w, http.StatusUnprocessableEntity, mediaerr.UserMessage(err))
	case mediaerr.Is(err, mediaerr.ExtractionFailed), mediaerr.Is(err, mediaerr.DownloadFailed):
		writeError(w, http.StatusBadGateway, mediaerr.UserMessage(err))
	default:
		logger.Error("request failed", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
