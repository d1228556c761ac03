package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"CastShelf/core/library"
	"CastShelf/core/utils"
	"CastShelf/logger"
	"CastShelf/model"
	"CastShelf/storage"

	"github.com/gorilla/mux"
)

// entryView is an entry as rendered to its owner.
type entryView struct {
	*model.LibraryEntry
	PublicURL string `json:"publicUrl,omitempty"`
}

func (s *Server) view(e *model.LibraryEntry) entryView {
	return entryView{LibraryEntry: e, PublicURL: s.library.Locator(e)}
}

type submitBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	SourceKind  string `json:"sourceKind"`
	SourceURL   string `json:"sourceUrl"`
}

func ownerOf(r *http.Request) int64 {
	id, _ := OwnerIDFromContext(r.Context())
	return id
}

func entryID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req library.SubmitRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var ok bool
		req, ok = s.receiveUpload(w, r)
		if !ok {
			return
		}
	} else {
		var body submitBody
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		req = library.SubmitRequest{
			Title:       body.Title,
			Description: body.Description,
			SourceKind:  model.SourceKind(body.SourceKind),
			SourceURL:   body.SourceURL,
		}
		if req.SourceKind == model.SourceUpload {
			writeError(w, http.StatusBadRequest, "Uploads must be sent as multipart/form-data")
			return
		}
	}
	req.OwnerID = ownerOf(r)

	res, err := s.library.Submit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"entry":   s.view(res.Entry),
		"message": res.Message,
	})
}

// receiveUpload stores the multipart file under temp-uploads.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (library.SubmitRequest, bool) {
	var req library.SubmitRequest

	// 检查请求大小
	if r.ContentLength > s.upload.MaxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request too large. Maximum size is %d MB", s.upload.MaxFileSize>>20))
		return req, false
	}

	// 获取信号量，控制并发
	select {
	case s.uploadSemaphore <- struct{}{}:
		defer func() { <-s.uploadSemaphore }()
	default:
		logger.Warn("too many concurrent uploads")
		writeError(w, http.StatusServiceUnavailable, "Server is busy, please try again later")
		return req, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.upload.MaxFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large. Maximum size is %d MB", s.upload.MaxFileSize>>20))
			return req, false
		}
		writeError(w, http.StatusBadRequest, "Failed to parse upload form")
		return req, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Please provide a file to upload.")
		return req, false
	}
	defer file.Close()

	dst, err := s.temp.NewFile(storage.TempUploads, header.Filename)
	if err != nil {
		logger.Error("failed to create upload temp file", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to store upload")
		return req, false
	}
	written, err := io.Copy(dst, file)
	closeErr := dst.Close()
	if err != nil || closeErr != nil || written == 0 {
		utils.RemoveFile(dst.Name())
		if written == 0 && err == nil {
			writeError(w, http.StatusUnprocessableEntity, "Uploaded file is empty")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to store upload")
		}
		return req, false
	}
	logger.Info("upload received",
		logger.String("filename", header.Filename),
		logger.Int64("size", written))

	req.Title = r.FormValue("title")
	req.Description = r.FormValue("description")
	req.SourceKind = model.SourceUpload
	req.UploadPath = dst.Name()
	return req, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.library.List(r.Context(), ownerOf(r), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, s.view(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": views})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}
	entry, err := s.library.Get(r.Context(), ownerOf(r), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(entry))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry ID")
		return
	}
	if err := s.library.Delete(r.Context(), ownerOf(r), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Media file removed from your library."})
}

func (s *Server) handleCheckURL(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	check, err := s.library.CheckURLDuplicate(r.Context(), body.URL, ownerOf(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (s *Server) handleVideoInfo(w http.ResponseWriter, r *http.Request) {
	meta, err := s.library.VideoInfo(r.Context(), mux.Vars(r)["videoId"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
