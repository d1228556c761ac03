package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"CastShelf/core/artifact"
	"CastShelf/core/auth"
	"CastShelf/core/dedup"
	"CastShelf/core/jobs"
	"CastShelf/core/library"
	"CastShelf/core/sweeper"
	"CastShelf/db/dbtest"
	"CastShelf/model"
	"CastShelf/repository"
	"CastShelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	srv       *Server
	tokens    *auth.TokenManager
	entries   repository.LibraryRepository
	artifacts repository.ArtifactRepository
	backend   *storage.LocalBackend
	queue     *jobs.MemoryQueue
}

func newFixture(t *testing.T, health func(context.Context) error) *fixture {
	t.Helper()
	gdb := dbtest.NewSQLite(t)
	entries := repository.NewGormLibraryRepository(gdb)
	artifacts := repository.NewGormArtifactRepository(gdb)
	backend, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	temp, err := storage.NewTempArea(t.TempDir())
	require.NoError(t, err)
	queue := jobs.NewMemoryQueue()
	t.Cleanup(queue.Stop)
	tokens, err := auth.NewTokenManager("test-secret")
	require.NoError(t, err)

	store := artifact.NewStore(backend, artifacts, nil, "https://cast.example.com")
	svc := library.NewService(entries, dedup.NewResolver(entries, artifacts), store,
		sweeper.New(entries, artifacts, backend), queue, nil)

	return &fixture{
		srv:       New(svc, tokens, backend, temp, UploadConfig{MaxFileSize: 1 << 20, MaxConcurrent: 2}, health),
		tokens:    tokens,
		entries:   entries,
		artifacts: artifacts,
		backend:   backend,
		queue:     queue,
	}
}

func (f *fixture) do(t *testing.T, owner int64, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if owner > 0 {
		tok, err := f.tokens.GenerateToken(owner, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) postJSON(t *testing.T, owner int64, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return f.do(t, owner, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type submitResponse struct {
	Entry struct {
		ID         int64  `json:"id"`
		Title      string `json:"title"`
		Status     string `json:"status"`
		SourceKind string `json:"sourceKind"`
	} `json:"entry"`
	Message string `json:"message"`
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, 0, http.MethodGet, "/api/library", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/library", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitURL(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.postJSON(t, 1, "/api/library", map[string]string{
		"title": "Ep1", "sourceKind": "url", "sourceUrl": "https://x/a.mp3",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submitResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Ep1", resp.Entry.Title)
	assert.Equal(t, "pending", resp.Entry.Status)
	assert.Equal(t, "Media file URL added successfully. Downloading and processing...", resp.Message)
	assert.Equal(t, 1, f.queue.Len())

	rec = f.postJSON(t, 1, "/api/library", map[string]string{"sourceKind": "url", "sourceUrl": "https://x/a.mp3"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "The title field is required.")

	rec = f.do(t, 1, http.MethodPost, "/api/library", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "Uploaded"))
	fw, err := mw.CreateFormFile("file", "episode.mp3")
	require.NoError(t, err)
	_, err = fw.Write([]byte("ID3 uploaded bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	rec := f.do(t, 1, http.MethodPost, "/api/library", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp submitResponse
	decode(t, rec, &resp)
	assert.Equal(t, "upload", resp.Entry.SourceKind)

	job, err := f.queue.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, job)
	var p jobs.IngestPayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, resp.Entry.ID, p.EntryID)
	data, err := os.ReadFile(p.UploadPath)
	require.NoError(t, err)
	assert.Equal(t, "ID3 uploaded bytes", string(data))
	assert.True(t, strings.HasSuffix(p.UploadPath, "episode.mp3"))
}

func TestUploadRejectsMissingFile(t *testing.T) {
	f := newFixture(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "No file"))
	require.NoError(t, mw.Close())

	rec := f.do(t, 1, http.MethodPost, "/api/library", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Zero(t, f.queue.Len())
}

func TestEntryLifecycleEndpoints(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	url := "https://x/a.mp3"
	owner := int64(1)
	require.NoError(t, f.backend.Put(ctx, "media/fp.mp3", strings.NewReader("bytes"), 5, "audio/mpeg"))
	a, _, err := f.artifacts.InsertOrGet(ctx, &model.Artifact{StoragePath: "media/fp.mp3", Fingerprint: "fp", Size: 5, OwnerID: &owner, SourceURL: &url})
	require.NoError(t, err)
	e := &model.LibraryEntry{OwnerID: owner, Title: "Ep", SourceKind: model.SourceURL, SourceURL: &url}
	require.NoError(t, f.entries.Create(ctx, e))
	token, err := f.entries.Claim(ctx, e.ID, time.Minute)
	require.NoError(t, err)
	_, err = f.entries.LinkArtifact(ctx, e.ID, token, a.ID, false)
	require.NoError(t, err)

	rec := f.do(t, 1, http.MethodGet, "/api/library", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Entries []struct {
			ID        int64  `json:"id"`
			PublicURL string `json:"publicUrl"`
		} `json:"entries"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Entries, 1)
	assert.Equal(t, "https://cast.example.com/media/fp.mp3", list.Entries[0].PublicURL)

	path := "/api/library/" + strconv.FormatInt(e.ID, 10)
	assert.Equal(t, http.StatusOK, f.do(t, 1, http.MethodGet, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, 2, http.MethodGet, path, nil, "").Code)

	rec = f.postJSON(t, 1, "/api/library/check-url", map[string]string{"url": url})
	require.Equal(t, http.StatusOK, rec.Code)
	var check library.URLCheck
	decode(t, rec, &check)
	assert.True(t, check.IsDuplicate)
	require.NotNil(t, check.Artifact)
	assert.Equal(t, a.ID, check.Artifact.ID)

	rec = f.postJSON(t, 2, "/api/library/check-url", map[string]string{"url": url})
	decode(t, rec, &check)
	assert.False(t, check.IsDuplicate)

	rec = f.do(t, 1, http.MethodGet, "/media/fp.mp3", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bytes", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(t, 2, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, 1, http.MethodDelete, path, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, 1, http.MethodGet, "/media/fp.mp3", nil, "").Code)
}

func TestMediaNotFound(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusNotFound, f.do(t, 0, http.MethodGet, "/media/missing.mp3", nil, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, 0, http.MethodGet, "/media/.hidden", nil, "").Code)
}

func TestVideoInfoWithoutSource(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, 1, http.MethodGet, "/api/youtube/video-info/bad", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = f.do(t, 1, http.MethodGet, "/api/youtube/video-info/dQw4w9WgXcQ", nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := newFixture(t, func(ctx context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, healthy.do(t, 0, http.MethodGet, "/healthz", nil, "").Code)
	assert.Equal(t, http.StatusOK, healthy.do(t, 0, http.MethodGet, "/metrics", nil, "").Code)

	sick := newFixture(t, func(ctx context.Context) error { return errors.New("db down") })
	rec := sick.do(t, 0, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}
