package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"CastShelf/core/auth"
	"CastShelf/core/library"
	"CastShelf/core/metrics"
	"CastShelf/logger"
	"CastShelf/storage"

	"github.com/gorilla/mux"
)

// UploadConfig 上传配置
type UploadConfig struct {
	MaxFileSize   int64
	MaxConcurrent int
}

// DefaultUploadConfig 返回默认的上传配置
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		MaxFileSize:   500 << 20, // 500MB
		MaxConcurrent: 5,
	}
}

// Server is the HTTP surface over the library service.
type Server struct {
	library *library.Service
	tokens  *auth.TokenManager
	backend storage.Backend
	temp    *storage.TempArea
	upload  UploadConfig
	health  func(context.Context) error

	// uploadSemaphore 用于控制并发上传
	uploadSemaphore chan struct{}
	router          *mux.Router
}

// New builds the router. health may be nil.
func New(
	lib *library.Service,
	tokens *auth.TokenManager,
	backend storage.Backend,
	temp *storage.TempArea,
	upload UploadConfig,
	health func(context.Context) error,
) *Server {
	if upload.MaxFileSize <= 0 || upload.MaxConcurrent <= 0 {
		def := DefaultUploadConfig()
		if upload.MaxFileSize <= 0 {
			upload.MaxFileSize = def.MaxFileSize
		}
		if upload.MaxConcurrent <= 0 {
			upload.MaxConcurrent = def.MaxConcurrent
		}
	}
	s := &Server{
		library:         lib,
		tokens:          tokens,
		backend:         backend,
		temp:            temp,
		upload:          upload,
		health:          health,
		uploadSemaphore: make(chan struct{}, upload.MaxConcurrent),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	router := mux.NewRouter()
	router.Use(corsMiddleware, loggingMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/library", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/library", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/library/check-url", s.handleCheckURL).Methods(http.MethodPost)
	api.HandleFunc("/library/{id:[0-9]+}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/library/{id:[0-9]+}", s.handleDelete).Methods(http.MethodDelete)
	api.HandleFunc("/youtube/video-info/{videoId}", s.handleVideoInfo).Methods(http.MethodGet)

	router.HandleFunc("/media/{name}", s.handleMedia).Methods(http.MethodGet, http.MethodHead)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router = router
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	// 设置服务器超时
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			logger.Warn("health check failed", logger.ErrorField(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
