package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"CastShelf/config"
)

// ErrNotFound is returned when a key does not exist in the backend.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// Backend is the durable, byte-addressable namespace artifacts live in.
// Keys are slash-separated relative paths such as media/<fingerprint>.mp3.
type Backend interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// MoveIn transfers a local temporary file to key. On success the local
	// file no longer exists.
	MoveIn(ctx context.Context, localPath, key, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

// NewBackend selects the configured backend.
func NewBackend(ctx context.Context, cfg *config.Config) (Backend, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalBackend(cfg.StorageRoot)
	case "minio":
		return NewMinioBackend(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
