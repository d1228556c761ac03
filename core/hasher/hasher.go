// Package hasher computes content fingerprints. All entry points stream the
// full content through the same SHA-256 digest so a file on disk, an
// in-memory buffer and a storage object with identical bytes agree.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Opener is the slice of a storage backend needed to hash a stored object.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// HashReader fingerprints everything readable from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes fingerprints an in-memory buffer.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// HashFile fingerprints a file on the local filesystem. A missing or
// unreadable file yields an error and no fingerprint.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashObject fingerprints an object held by a storage backend.
func HashObject(ctx context.Context, store Opener, key string) (string, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return "", fmt.Errorf("open object %s: %w", key, err)
	}
	defer rc.Close()
	return HashReader(rc)
}
