package hasher_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"CastShelf/core/hasher"
	"CastShelf/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestFingerprintAgreesAcrossSources(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)

	payloads := map[string][]byte{
		"empty": {},
		"small": []byte("audio-bytes"),
		"large": bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 1<<16),
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "in.bin")
			require.NoError(t, os.WriteFile(p, payload, 0644))
			key := "media/" + name + ".bin"
			require.NoError(t, store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), ""))

			fromFile, err := hasher.HashFile(p)
			require.NoError(t, err)
			fromObject, err := hasher.HashObject(ctx, store, key)
			require.NoError(t, err)
			fromReader, err := hasher.HashReader(bytes.NewReader(payload))
			require.NoError(t, err)

			mem := hasher.HashBytes(payload)
			assert.Equal(t, mem, fromFile)
			assert.Equal(t, mem, fromObject)
			assert.Equal(t, mem, fromReader)
			assert.Len(t, mem, 64)
		})
	}

	assert.Equal(t, emptySHA256, hasher.HashBytes(nil))
}

func TestHashFileMissing(t *testing.T) {
	fp, err := hasher.HashFile(filepath.Join(t.TempDir(), "nope.mp3"))
	assert.Error(t, err)
	assert.Empty(t, fp)
}

func TestHashObjectMissing(t *testing.T) {
	store, err := storage.NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	_, err = hasher.HashObject(context.Background(), store, "media/missing.mp3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
