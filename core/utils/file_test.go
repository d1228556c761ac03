package utils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExtension(t *testing.T) {
	cases := map[string]string{
		"episode.MP3":           "mp3",
		"/podcasts/show/ep.m4a": "m4a",
		"noext":                 "",
		"weird.tar.gz":          "gz",
		"bad.ext-with-dash":     "",
		"long.abcdefghijklmnop": "",
		"":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FileExtension(in), in)
	}
}

func TestRemoveHelpers(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "sub", "a.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(f), 0755))
	require.NoError(t, os.WriteFile(f, []byte("x"), 0644))

	RemoveFile(f)
	_, err := os.Stat(f)
	assert.True(t, os.IsNotExist(err))
	RemoveFile(f)
	RemoveFile("")

	RemoveDir(filepath.Join(dir, "sub"))
	_, err = os.Stat(filepath.Join(dir, "sub"))
	assert.True(t, os.IsNotExist(err))
}

func TestExecRunnerReportsFailure(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}
