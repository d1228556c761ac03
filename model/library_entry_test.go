package model

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestURLHash(t *testing.T) {
	assert.Empty(t, URLHash(""))

	long := "https://x/" + strings.Repeat("p", 2000)
	h := URLHash(long)
	assert.Len(t, h, 64)
	assert.Equal(t, h, URLHash(long))
	assert.NotEqual(t, h, URLHash(long+"q"))
}

func TestLeaseExpired(t *testing.T) {
	now := time.Now()
	e := &LibraryEntry{}
	assert.True(t, e.LeaseExpired(now, time.Minute), "never started")

	started := now.Add(-30 * time.Second)
	e.ProcessingStartedAt = &started
	assert.False(t, e.LeaseExpired(now, time.Minute))
	assert.True(t, e.LeaseExpired(now, 30*time.Second))
}
