package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "test", time.Minute), mr
}

func TestRedisLockerExcludes(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	unlock, err := l.Lock(ctx, "media/a.mp3")
	require.NoError(t, err)
	assert.True(t, mr.Exists(l.GetLockKey("media/a.mp3")))

	// a second holder waits until the key is released
	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "media/a.mp3")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// other keys are independent
	other, err := l.Lock(ctx, "media/b.mp3")
	require.NoError(t, err)
	other()

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "media/a.mp3")
		if err == nil {
			u()
		}
		close(acquired)
	}()
	unlock()
	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("lock was not handed over")
	}
	assert.False(t, mr.Exists(l.GetLockKey("media/a.mp3")))
}

func TestRedisLockerExpiresAbandonedHolder(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	_, err := l.Lock(ctx, "media/c.mp3")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	unlock, err := l.Lock(ctx, "media/c.mp3")
	require.NoError(t, err)
	unlock()
}
