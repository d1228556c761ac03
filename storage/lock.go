package storage

import (
	"context"
	"sync"
)

// Locker serialises work on one storage key. Commit and reclaim of the same
// canonical path must not interleave: otherwise a sweep can delete the object
// a fresh commit just reused.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker 创建进程内键锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

var defaultLocker = NewLocalLocker()

// DefaultLocker is the process-wide LocalLocker shared by components that
// are not given a distributed one.
func DefaultLocker() Locker {
	return defaultLocker
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, key)
					l.mu.Unlock()
					close(done)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
