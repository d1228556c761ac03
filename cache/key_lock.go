package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CastShelf/logger"
	"CastShelf/storage"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 5 * time.Minute
	lockRetryBackoff = 50 * time.Millisecond
)

// 仅当令牌匹配时释放锁
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a storage.Locker shared by every process on the same Redis.
// A holder that dies releases its keys after ttl.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ storage.Locker = (*RedisLocker)(nil)

// NewRedisLocker 创建基于 Redis 的键锁
func NewRedisLocker(client *redis.Client, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}
}

// GetLockKey 生成存储键锁的Redis键
func (l *RedisLocker) GetLockKey(key string) string {
	return fmt.Sprintf("%s:lock:%s", l.prefix, key)
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.GetLockKey(key)
	token := uuid.New().String()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(lockRetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(unlockCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				logger.Warn("release lock failed", logger.String("key", key), logger.ErrorField(err))
			}
		})
	}, nil
}
