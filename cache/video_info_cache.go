package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"CastShelf/core/fetcher"
	"CastShelf/logger"

	"github.com/redis/go-redis/v9"
)

const defaultVideoInfoTTL = 24 * time.Hour

// VideoInfoCache 缓存 YouTube 视频元数据
type VideoInfoCache struct {
	client *redis.Client
	source fetcher.MetadataSource
	ttl    time.Duration
}

// NewVideoInfoCache wraps source with a Redis read-through cache.
func NewVideoInfoCache(client *redis.Client, source fetcher.MetadataSource, ttl time.Duration) *VideoInfoCache {
	if ttl <= 0 {
		ttl = defaultVideoInfoTTL
	}
	return &VideoInfoCache{client: client, source: source, ttl: ttl}
}

// GetVideoInfoKey 生成视频元数据的Redis键
func GetVideoInfoKey(videoID string) string {
	return fmt.Sprintf("youtube:info:%s", videoID)
}

// VideoInfo serves metadata from Redis, falling back to the wrapped source.
// Cache failures only cost a lookup; they never fail the call.
func (c *VideoInfoCache) VideoInfo(ctx context.Context, videoID string) (*fetcher.Metadata, error) {
	if meta, err := c.Get(ctx, videoID); err != nil {
		logger.Warn("video info cache read failed", logger.String("videoId", videoID), logger.ErrorField(err))
	} else if meta != nil {
		return meta, nil
	}

	meta, err := c.source.VideoInfo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, videoID, meta); err != nil {
		logger.Warn("video info cache write failed", logger.String("videoId", videoID), logger.ErrorField(err))
	}
	return meta, nil
}

// Get 读取缓存，未命中返回 nil
func (c *VideoInfoCache) Get(ctx context.Context, videoID string) (*fetcher.Metadata, error) {
	data, err := c.client.Get(ctx, GetVideoInfoKey(videoID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var meta fetcher.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video info: %w", err)
	}
	return &meta, nil
}

// Set 写入缓存
func (c *VideoInfoCache) Set(ctx context.Context, videoID string, meta *fetcher.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal video info: %w", err)
	}
	return c.client.Set(ctx, GetVideoInfoKey(videoID), data, c.ttl).Err()
}

// Invalidate 删除缓存
func (c *VideoInfoCache) Invalidate(ctx context.Context, videoID string) error {
	return c.client.Del(ctx, GetVideoInfoKey(videoID)).Err()
}
