// Package cache keeps hot lookups of the playback path in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tunevault/logger"

	"github.com/redis/go-redis/v9"
)

const ownerKeyPrefix = "owner:"

// OwnerLookup resolves the owner of a track from the metadata store.
type OwnerLookup interface {
	OwnerOf(ctx context.Context, trackID string) (string, error)
}

// OwnerCache 缓存 trackID -> ownerID，供播放校验使用
type OwnerCache struct {
	client *redis.Client
	source OwnerLookup
	ttl    time.Duration
}

// NewOwnerCache wraps source. A nil client disables caching.
func NewOwnerCache(client *redis.Client, source OwnerLookup, ttl time.Duration) *OwnerCache {
	return &OwnerCache{client: client, source: source, ttl: ttl}
}

func ownerKey(trackID string) string {
	return ownerKeyPrefix + trackID
}

// OwnerOf answers from Redis when it can and from the source otherwise. Redis
// failures are logged and never fail the lookup.
func (c *OwnerCache) OwnerOf(ctx context.Context, trackID string) (string, error) {
	if c.client == nil {
		return c.source.OwnerOf(ctx, trackID)
	}

	owner, err := c.client.Get(ctx, ownerKey(trackID)).Result()
	switch {
	case err == nil:
		logger.Debug("owner cache hit", logger.String("trackId", trackID))
		return owner, nil
	case errors.Is(err, redis.Nil):
	default:
		logger.Warn("owner cache read failed", logger.String("trackId", trackID), logger.ErrorField(err))
	}

	owner, err = c.source.OwnerOf(ctx, trackID)
	if err != nil {
		return "", err
	}
	if err := c.client.Set(ctx, ownerKey(trackID), owner, c.ttl).Err(); err != nil {
		logger.Warn("owner cache write failed", logger.String("trackId", trackID), logger.ErrorField(err))
	}
	return owner, nil
}

// Invalidate 删除单个缓存项，曲目删除后调用
func (c *OwnerCache) Invalidate(ctx context.Context, trackID string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, ownerKey(trackID)).Err(); err != nil {
		logger.Error("owner cache delete failed", logger.String("trackId", trackID), logger.ErrorField(err))
		return err
	}
	return nil
}

// Purge removes every owner entry and reports how many went.
func (c *OwnerCache) Purge(ctx context.Context) (int, error) {
	if c.client == nil {
		return 0, nil
	}
	return DeletePattern(ctx, c.client, ownerKeyPrefix+"*")
}

// DeletePattern 批量删除匹配模式的键，使用 SCAN 避免阻塞
func DeletePattern(ctx context.Context, client *redis.Client, pattern string) (int, error) {
	var deleted int
	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	logger.Info("cache keys deleted", logger.String("pattern", pattern), logger.Int("deletedCount", deleted))
	return deleted, nil
}

// Check 测试Redis连接和基本读写
func Check(ctx context.Context, client *redis.Client) error {
	const key, want = "tunevault:healthcheck", "ok"
	if err := client.Set(ctx, key, want, time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	got, err := client.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if got != want {
		return fmt.Errorf("unexpected value from Redis: got %s", got)
	}
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}
	return nil
}
