package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyListingCache caches the key listing of an organization between mutations
type KeyListingCache interface {
	Get(ctx context.Context, orgID string) ([]KeyView, bool)
	Set(ctx context.Context, orgID string, keys []KeyView)
	Invalidate(ctx context.Context, orgID string)
	InvalidateAll(ctx context.Context)
}

// NoopKeyCache is used when Redis is not configured
type NoopKeyCache struct{}

func (NoopKeyCache) Get(context.Context, string) ([]KeyView, bool) { return nil, false }
func (NoopKeyCache) Set(context.Context, string, []KeyView) {}
func (NoopKeyCache) Invalidate(context.Context, string) {}
func (NoopKeyCache) InvalidateAll(context.Context) {}

// RedisKeyCache stores key listings as JSON under "keys:org:<id>". Cache errors are logged and
// treated as misses; the database stays the source of truth.
type RedisKeyCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisKeyCache creates a RedisKeyCache
func NewRedisKeyCache(rdb redis.Cmdable, ttl time.Duration) *RedisKeyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisKeyCache{rdb: rdb, ttl: ttl}
}

const keyListingCachePrefix = "keys:org:"

func keyListingCacheKey(orgID string) string {
	return keyListingCachePrefix + orgID
}

// Get returns the cached listing when present
func (c *RedisKeyCache) Get(ctx context.Context, orgID string) ([]KeyView, bool) {
	data, err := c.rdb.Get(ctx, keyListingCacheKey(orgID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("key listing cache read failed", "org_id", orgID, "error", err)
		}
		return nil, false
	}
	var keys []KeyView
	if err := json.Unmarshal(data, &keys); err != nil {
		slog.Warn("key listing cache entry is corrupt", "org_id", orgID, "error", err)
		return nil, false
	}
	return keys, true
}

// Set stores a listing
func (c *RedisKeyCache) Set(ctx context.Context, orgID string, keys []KeyView) {
	data, err := json.Marshal(keys)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, keyListingCacheKey(orgID), data, c.ttl).Err(); err != nil {
		slog.Warn("key listing cache write failed", "org_id", orgID, "error", err)
	}
}

// Invalidate drops the cached listing of an organization
func (c *RedisKeyCache) Invalidate(ctx context.Context, orgID string) {
	if err := c.rdb.Del(ctx, keyListingCacheKey(orgID)).Err(); err != nil {
		slog.Warn("key listing cache invalidation failed", "org_id", orgID, "error", err)
	}
}

// InvalidateAll drops every cached listing. Used after bulk counter resets.
func (c *RedisKeyCache) InvalidateAll(ctx context.Context) {
	iter := c.rdb.Scan(ctx, 0, keyListingCachePrefix+"*", 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				slog.Warn("key listing cache invalidation failed", "error", err)
				return
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		slog.Warn("key listing cache scan failed", "error", err)
		return
	}
	if len(batch) > 0 {
		if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
			slog.Warn("key listing cache invalidation failed", "error", err)
		}
	}
}
