package ratelimit

import (
	"context"
	"fmt"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// KeyLimiter enforces a per-second GCRA limit for each API key
type KeyLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewKeyLimiter creates a limiter admitting perSecond requests per key
func NewKeyLimiter(rdb redis.UniversalClient, perSecond int) *KeyLimiter {
	return &KeyLimiter{
		limiter: redis_rate.NewLimiter(rdb),
		limit:   redis_rate.PerSecond(perSecond),
	}
}

// Allow takes one request from the key's budget
func (l *KeyLimiter) Allow(ctx context.Context, keyID string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	res, err := l.limiter.Allow(ctx, "apikey:"+keyID, l.limit)
	if err != nil {
		return Decision{}, fmt.Errorf("api key rate check failed: %w", err)
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}
