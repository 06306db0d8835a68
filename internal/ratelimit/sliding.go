// Package ratelimit implements the Redis-backed limiters shared by every instance of the service:
// a sliding-window counter for authentication and email sends, and a GCRA limiter for API keys.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a limiter check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// slidingWindowScript counts the requests of the last window in a sorted set scored by server
// time in milliseconds and records the current one when under the limit.
// KEYS[1] = window key
// ARGV[1] = limit
// ARGV[2] = window (ms)
// ARGV[3] = unique member
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local member = ARGV[3]

	local t = redis.call('TIME')
	local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

	redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

	local count = redis.call('ZCARD', key)
	if count < limit then
		redis.call('ZADD', key, now, member)
		redis.call('PEXPIRE', key, window)
		return {1, limit - count - 1, 0}
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = window
	if oldest[2] ~= nil then
		retry = tonumber(oldest[2]) + window - now
	end
	return {0, 0, retry}
`)

// SlidingWindow is a distributed sliding-window counter
type SlidingWindow struct {
	rdb    redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

// NewSlidingWindow creates a limiter admitting limit events per window for each key
func NewSlidingWindow(rdb redis.Scripter, prefix string, limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Limit returns the configured number of events per window
func (s *SlidingWindow) Limit() int {
	return s.limit
}

// Allow records an event for key when the window has room
func (s *SlidingWindow) Allow(ctx context.Context, key string) (Decision, error) {
	if s == nil || s.rdb == nil {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	res, err := slidingWindowScript.Run(ctx, s.rdb,
		[]string{s.prefix + key},
		s.limit, s.window.Milliseconds(), uuid.New().String(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("sliding window check failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("sliding window script returned %d values", len(res))
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}
