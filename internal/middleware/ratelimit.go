// ratelimit.go provides the in-process token-bucket limiter applied to every dashboard route,
// keyed by session user, then API key, then client IP.
package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// RateLimitConfig holds configuration for the token bucket
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate
	RequestsPerMinute int
	// BurstSize is the bucket capacity
	BurstSize int
	// CleanupInterval is how often idle buckets are dropped
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns the limits used when none are configured
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 120,
		BurstSize:         30,
		CleanupInterval:   5 * time.Minute,
	}
}

// RateLimitConfigFrom builds the bucket settings from the security section, filling zero values
// with the defaults
func RateLimitConfigFrom(cfg config.RateLimitingConfig) RateLimitConfig {
	rl := DefaultRateLimitConfig()
	if cfg.RequestsPerMinute > 0 {
		rl.RequestsPerMinute = cfg.RequestsPerMinute
	}
	if cfg.Burst > 0 {
		rl.BurstSize = cfg.Burst
	}
	return rl
}

// bucket tracks the tokens left for a single client
type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// RateLimiter implements a token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop on shutdown.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastUpdate) > 2*rl.config.CleanupInterval {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Allow takes a token for key and reports whether one was available, along with the tokens left
func (rl *RateLimiter) Allow(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		rl.buckets[key] = &bucket{tokens: float64(rl.config.BurstSize) - 1, lastUpdate: now}
		return true, rl.config.BurstSize - 1
	}

	perSecond := float64(rl.config.RequestsPerMinute) / 60.0
	b.tokens = min(float64(rl.config.BurstSize), b.tokens+now.Sub(b.lastUpdate).Seconds()*perSecond)
	b.lastUpdate = now

	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens)
	}
	return false, 0
}

// RateLimitMiddleware rejects requests once the caller's bucket is empty
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining := limiter.Allow(rateLimitKey(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			telemetry.RateLimitRejectionsTotal.WithLabelValues("http").Inc()
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success":    false,
				"error":      "Rate limit exceeded",
				"retryAfter": 60,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey picks user id, then API key id, then client IP
func rateLimitKey(c *gin.Context) string {
	if id := c.GetString(ContextUserID); id != "" {
		return "user:" + id
	}
	if id := c.GetString(ContextAPIKeyID); id != "" {
		return "apikey:" + id
	}
	return "ip:" + c.ClientIP()
}
