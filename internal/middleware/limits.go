// limits.go provides the Redis-backed limiters shared across instances: a sliding window on the
// authentication routes keyed by client IP, and a per-key limit on API-key routes.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rnblock/api-key-provider/internal/ratelimit"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// Limiter admits or rejects one event for a key
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// AuthRateLimit limits authentication attempts per client IP. A nil limiter disables the check.
// Limiter errors let the request through.
func AuthRateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		enforce(c, limiter, "auth", c.ClientIP(), "Too many requests. Please try again later.")
	}
}

// APIKeyRateLimit limits requests per authenticated API key. It must run after APIKeyAuth.
func APIKeyRateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID := c.GetString(ContextAPIKeyID)
		if limiter == nil || keyID == "" {
			c.Next()
			return
		}
		enforce(c, limiter, "api_key", keyID, "Rate limit exceeded for this API key")
	}
}

func enforce(c *gin.Context, limiter Limiter, name, key, message string) {
	decision, err := limiter.Allow(c.Request.Context(), key)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "limiter", name, "error", err)
		c.Next()
		return
	}

	if decision.Remaining >= 0 {
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}

	if !decision.Allowed {
		retryAfter := retryAfterSeconds(decision.RetryAfter)
		telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success":    false,
			"error":      message,
			"retryAfter": retryAfter,
		})
		return
	}

	c.Next()
}

// retryAfterSeconds rounds up to whole seconds with a floor of one
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
