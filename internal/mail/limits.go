package mail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rnblock/api-key-provider/internal/config"
	"github.com/rnblock/api-key-provider/internal/ratelimit"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

var (
	// ErrUserEmailLimit is returned when one account asked for too many verification mails
	ErrUserEmailLimit = errors.New("too many verification emails requested, try again later")
	// ErrGlobalEmailLimit is returned when the service-wide daily mail budget is spent
	ErrGlobalEmailLimit = errors.New("email sending is temporarily unavailable, try again later")
)

const globalLimitKey = "all"

// window is the limiter behaviour used by SendLimits
type window interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// SendLimits caps verification mail per user and across the service
type SendLimits struct {
	perUser window
	global  window
}

// NewSendLimits builds the limiters over Redis. A nil client disables both limits.
func NewSendLimits(rdb redis.Scripter, cfg config.EmailLimitsConfig) *SendLimits {
	if rdb == nil {
		return &SendLimits{}
	}
	win := cfg.Window
	if win <= 0 {
		win = 24 * time.Hour
	}
	return &SendLimits{
		perUser: ratelimit.NewSlidingWindow(rdb, "email:user:", cfg.PerUser, win),
		global:  ratelimit.NewSlidingWindow(rdb, "email:global:", cfg.Global, win),
	}
}

// Check consumes one slot from the user's and the global budget. Limiter errors fail open.
func (l *SendLimits) Check(ctx context.Context, userID string) error {
	if l == nil {
		return nil
	}
	if l.perUser != nil {
		d, err := l.perUser.Allow(ctx, userID)
		if err != nil {
			slog.Warn("email user limiter unavailable", "error", err)
		} else if !d.Allowed {
			telemetry.RateLimitRejectionsTotal.WithLabelValues("email_user").Inc()
			return ErrUserEmailLimit
		}
	}
	if l.global != nil {
		d, err := l.global.Allow(ctx, globalLimitKey)
		if err != nil {
			slog.Warn("email global limiter unavailable", "error", err)
		} else if !d.Allowed {
			telemetry.RateLimitRejectionsTotal.WithLabelValues("email_global").Inc()
			return ErrGlobalEmailLimit
		}
	}
	return nil
}
