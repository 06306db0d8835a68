// resets.go holds the counter and balance reset jobs.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

// TestWalletResetter refills test wallets whose reset time has passed
type TestWalletResetter interface {
	ResetExpiredTestWallets(ctx context.Context, now, nextReset time.Time) (int64, error)
}

// QuotaResetter zeroes the per-key usage counters
type QuotaResetter interface {
	ResetDailyUsage(ctx context.Context) (int64, error)
	ResetMonthlyUsage(ctx context.Context) (int64, error)
}

// ListingInvalidator drops cached key listings once counters change in bulk
type ListingInvalidator interface {
	InvalidateAll(ctx context.Context)
}

// TestWalletResetJob restores every due test wallet to its starting balance and schedules the
// next reset one month later
type TestWalletResetJob struct {
	wallets TestWalletResetter
	now     func() time.Time
}

// NewTestWalletResetJob creates the test wallet reset job
func NewTestWalletResetJob(wallets TestWalletResetter) *TestWalletResetJob {
	return &TestWalletResetJob{wallets: wallets, now: time.Now}
}

func (j *TestWalletResetJob) Name() string { return "test_wallet_reset" }

func (j *TestWalletResetJob) Run(ctx context.Context) error {
	now := j.now()
	n, err := j.wallets.ResetExpiredTestWallets(ctx, now, now.AddDate(0, 1, 0))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("test wallets reset", "count", n)
	}
	return nil
}

// Quota periods
const (
	QuotaDaily   = "daily"
	QuotaMonthly = "monthly"
)

// QuotaResetJob zeroes the daily or monthly usage counter of every key
type QuotaResetJob struct {
	keys     QuotaResetter
	period   string
	listings ListingInvalidator
}

// NewQuotaResetJob creates a reset job for period (QuotaDaily or QuotaMonthly). listings may be nil.
func NewQuotaResetJob(keys QuotaResetter, period string, listings ListingInvalidator) *QuotaResetJob {
	return &QuotaResetJob{keys: keys, period: period, listings: listings}
}

func (j *QuotaResetJob) Name() string { return j.period + "_quota_reset" }

func (j *QuotaResetJob) Run(ctx context.Context) error {
	var (
		n   int64
		err error
	)
	if j.period == QuotaMonthly {
		n, err = j.keys.ResetMonthlyUsage(ctx)
	} else {
		n, err = j.keys.ResetDailyUsage(ctx)
	}
	if err != nil {
		return err
	}
	if j.listings != nil {
		j.listings.InvalidateAll(ctx)
	}
	slog.Info("api key usage counters reset", "period", j.period, "keys", n)
	return nil
}
