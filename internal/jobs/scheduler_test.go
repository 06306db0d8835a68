package jobs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rnblock/api-key-provider/internal/db/models"
	"github.com/rnblock/api-key-provider/internal/db/repositories"
	"github.com/rnblock/api-key-provider/internal/telemetry"
)

type stubJob struct {
	name string
	err  error
	runs int
}

func (j *stubJob) Name() string { return j.name }

func (j *stubJob) Run(ctx context.Context) error {
	j.runs++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("run without deadline")
	}
	return j.err
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler()

	require.NoError(t, s.Register("@hourly", &stubJob{name: "a"}))
	require.NoError(t, s.Register("", &stubJob{name: "disabled"}))
	assert.Equal(t, []string{"a"}, s.Jobs())

	err := s.Register("@hourly", &stubJob{name: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = s.Register("every tuesday", &stubJob{name: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestScheduler_RunNowRecordsOutcome(t *testing.T) {
	s := NewScheduler()
	ok := &stubJob{name: "runnow_ok"}
	bad := &stubJob{name: "runnow_bad", err: errors.New("boom")}

	s.RunNow(context.Background(), ok)
	s.RunNow(context.Background(), bad)

	assert.Equal(t, 1, ok.runs)
	assert.Equal(t, 1, bad.runs)
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.ScheduledJobRunsTotal.WithLabelValues("runnow_ok", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(telemetry.ScheduledJobRunsTotal.WithLabelValues("runnow_bad", "error")))
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Register("@every 1h", &stubJob{name: "idle"}))
	s.Start()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestTestWalletResetJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	job := NewTestWalletResetJob(repositories.NewWalletRepository(db))
	job.now = func() time.Time { return now }

	mock.ExpectExec(regexp.QuoteMeta("UPDATE test_wallets")).
		WithArgs(models.TestWalletCredits, now.AddDate(0, 1, 0), now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, "test_wallet_reset", job.Name())
	require.NoError(t, mock.ExpectationsWereMet())
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) InvalidateAll(context.Context) { c.calls++ }

func TestQuotaResetJob(t *testing.T) {
	tests := []struct {
		period string
		query  string
		name   string
	}{
		{QuotaDaily, "UPDATE api_keys SET daily_used = 0", "daily_quota_reset"},
		{QuotaMonthly, "UPDATE api_keys SET monthly_used = 0", "monthly_quota_reset"},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectExec(regexp.QuoteMeta(tt.query)).WillReturnResult(sqlmock.NewResult(0, 5))

			listings := &countingInvalidator{}
			job := NewQuotaResetJob(repositories.NewAPIKeyRepository(db), tt.period, listings)
			assert.Equal(t, tt.name, job.Name())
			require.NoError(t, job.Run(context.Background()))
			require.NoError(t, mock.ExpectationsWereMet())
			assert.Equal(t, 1, listings.calls)
		})
	}
}

func TestQuotaResetJob_Error(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE api_keys").WillReturnError(errors.New("deadlock detected"))

	listings := &countingInvalidator{}
	job := NewQuotaResetJob(repositories.NewAPIKeyRepository(db), QuotaDaily, listings)
	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset daily usage")
	assert.Zero(t, listings.calls)
}

func TestQuotaResetJob_NilListings(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE api_keys").WillReturnResult(sqlmock.NewResult(0, 0))

	job := NewQuotaResetJob(repositories.NewAPIKeyRepository(db), QuotaMonthly, nil)
	require.NoError(t, job.Run(context.Background()))
}
