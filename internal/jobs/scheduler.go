// Package jobs runs the periodic maintenance work of the key provider on a cron scheduler:
// test wallet resets, quota counter resets and API key expiry warnings.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rnblock/api-key-provider/internal/telemetry"
)

// defaultRunTimeout bounds a single job run
const defaultRunTimeout = 10 * time.Minute

// Job is one unit of scheduled work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs registered jobs on cron schedules. Runs of the same job never overlap.
type Scheduler struct {
	cron       *cron.Cron
	runTimeout time.Duration
	entries    map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler using UTC schedules
func NewScheduler() *Scheduler {
	logger := slogAdapter{log: slog.Default().With("component", "scheduler")}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runTimeout: defaultRunTimeout,
		entries:    make(map[string]cron.EntryID),
	}
}

// Register adds job under the given schedule. An empty schedule leaves the job disabled.
func (s *Scheduler) Register(schedule string, job Job) error {
	if schedule == "" {
		slog.Info("scheduled job disabled", "job", job.Name())
		return nil
	}
	if _, exists := s.entries[job.Name()]; exists {
		return fmt.Errorf("job %q already registered", job.Name())
	}

	id, err := s.cron.AddFunc(schedule, func() { s.RunNow(context.Background(), job) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	s.entries[job.Name()] = id
	slog.Info("scheduled job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// Jobs returns the names of the registered jobs
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// RunNow executes job once in the calling goroutine and records the outcome
func (s *Scheduler) RunNow(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, s.runTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		telemetry.ScheduledJobRunsTotal.WithLabelValues(job.Name(), "error").Inc()
		slog.Error("scheduled job failed", "job", job.Name(), "duration", time.Since(start), "error", err)
		return
	}
	telemetry.ScheduledJobRunsTotal.WithLabelValues(job.Name(), "success").Inc()
	slog.Debug("scheduled job finished", "job", job.Name(), "duration", time.Since(start))
}

// Start begins running jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// slogAdapter satisfies cron.Logger on top of slog
type slogAdapter struct {
	log *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.log.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.log.Error(msg, append(keysAndValues, "error", err)...)
}
