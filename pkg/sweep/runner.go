package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/reelpipe/reelpipe/pkg/schedule"
)

// Runner drives periodic sweeps in-process for deployments without an
// external cron trigger. Each tick checks whether the schedule's next run
// time has arrived; the intended cadence is once per minute.
type Runner struct {
	worker   *Worker
	schedule schedule.Schedule
	logger   *slog.Logger
	tick     time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithTick overrides the schedule check interval.
func WithTick(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// NewRunner creates a Runner sweeping on the given schedule.
func NewRunner(worker *Worker, s schedule.Schedule, opts ...RunnerOption) *Runner {
	r := &Runner{
		worker:   worker,
		schedule: s,
		logger:   slog.Default(),
		tick:     time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start blocks until the context is cancelled, invoking Sweep each time
// the schedule comes due.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	lastRun := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			now := time.Now()
			next := r.schedule.Next(lastRun)
			if now.Before(next) {
				continue
			}
			lastRun = now
			if _, err := r.worker.Sweep(ctx); err != nil {
				r.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
