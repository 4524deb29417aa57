package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/viralforge/escrow-commission-engine/internal/application"
)

// JobRunner runs one named reconciliation job.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (application.JobResult, error)
}

type Schedule struct {
	Job  string
	Spec string
}

// Scheduler fires reconciliation jobs on cron specs. A job still running
// when its next tick arrives is skipped rather than overlapped.
type Scheduler struct {
	logger *slog.Logger
	runner JobRunner
	cron   *cron.Cron
	runCtx context.Context
}

func New(logger *slog.Logger, runner JobRunner, schedules []Schedule) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cronLogger := slogCronLogger{logger: logger}
	s := &Scheduler{
		logger: logger,
		runner: runner,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		runCtx: context.Background(),
	}
	for _, sch := range schedules {
		if sch.Spec == "" {
			continue
		}
		job := sch.Job
		if _, err := s.cron.AddFunc(sch.Spec, func() { s.runJob(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job, sch.Spec, err)
		}
	}
	return s, nil
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtx = ctx
	s.cron.Start()
	s.logger.InfoContext(ctx, "reconciliation scheduler started",
		"module", "scheduler",
		"layer", "adapter",
		"operation", "scheduler_start",
		"outcome", "success",
		"entries", len(s.cron.Entries()),
	)
	<-ctx.Done()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn("scheduler stop timed out with jobs still running",
			"module", "scheduler",
			"layer", "adapter",
			"operation", "scheduler_stop",
			"outcome", "failure",
		)
	}
	return ctx.Err()
}

func (s *Scheduler) runJob(job string) {
	result, err := s.runner.RunJob(s.runCtx, job)
	if err != nil {
		s.logger.ErrorContext(s.runCtx, "scheduled job failed",
			"module", "scheduler",
			"layer", "adapter",
			"operation", job,
			"outcome", "failure",
			"error", err,
		)
		return
	}
	s.logger.DebugContext(s.runCtx, "scheduled job finished",
		"module", "scheduler",
		"layer", "adapter",
		"operation", job,
		"outcome", "success",
		"items_processed", result.ItemsProcessed,
		"errors", len(result.Errors),
	)
}

type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, append([]any{"module", "scheduler", "layer", "adapter"}, keysAndValues...)...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"module", "scheduler", "layer", "adapter", "error", err}, keysAndValues...)...)
}
