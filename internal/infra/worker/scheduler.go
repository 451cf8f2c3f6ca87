package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a fixed cadence with robfig/cron.
//
// Runs never overlap: a tick that arrives while the previous run is still in
// progress is skipped and counted. A panicking run is recovered and logged.
type Scheduler struct {
	cron    *cron.Cron
	cfg     ScheduleConfig
	job     Job
	metrics *WorkerMetrics
	health  *HealthServer
	logger  *slog.Logger

	base   context.Context
	cancel context.CancelFunc
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithHealth reports successful runs to h.
func WithHealth(h *HealthServer) SchedulerOption {
	return func(s *Scheduler) { s.health = h }
}

// NewScheduler validates cfg and registers job. Call Start to begin.
func NewScheduler(cfg ScheduleConfig, job Job, metrics *WorkerMetrics, logger *slog.Logger, opts ...SchedulerOption) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		job:     job,
		metrics: metrics,
		logger:  logger,
		base:    base,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{logger: logger, metrics: metrics}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Spec(), s.run); err != nil {
		cancel()
		return nil, fmt.Errorf("NewScheduler: add job: %w", err)
	}
	return s, nil
}

// Start begins ticking in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("analysis schedule started", slog.String("schedule", s.cfg.Spec()))
}

// Stop prevents further runs and waits for a run in progress to finish.
// If ctx expires first, the running job's context is canceled and Stop
// keeps waiting for it to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(s.base, s.cfg.Timeout())
	defer cancel()

	if err := s.job(ctx); err != nil {
		s.recordRun("failure")
		s.logger.Warn("analysis run failed", slog.Any("error", err))
		return
	}

	s.recordRun("success")
	if s.metrics != nil {
		s.metrics.RecordLastSuccess()
	}
	if s.health != nil {
		s.health.MarkCycle(time.Now())
	}
}

func (s *Scheduler) recordRun(status string) {
	if s.metrics != nil {
		s.metrics.RecordRun(status)
	}
}

// cronLogger adapts slog to cron.Logger. Routine scheduler chatter goes to
// debug; skipped ticks are warned about and counted.
type cronLogger struct {
	logger  *slog.Logger
	metrics *WorkerMetrics
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if msg == "skip" {
		if l.metrics != nil {
			l.metrics.RecordSkip()
		}
		l.logger.Warn("analysis tick skipped, previous cycle still running")
		return
	}
	l.logger.Debug("cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]any{slog.Any("error", err)}, keysAndValues...)
	l.logger.Error("cron "+msg, args...)
}
