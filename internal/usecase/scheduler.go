package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"PMCMirror/internal/domain"
	"PMCMirror/internal/ports"
)

// Scheduler repeats incremental runs on the driver's ticks. A tick that fires
// while a run is still in progress is skipped; the next run starts from the
// persisted mark either way.
type Scheduler struct {
	driver   ports.Scheduler
	pipeline *Pipeline
	logger   *slog.Logger

	running atomic.Bool
	skipped atomic.Int64

	mu   sync.Mutex
	last domain.RunReport
}

// NewScheduler returns a helper to start/stop recurring runs.
func NewScheduler(driver ports.Scheduler, pipeline *Pipeline, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{driver: driver, pipeline: pipeline, logger: logger.With("component", "scheduler")}
}

// Start registers the pipeline with the provided scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.pipeline == nil {
		return nil
	}
	return s.driver.Start(ctx, func(trigger time.Time) { s.tick(ctx, trigger) })
}

func (s *Scheduler) tick(ctx context.Context, trigger time.Time) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Warn("previous run still in progress, tick skipped", "trigger", trigger.Format(time.RFC3339))
		return
	}
	defer s.running.Store(false)

	report, err := s.pipeline.Run(ctx)
	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("scheduled run failed", "trigger", trigger.Format(time.RFC3339), "run_id", report.RunID, "error", err)
	}
}

// LastReport returns the report of the most recent completed run.
func (s *Scheduler) LastReport() domain.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Skipped counts ticks dropped because a run was in progress.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

// Stop gracefully tears down the underlying scheduler.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}
