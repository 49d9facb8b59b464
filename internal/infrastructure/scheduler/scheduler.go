package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job is one unit of recurring work. Errors are logged, never fatal: a broken
// cycle must not stop the next one.
type Job func(ctx context.Context) error

// Scheduler runs a job on a fixed interval with an immediate first run.
// Ticks are skipped while a previous cycle is still running, so cycles never
// overlap.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	logger   *zap.Logger

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

func New(name string, interval time.Duration, job Job, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger.With(zap.String("scheduler", name)),
	}
}

// Start launches the polling loop. The first cycle fires immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return // already started
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx)

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single cycle, skipping if one is already in flight.
// Exported so tests can single-step the loop without real timers.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.running.Store(false)

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error("cycle failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}

	s.logger.Debug("cycle completed", zap.Duration("elapsed", time.Since(start)))
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.logger.Info("scheduler stopped")
}
