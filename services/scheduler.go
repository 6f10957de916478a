package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mmair/metrics"
	"mmair/models"

	"go.uber.org/zap"
)

// SweepRunner is what the scheduler triggers on every tick.
type SweepRunner interface {
	Run(ctx context.Context) (*models.SweepResult, error)
}

// Scheduler runs a sweep immediately and then on a fixed interval. It owns the
// only running flag; it holds no business logic.
type Scheduler struct {
	runner   SweepRunner
	interval time.Duration
	logger   *zap.Logger

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(runner SweepRunner, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// Start begins the periodic sweep. It reports false, and does nothing, when the
// scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("Dust monitor already running")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	metrics.SchedulerActive.Set(1)

	s.logger.Info("Starting dust monitor", zap.Duration("interval", s.interval))
	go s.loop(ctx, s.done)
	return true
}

// Stop cancels future ticks, aborts a sweep in flight and waits for the loop to
// exit. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return
	}

	s.cancel()
	<-s.done
	s.logger.Info("Dust monitor stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		s.running.Store(false)
		metrics.SchedulerActive.Set(0)
	}()

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep; nothing it raises may end the schedule.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("scheduler").Inc()
			s.logger.Error("Recovered from panic in dust sweep", zap.Any("panic", r))
		}
	}()

	if _, err := s.runner.Run(ctx); err != nil {
		if errors.Is(err, ErrSweepInProgress) {
			s.logger.Warn("Previous dust sweep still running, skipping tick")
			return
		}
		s.logger.Error("Dust sweep failed", zap.Error(err))
	}
}
