package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
)

// minInterval is the floor for the periodic drain. Anything tighter burns
// battery and radio on a device that spends hours out of coverage.
const minInterval = 60 * time.Second

// DrainFunc runs one drain pass. Satisfied by (*engine.Engine).Drain.
type DrainFunc func(ctx context.Context) (engine.DrainStats, error)

// Scheduler fires best-effort periodic drains so the queue moves even when
// no enqueue or connectivity transition happens to trigger one.
type Scheduler struct {
	drain    DrainFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler. The configured interval is clamped to the floor.
func New(cfg *config.Config, drain DrainFunc, logger *slog.Logger) *Scheduler {
	interval := time.Duration(cfg.Sync.DrainInterval) * time.Second
	if interval < minInterval {
		interval = minInterval
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		drain:    drain,
		interval: interval,
		logger:   logging.WithComponent(logger, "scheduler"),
	}
}

// Interval returns the effective tick interval after clamping.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the tick loop. The first drain waits a full interval; the
// daemon already drains on startup recovery and connectivity changes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop cancels the tick loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(s.ctx)
		}
	}
}

// runOnce executes a single scheduled drain. Being offline or losing the
// single-flight race are normal outcomes, not errors worth alerting on.
func (s *Scheduler) runOnce(ctx context.Context) {
	if s.drain == nil {
		return
	}
	stats, err := s.drain(ctx)
	switch {
	case err == nil:
		if stats.Attempted > 0 {
			s.logger.Info("scheduled drain finished",
				logging.Int("processed", stats.Processed),
				logging.Int("failed", stats.Failed),
			)
		}
	case errors.Is(err, engine.ErrDrainInProgress), errors.Is(err, engine.ErrBackendUnreachable):
		s.logger.Debug("scheduled drain skipped", logging.Error(err))
	default:
		s.logger.Warn("scheduled drain failed", logging.Error(err))
	}
}
