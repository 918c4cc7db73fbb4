package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"fieldsync/internal/config"
	"fieldsync/internal/connectivity"
	"fieldsync/internal/engine"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
	"fieldsync/internal/scheduler"
)

// Daemon coordinates the background sync services and enforces
// single-instance execution through a file lock.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	engine    *engine.Engine
	monitor   *connectivity.Monitor
	scheduler *scheduler.Scheduler
	logPath   string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Connectivity connectivity.State
	Queue        queue.HealthSummary
	QueueDBPath  string
	LockFilePath string
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	store *queue.Store,
	eng *engine.Engine,
	monitor *connectivity.Monitor,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || store == nil || eng == nil {
		return nil, errors.New("daemon requires config, store, and engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "fieldsyncd.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "daemon"),
		store:     store,
		engine:    eng,
		monitor:   monitor,
		scheduler: sched,
		logPath:   filepath.Join(cfg.Paths.LogDir, "fieldsync.log"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, recovers queue state from the previous
// run, and launches the connectivity monitor and drain scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fieldsync daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.engine.Recover(d.ctx); err != nil {
		d.releaseStart()
		return fmt.Errorf("recover queue state: %w", err)
	}

	if d.monitor != nil {
		d.monitor.Subscribe(func(_, current connectivity.State) {
			if current != connectivity.StateReachable {
				return
			}
			go func() {
				if _, err := d.engine.Drain(context.Background()); err != nil &&
					!errors.Is(err, engine.ErrDrainInProgress) && !errors.Is(err, engine.ErrBackendUnreachable) {
					d.logger.Warn("recovery drain failed", logging.Error(err))
				}
			}()
		})
		if err := d.monitor.Start(d.ctx); err != nil {
			d.releaseStart()
			return fmt.Errorf("start connectivity monitor: %w", err)
		}
	}

	if d.scheduler != nil {
		if err := d.scheduler.Start(d.ctx); err != nil {
			if d.monitor != nil {
				d.monitor.Stop()
			}
			d.releaseStart()
			return fmt.Errorf("start drain scheduler: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("fieldsync daemon started", logging.String("lock", d.lockPath))
	return nil
}

func (d *Daemon) releaseStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop halts background services and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("fieldsync daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Drain triggers a manual drain pass.
func (d *Daemon) Drain(ctx context.Context) (engine.DrainStats, error) {
	return d.engine.Drain(ctx)
}

// ListQueue returns queued mutations filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Mutation, error) {
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// RetryFailed resets failed mutations (optionally a subset) back to pending
// with a fresh retry budget, then nudges a drain.
func (d *Daemon) RetryFailed(ctx context.Context, ids []string) (int64, error) {
	updated, err := d.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	if updated > 0 {
		go func() {
			if _, err := d.engine.Drain(context.Background()); err != nil &&
				!errors.Is(err, engine.ErrDrainInProgress) && !errors.Is(err, engine.ErrBackendUnreachable) {
				d.logger.Warn("post-retry drain failed", logging.Error(err))
			}
		}()
	}
	return updated, nil
}

// ClearFailed removes exhausted mutations and their staged evidence.
func (d *Daemon) ClearFailed(ctx context.Context) (int64, error) {
	exhausted, err := d.store.List(ctx, queue.StatusFailed)
	if err != nil {
		return 0, err
	}
	removed, err := d.store.ClearFailed(ctx)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		owned, err := d.store.EvidencePaths(ctx)
		if err != nil {
			return removed, err
		}
		for _, m := range exhausted {
			if m.EvidencePath == "" {
				continue
			}
			if _, stillOwned := owned[m.EvidencePath]; stillOwned {
				continue
			}
			if err := os.Remove(m.EvidencePath); err != nil && !os.IsNotExist(err) {
				d.logger.Warn("failed to remove evidence for cleared mutation",
					logging.String(logging.FieldMutationID, m.ID),
					logging.Error(err),
				)
			}
		}
	}
	return removed, nil
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// TestNotification sends a test push through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := notifications.NewService(d.cfg)
	if err := notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	health, err := d.store.Health(ctx)
	if err != nil {
		d.logger.Warn("queue health lookup failed", logging.Error(err))
	}

	state := connectivity.StateUnknown
	if d.monitor != nil {
		state = d.monitor.State()
	}

	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Connectivity: state,
		Queue:        health,
		QueueDBPath:  d.cfg.QueueDatabasePath(),
		LockFilePath: d.lockPath,
	}
}
