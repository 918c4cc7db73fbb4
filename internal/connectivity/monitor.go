package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/logging"
)

// TransitionFunc receives the previous and new state whenever reachability
// changes. Callbacks run on the monitor goroutine and should return quickly.
type TransitionFunc func(previous, current State)

// Monitor polls a Prober on an interval and fans out state transitions to
// subscribers.
type Monitor struct {
	prober       Prober
	pollInterval time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	state       State
	subscribers []TransitionFunc
	running     bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor builds a monitor from configuration. State starts unknown and
// stays unknown until the first probe completes.
func NewMonitor(cfg *config.Config, prober Prober, logger *slog.Logger) *Monitor {
	poll := time.Duration(cfg.Sync.ConnectivityPoll) * time.Second
	if poll <= 0 {
		poll = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Monitor{
		prober:       prober,
		pollInterval: poll,
		logger:       logging.WithComponent(logger, "connectivity"),
		state:        StateUnknown,
	}
}

// State returns the last observed reachability.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reachable reports whether the backend was reachable at the last probe.
// Unknown counts as not reachable.
func (m *Monitor) Reachable() bool {
	return m.State() == StateReachable
}

// Subscribe registers a transition callback. Must be called before Start.
func (m *Monitor) Subscribe(fn TransitionFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Start launches the polling loop. The first probe runs immediately.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return errors.New("connectivity monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.poll()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.poll()
		}
	}
}

func (m *Monitor) poll() {
	ctx := m.ctx
	if ctx == nil || m.prober == nil {
		return
	}

	current := m.prober.Probe(ctx)
	if current == StateUnknown {
		return
	}

	m.mu.Lock()
	previous := m.state
	if current == previous {
		m.mu.Unlock()
		return
	}
	m.state = current
	subscribers := make([]TransitionFunc, len(m.subscribers))
	copy(subscribers, m.subscribers)
	m.mu.Unlock()

	m.logger.Info("connectivity changed",
		logging.String("previous", string(previous)),
		logging.String("current", string(current)),
	)
	for _, fn := range subscribers {
		fn(previous, current)
	}
}
