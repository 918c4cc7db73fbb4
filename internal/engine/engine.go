package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/evidence"
	"fieldsync/internal/logging"
	"fieldsync/internal/notifications"
	"fieldsync/internal/queue"
)

var (
	// ErrDrainInProgress indicates another drain currently holds the queue.
	ErrDrainInProgress = errors.New("drain already in progress")
	// ErrBackendUnreachable indicates a drain was requested while offline.
	ErrBackendUnreachable = errors.New("backend unreachable")
)

// HandlerFunc delivers one mutation to the backend. Handlers must be
// idempotent: delivery is at-least-once and a crash between backend accept
// and local removal replays the mutation.
type HandlerFunc func(ctx context.Context, m *queue.Mutation) error

// ConnectivitySource answers whether the backend is currently reachable.
type ConnectivitySource interface {
	Reachable() bool
}

// EnqueueRequest captures one driver action to be queued.
type EnqueueRequest struct {
	Kind       queue.Kind
	Payload    queue.Payload
	ObservedAt time.Time

	// EvidenceSource is the camera-roll path of a photo to stage alongside
	// the mutation. Empty when the action carries no photo.
	EvidenceSource string
}

// DrainStats summarizes one drain pass.
type DrainStats struct {
	Attempted int
	Processed int
	Failed    int
	Duration  time.Duration
}

// Engine owns the mutation lifecycle: enqueue, drain, recover. All state
// lives in the queue store; the engine itself only holds wiring.
type Engine struct {
	store        *queue.Store
	stager       *evidence.Stager
	connectivity ConnectivitySource
	handlers     map[queue.Kind]HandlerFunc
	notifier     notifications.Service
	logger       *slog.Logger
	maxRetries   int

	// drainMu makes drains single-flight. TryLock keeps concurrent triggers
	// (scheduler tick, connectivity recovery, manual drain) from stacking.
	drainMu sync.Mutex
}

// New wires an engine. Handlers are injected per kind; an enqueue for a kind
// without a handler is rejected up front rather than failing at drain time.
func New(
	cfg *config.Config,
	store *queue.Store,
	stager *evidence.Stager,
	connectivity ConnectivitySource,
	handlers map[queue.Kind]HandlerFunc,
	notifier notifications.Service,
	logger *slog.Logger,
) (*Engine, error) {
	if store == nil {
		return nil, errors.New("queue store is required")
	}
	if stager == nil {
		return nil, errors.New("evidence stager is required")
	}
	if len(handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	maxRetries := cfg.Sync.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	return &Engine{
		store:        store,
		stager:       stager,
		connectivity: connectivity,
		handlers:     handlers,
		notifier:     notifier,
		logger:       logging.WithComponent(logger, "engine"),
		maxRetries:   maxRetries,
	}, nil
}

// Enqueue durably records a driver action and, when the backend is reachable,
// kicks off an asynchronous drain. The action is accepted regardless of
// connectivity; enqueue never blocks on the network.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (*queue.Mutation, error) {
	if _, known := queue.ParseKind(string(req.Kind)); !known {
		return nil, fmt.Errorf("unknown mutation kind %q", req.Kind)
	}
	if _, registered := e.handlers[req.Kind]; !registered {
		return nil, fmt.Errorf("no handler registered for kind %q", req.Kind)
	}

	observedAt := req.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	m := &queue.Mutation{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		Payload:    req.Payload,
		ObservedAt: observedAt,
		Status:     queue.StatusPending,
		MaxRetries: e.maxRetries,
	}

	// Evidence is staged before the record exists, so a staged file either
	// belongs to a queued mutation or gets swept as an orphan; there is never
	// a queued mutation pointing at a photo that was not secured.
	if req.EvidenceSource != "" {
		staged, err := e.stager.Stage(req.EvidenceSource, m.ID, observedAt)
		if err != nil {
			return nil, fmt.Errorf("stage evidence: %w", err)
		}
		m.EvidencePath = staged
	}

	if err := e.store.Insert(ctx, m); err != nil {
		if m.EvidencePath != "" {
			_ = e.stager.Discard(m.EvidencePath)
		}
		return nil, fmt.Errorf("enqueue mutation: %w", err)
	}

	e.logger.Info("mutation enqueued",
		logging.String(logging.FieldMutationID, m.ID),
		logging.String(logging.FieldKind, string(m.Kind)),
		logging.Bool("has_evidence", m.EvidencePath != ""),
	)

	if e.connectivity != nil && e.connectivity.Reachable() {
		go func() {
			if _, err := e.Drain(context.Background()); err != nil &&
				!errors.Is(err, ErrDrainInProgress) && !errors.Is(err, ErrBackendUnreachable) {
				e.logger.Warn("opportunistic drain failed", logging.Error(err))
			}
		}()
	}

	return m, nil
}

// Drain delivers eligible mutations in enqueue order. Only one drain runs at
// a time; a second caller gets ErrDrainInProgress instead of queueing behind
// the first. Handler failures are retry bookkeeping and only show up in the
// stats; store read or write failures during the pass are joined into the
// returned error so callers can tell a durability problem from an ordinary
// rejection.
func (e *Engine) Drain(ctx context.Context) (DrainStats, error) {
	if !e.drainMu.TryLock() {
		return DrainStats{}, ErrDrainInProgress
	}
	defer e.drainMu.Unlock()

	if e.connectivity != nil && !e.connectivity.Reachable() {
		return DrainStats{}, ErrBackendUnreachable
	}

	started := time.Now()
	eligible, err := e.store.Eligible(ctx)
	if err != nil {
		return DrainStats{}, fmt.Errorf("load eligible mutations: %w", err)
	}
	if len(eligible) == 0 {
		return DrainStats{}, nil
	}

	stats := DrainStats{}
	e.logger.Info("drain started", logging.Int("eligible", len(eligible)))

	var persistErrs []error
	for _, m := range eligible {
		if ctx.Err() != nil {
			break
		}
		stats.Attempted++
		delivered, persistErr := e.process(ctx, m)
		if delivered {
			stats.Processed++
		} else {
			stats.Failed++
		}
		if persistErr != nil {
			persistErrs = append(persistErrs, persistErr)
		}
	}

	stats.Duration = time.Since(started)
	e.logger.Info("drain finished",
		logging.Int("processed", stats.Processed),
		logging.Int("failed", stats.Failed),
		logging.Duration("duration", stats.Duration),
	)

	if err := e.notifier.NotifyDrainCompleted(ctx, stats.Processed, stats.Failed, stats.Duration); err != nil {
		e.logger.Warn("drain notification failed", logging.Error(err))
	}
	return stats, errors.Join(persistErrs...)
}

// process delivers one mutation. The bool reports delivery; a non-nil error
// means the store refused a state transition, not that the handler failed.
func (e *Engine) process(ctx context.Context, m *queue.Mutation) (bool, error) {
	logger := e.logger.With(
		logging.String(logging.FieldMutationID, m.ID),
		logging.String(logging.FieldKind, string(m.Kind)),
	)

	handler, ok := e.handlers[m.Kind]
	if !ok {
		// A mutation queued by an older build with a kind this build no
		// longer handles. Leave it failed for operator attention.
		return false, e.markFailed(ctx, m, fmt.Errorf("no handler for kind %q", m.Kind), logger)
	}

	m.Status = queue.StatusProcessing
	if err := e.store.Update(ctx, m); err != nil {
		logger.Error("failed to mark processing", logging.Error(err))
		return false, fmt.Errorf("mark mutation %s processing: %w", m.ID, err)
	}

	if err := handler(ctx, m); err != nil {
		return false, e.markFailed(ctx, m, err, logger)
	}

	if m.EvidencePath != "" {
		if err := e.stager.Discard(m.EvidencePath); err != nil {
			logger.Warn("failed to discard staged evidence", logging.Error(err))
		}
	}
	if _, err := e.store.Remove(ctx, m.ID); err != nil {
		logger.Error("failed to remove completed mutation", logging.Error(err))
		return false, fmt.Errorf("remove delivered mutation %s: %w", m.ID, err)
	}

	logger.Info("mutation delivered", logging.Int("retries", m.RetryCount))
	return true, nil
}

func (e *Engine) markFailed(ctx context.Context, m *queue.Mutation, cause error, logger *slog.Logger) error {
	m.SetFailed(cause.Error())
	if err := e.store.Update(ctx, m); err != nil {
		logger.Error("failed to record mutation failure", logging.Error(err))
		return fmt.Errorf("record mutation %s failure: %w", m.ID, err)
	}

	logger.Warn("mutation delivery failed",
		logging.Int("retry_count", m.RetryCount),
		logging.Int("max_retries", m.MaxRetries),
		logging.Error(cause),
	)

	if m.Exhausted() {
		logger.Error("mutation retries exhausted; manual retry required")
		if err := e.notifier.NotifyRetriesExhausted(ctx, m.ID, string(m.Kind), m.ErrorMessage); err != nil {
			logger.Warn("exhaustion notification failed", logging.Error(err))
		}
	}
	return nil
}

// Recover returns crashed-in-flight mutations to pending and sweeps staged
// evidence no mutation owns. Runs once at daemon startup before any drain.
func (e *Engine) Recover(ctx context.Context) error {
	reset, err := e.store.ResetProcessing(ctx)
	if err != nil {
		return fmt.Errorf("reset in-flight mutations: %w", err)
	}
	if reset > 0 {
		e.logger.Info("reset in-flight mutations from previous run", logging.Int64("count", reset))
	}

	owned, err := e.store.EvidencePaths(ctx)
	if err != nil {
		return fmt.Errorf("load owned evidence paths: %w", err)
	}
	if _, err := e.stager.Sweep(owned); err != nil {
		return fmt.Errorf("sweep staged evidence: %w", err)
	}
	return nil
}
