package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fieldsync/internal/config"
	"fieldsync/internal/engine"
	"fieldsync/internal/evidence"
	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

type stubConnectivity struct {
	mu        sync.Mutex
	reachable bool
}

func (s *stubConnectivity) Reachable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reachable
}

func (s *stubConnectivity) set(reachable bool) {
	s.mu.Lock()
	s.reachable = reachable
	s.mu.Unlock()
}

type recordingNotifier struct {
	mu        sync.Mutex
	exhausted []string
	drains    int
}

func (n *recordingNotifier) NotifyRetriesExhausted(_ context.Context, mutationID, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.exhausted = append(n.exhausted, mutationID)
	return nil
}

func (n *recordingNotifier) NotifyDrainCompleted(context.Context, int, int, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drains++
	return nil
}

func (n *recordingNotifier) TestNotification(context.Context) error { return nil }

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	stager   *evidence.Stager
	conn     *stubConnectivity
	notifier *recordingNotifier

	mu        sync.Mutex
	delivered []string
	failures  map[queue.Kind]int
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return &fixture{
		cfg:      cfg,
		store:    testsupport.MustOpenStore(t, cfg),
		stager:   evidence.NewStager(cfg, nil),
		conn:     &stubConnectivity{},
		notifier: &recordingNotifier{},
		failures: make(map[queue.Kind]int),
	}
}

// handler records delivered payload markers and fails the configured number
// of times per kind before succeeding.
func (f *fixture) handler(ctx context.Context, m *queue.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if remaining := f.failures[m.Kind]; remaining > 0 {
		f.failures[m.Kind] = remaining - 1
		return errors.New("backend rejected")
	}
	f.delivered = append(f.delivered, m.Payload["marker"])
	return nil
}

func (f *fixture) engine(t *testing.T) *engine.Engine {
	t.Helper()
	handlers := make(map[queue.Kind]engine.HandlerFunc)
	for _, kind := range queue.AllKinds() {
		handlers[kind] = f.handler
	}
	eng, err := engine.New(f.cfg, f.store, f.stager, f.conn, handlers, f.notifier, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng
}

func (f *fixture) deliveredMarkers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.delivered))
	copy(cp, f.delivered)
	return cp
}

func TestEnqueueOfflineThenDrainInOrder(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)
	ctx := context.Background()

	// Offline: actions queue without touching the network.
	for _, marker := range []string{"a", "b", "c"} {
		if _, err := eng.Enqueue(ctx, engine.EnqueueRequest{
			Kind:    queue.KindStatusUpdate,
			Payload: queue.Payload{"marker": marker},
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if got := f.deliveredMarkers(); len(got) != 0 {
		t.Fatalf("nothing should deliver while offline, got %v", got)
	}

	f.conn.set(true)
	stats, err := eng.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Processed != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	got := f.deliveredMarkers()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("delivery order = %v", got)
	}

	remaining, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("delivered mutations must be removed, %d remain", len(remaining))
	}
}

func TestDrainRefusesWhileUnreachable(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)

	if _, err := eng.Drain(context.Background()); !errors.Is(err, engine.ErrBackendUnreachable) {
		t.Fatalf("expected ErrBackendUnreachable, got %v", err)
	}
}

func TestDrainRetainsFailedUnderBudgetInSlot(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)
	ctx := context.Background()
	f.conn.set(true)

	// check_in fails once; status_update behind it succeeds.
	f.failures[queue.KindCheckIn] = 1
	if _, err := eng.Enqueue(ctx, engine.EnqueueRequest{Kind: queue.KindCheckIn, Payload: queue.Payload{"marker": "first"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Opportunistic drains race this test; wait for the queue to settle.
	waitForStats(t, f.store, func(h queue.HealthSummary) bool { return h.Failed == 1 })

	if _, err := eng.Enqueue(ctx, engine.EnqueueRequest{Kind: queue.KindStatusUpdate, Payload: queue.Payload{"marker": "second"}}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Next drain retries the failed head before anything newer. Tolerate the
	// opportunistic drain from the second enqueue holding the lock.
	if _, err := eng.Drain(ctx); err != nil && !errors.Is(err, engine.ErrDrainInProgress) {
		t.Fatalf("Drain: %v", err)
	}
	waitForStats(t, f.store, func(h queue.HealthSummary) bool { return h.Total == 0 })

	got := f.deliveredMarkers()
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("delivered = %v", got)
	}
}

func TestRetriesExhaustedNotifiesAndParks(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxRetries(2))
	eng := f.engine(t)
	ctx := context.Background()
	f.conn.set(false)

	f.failures[queue.KindCheckOut] = 100
	m, err := eng.Enqueue(ctx, engine.EnqueueRequest{Kind: queue.KindCheckOut, Payload: queue.Payload{"marker": "x"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.conn.set(true)
	for i := 0; i < 2; i++ {
		if _, err := eng.Drain(ctx); err != nil {
			t.Fatalf("Drain %d: %v", i, err)
		}
	}

	got, err := f.store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil || got.Status != queue.StatusFailed || !got.Exhausted() {
		t.Fatalf("expected exhausted failed mutation, got %+v", got)
	}

	// Exhausted mutations drop out of later drains.
	stats, err := eng.Drain(ctx)
	if err != nil {
		t.Fatalf("final Drain: %v", err)
	}
	if stats.Attempted != 0 {
		t.Fatalf("exhausted mutation was attempted again: %+v", stats)
	}

	f.notifier.mu.Lock()
	exhausted := len(f.notifier.exhausted)
	f.notifier.mu.Unlock()
	if exhausted != 1 {
		t.Fatalf("exhaustion notifications = %d, want 1", exhausted)
	}
}

func TestDrainSingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conn.set(true)

	release := make(chan struct{})
	started := make(chan struct{})
	handlers := map[queue.Kind]engine.HandlerFunc{
		queue.KindCheckIn: func(context.Context, *queue.Mutation) error {
			close(started)
			<-release
			return nil
		},
	}
	eng, err := engine.New(f.cfg, f.store, f.stager, f.conn, handlers, f.notifier, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	testsupport.SeedMutation(t, f.store, queue.KindCheckIn, queue.Payload{})

	done := make(chan error, 1)
	go func() {
		_, drainErr := eng.Drain(ctx)
		done <- drainErr
	}()

	<-started
	if _, err := eng.Drain(ctx); !errors.Is(err, engine.ErrDrainInProgress) {
		t.Fatalf("expected ErrDrainInProgress, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first drain failed: %v", err)
	}
}

func TestEnqueueStagesEvidenceAndDiscardsOnDelivery(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "proof.jpg")
	testsupport.WriteFile(t, source, 256)

	m, err := eng.Enqueue(ctx, engine.EnqueueRequest{
		Kind:           queue.KindCheckOut,
		Payload:        queue.Payload{"marker": "with-photo"},
		EvidenceSource: source,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if m.EvidencePath == "" {
		t.Fatal("expected staged evidence path")
	}
	if _, err := os.Stat(m.EvidencePath); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}

	f.conn.set(true)
	if _, err := eng.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if _, err := os.Stat(m.EvidencePath); !os.IsNotExist(err) {
		t.Fatal("staged evidence should be discarded after delivery")
	}
}

func TestEnqueueAbortsWhenStagingFails(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)

	_, err := eng.Enqueue(context.Background(), engine.EnqueueRequest{
		Kind:           queue.KindCheckOut,
		Payload:        queue.Payload{},
		EvidenceSource: filepath.Join(t.TempDir(), "missing.jpg"),
	})
	if err == nil {
		t.Fatal("expected staging failure to abort enqueue")
	}

	mutations, listErr := f.store.List(context.Background())
	if listErr != nil {
		t.Fatalf("List: %v", listErr)
	}
	if len(mutations) != 0 {
		t.Fatal("no mutation should be queued when staging fails")
	}
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)

	if _, err := eng.Enqueue(context.Background(), engine.EnqueueRequest{Kind: "teleport"}); err == nil {
		t.Fatal("expected unknown kind rejection")
	}
}

func TestRecoverResetsInFlightAndSweepsOrphans(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)
	ctx := context.Background()

	stuck := testsupport.SeedMutation(t, f.store, queue.KindCheckIn, queue.Payload{})
	stuck.Status = queue.StatusProcessing
	if err := f.store.Update(ctx, stuck); err != nil {
		t.Fatalf("Update: %v", err)
	}

	orphan := filepath.Join(f.cfg.Paths.StagingDir, "nobody_1700000000000.jpg")
	testsupport.WriteFile(t, orphan, 32)

	if err := eng.Recover(ctx); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	got, err := f.store.GetByID(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status after recover = %q", got.Status)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphan evidence should be swept on recover")
	}
}

func TestEvidenceRetainedWhileDeliveryFails(t *testing.T) {
	f := newFixture(t)
	eng := f.engine(t)
	ctx := context.Background()

	source := filepath.Join(t.TempDir(), "proof.jpg")
	testsupport.WriteFile(t, source, 128)

	// Offline enqueue, then one rejected delivery attempt.
	f.failures[queue.KindCheckOut] = 1
	m, err := eng.Enqueue(ctx, engine.EnqueueRequest{
		Kind:           queue.KindCheckOut,
		Payload:        queue.Payload{"marker": "keep-photo"},
		EvidenceSource: source,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	f.conn.set(true)
	stats, err := eng.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	// The staged photo outlives the failed attempt; only confirmed delivery
	// may discard it.
	if _, err := os.Stat(m.EvidencePath); err != nil {
		t.Fatalf("staged evidence gone after failed delivery: %v", err)
	}
	got, err := f.store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusFailed || got.EvidencePath != m.EvidencePath {
		t.Fatalf("mutation after failure = %+v", got)
	}

	// The retry succeeds and the photo is discarded with it.
	if _, err := eng.Drain(ctx); err != nil {
		t.Fatalf("retry Drain: %v", err)
	}
	if _, err := os.Stat(m.EvidencePath); !os.IsNotExist(err) {
		t.Fatal("staged evidence should be discarded after successful retry")
	}
}

func TestDrainReportsStoreFailureDistinctly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.conn.set(true)

	// The handler yanks its own row before failing, so the retry bookkeeping
	// has nothing to update.
	handlers := map[queue.Kind]engine.HandlerFunc{
		queue.KindCheckIn: func(ctx context.Context, m *queue.Mutation) error {
			if _, err := f.store.Remove(ctx, m.ID); err != nil {
				t.Errorf("Remove: %v", err)
			}
			return errors.New("backend rejected")
		},
	}
	eng, err := engine.New(f.cfg, f.store, f.stager, f.conn, handlers, f.notifier, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	testsupport.SeedMutation(t, f.store, queue.KindCheckIn, queue.Payload{})

	stats, err := eng.Drain(ctx)
	if err == nil {
		t.Fatal("expected drain to surface the store failure")
	}
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("drain error = %v", err)
	}
	if stats.Attempted != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func waitForStats(t *testing.T, store *queue.Store, ok func(queue.HealthSummary) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		health, err := store.Health(context.Background())
		if err != nil {
			t.Fatalf("Health: %v", err)
		}
		if ok(health) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("queue never settled: %+v", health)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
