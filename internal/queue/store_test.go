package queue_test

import (
	"context"
	"testing"
	"time"

	"fieldsync/internal/queue"
	"fieldsync/internal/testsupport"
)

func TestInsertAndGetRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	seeded := testsupport.SeedMutation(t, store, queue.KindCheckIn, queue.Payload{
		"stop_id":   "stop-17",
		"driver_id": "drv-4",
	})

	got, err := store.GetByID(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("expected mutation, got nil")
	}
	if got.Kind != queue.KindCheckIn {
		t.Fatalf("kind = %q", got.Kind)
	}
	if got.Payload["stop_id"] != "stop-17" {
		t.Fatalf("payload round-trip lost data: %+v", got.Payload)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %q", got.Status)
	}
	if got.QueuedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be stamped on insert")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	got, err := store.GetByID(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing id, got %+v", got)
	}
}

func TestEligiblePreservesEnqueueOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.SeedMutation(t, store, queue.KindCheckIn, queue.Payload{"stop_id": "a"})
	second := testsupport.SeedMutation(t, store, queue.KindStatusUpdate, queue.Payload{"stop_id": "b"})
	third := testsupport.SeedMutation(t, store, queue.KindCheckOut, queue.Payload{"stop_id": "c"})

	// A failed record under budget stays in the drain set, in its original slot.
	second.SetFailed("transient")
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// An exhausted record drops out.
	third.RetryCount = third.MaxRetries
	third.Status = queue.StatusFailed
	if err := store.Update(ctx, third); err != nil {
		t.Fatalf("Update: %v", err)
	}

	eligible, err := store.Eligible(ctx)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if len(eligible) != 2 {
		t.Fatalf("expected 2 eligible mutations, got %d", len(eligible))
	}
	if eligible[0].ID != first.ID || eligible[1].ID != second.ID {
		t.Fatalf("order wrong: got %s, %s", eligible[0].ID, eligible[1].ID)
	}
}

func TestUpdateMissingMutation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	m := &queue.Mutation{ID: "ghost", Kind: queue.KindCheckIn, Status: queue.StatusPending, ObservedAt: time.Now()}
	if err := store.Update(context.Background(), m); err == nil {
		t.Fatal("expected error updating missing mutation")
	}
}

func TestRemove(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	m := testsupport.SeedMutation(t, store, queue.KindLocationUpdate, queue.Payload{"lat": "52.1"})
	removed, err := store.Remove(ctx, m.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal")
	}

	removed, err = store.Remove(ctx, m.ID)
	if err != nil {
		t.Fatalf("Remove second call: %v", err)
	}
	if removed {
		t.Fatal("second removal should report false")
	}
}

func TestResetProcessing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	stuck := testsupport.SeedMutation(t, store, queue.KindCheckOut, queue.Payload{"stop_id": "x"})
	stuck.Status = queue.StatusProcessing
	if err := store.Update(ctx, stuck); err != nil {
		t.Fatalf("Update: %v", err)
	}
	testsupport.SeedMutation(t, store, queue.KindCheckIn, queue.Payload{"stop_id": "y"})

	reset, err := store.ResetProcessing(ctx)
	if err != nil {
		t.Fatalf("ResetProcessing: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset, got %d", reset)
	}

	got, err := store.GetByID(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status after reset = %q", got.Status)
	}
}

func TestRetryFailedResetsBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	m := testsupport.SeedMutation(t, store, queue.KindRecordEvidence, queue.Payload{"stop_id": "z"})
	m.Status = queue.StatusFailed
	m.RetryCount = m.MaxRetries
	m.ErrorMessage = "backend 500"
	if err := store.Update(ctx, m); err != nil {
		t.Fatalf("Update: %v", err)
	}

	affected, err := store.RetryFailed(ctx, m.ID)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected, got %d", affected)
	}

	got, err := store.GetByID(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != queue.StatusPending || got.RetryCount != 0 || got.ErrorMessage != "" {
		t.Fatalf("retry reset incomplete: %+v", got)
	}
}

func TestClearFailedOnlyRemovesExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	underBudget := testsupport.SeedMutation(t, store, queue.KindCheckIn, queue.Payload{})
	underBudget.SetFailed("once")
	if err := store.Update(ctx, underBudget); err != nil {
		t.Fatalf("Update: %v", err)
	}

	exhausted := testsupport.SeedMutation(t, store, queue.KindCheckOut, queue.Payload{})
	exhausted.Status = queue.StatusFailed
	exhausted.RetryCount = exhausted.MaxRetries
	if err := store.Update(ctx, exhausted); err != nil {
		t.Fatalf("Update: %v", err)
	}

	cleared, err := store.ClearFailed(ctx)
	if err != nil {
		t.Fatalf("ClearFailed: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected 1 cleared, got %d", cleared)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != underBudget.ID {
		t.Fatalf("wrong survivor set: %+v", remaining)
	}
}

func TestHealthCountsExhausted(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedMutation(t, store, queue.KindCheckIn, queue.Payload{})

	failed := testsupport.SeedMutation(t, store, queue.KindCheckOut, queue.Payload{})
	failed.Status = queue.StatusFailed
	failed.RetryCount = failed.MaxRetries
	if err := store.Update(ctx, failed); err != nil {
		t.Fatalf("Update: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Pending != 1 || health.Failed != 1 || health.Exhausted != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	count, err := store.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("PendingCount = %d", count)
	}
}
