package testsupport

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedMutation inserts a pending mutation with sensible defaults and returns
// it. Callers mutate fields afterwards and call Update when a different
// starting state is needed.
func SeedMutation(t testing.TB, store *queue.Store, kind queue.Kind, payload queue.Payload) *queue.Mutation {
	t.Helper()

	m := &queue.Mutation{
		ID:         uuid.NewString(),
		Kind:       kind,
		Payload:    payload,
		ObservedAt: time.Now().UTC(),
		Status:     queue.StatusPending,
		MaxRetries: 5,
	}
	if err := store.Insert(context.Background(), m); err != nil {
		t.Fatalf("insert mutation: %v", err)
	}
	return m
}
