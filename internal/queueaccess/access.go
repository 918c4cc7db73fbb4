package queueaccess

import (
	"context"

	"fieldsync/internal/ipc"
	"fieldsync/internal/queue"
)

// Access exposes queue inspection and maintenance regardless of whether a
// running daemon serves them over IPC or the queue database is opened
// directly.
type Access interface {
	Health(ctx context.Context) (queue.HealthSummary, error)
	List(ctx context.Context, statuses []string) ([]ipc.MutationItem, error)
	Retry(ctx context.Context, ids []string) (int64, error)
	ClearFailed(ctx context.Context) (int64, error)
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by the queue database.
func NewStoreAccess(store *queue.Store) Access {
	return &storeAccess{store: store}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Health(context.Context) (queue.HealthSummary, error) {
	resp, err := a.client.Status()
	if err != nil {
		return queue.HealthSummary{}, err
	}
	return queue.HealthSummary{
		Total:      resp.QueueTotal,
		Pending:    resp.Pending,
		Processing: resp.Processing,
		Failed:     resp.Failed,
		Exhausted:  resp.Exhausted,
	}, nil
}

func (a *ipcAccess) List(_ context.Context, statuses []string) ([]ipc.MutationItem, error) {
	resp, err := a.client.QueueList(statuses)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *ipcAccess) Retry(_ context.Context, ids []string) (int64, error) {
	resp, err := a.client.QueueRetry(ids)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (a *ipcAccess) ClearFailed(context.Context) (int64, error) {
	resp, err := a.client.QueueClearFailed()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

type storeAccess struct {
	store *queue.Store
}

func (a *storeAccess) Health(ctx context.Context) (queue.HealthSummary, error) {
	return a.store.Health(ctx)
}

func (a *storeAccess) List(ctx context.Context, statuses []string) ([]ipc.MutationItem, error) {
	var filters []queue.Status
	for _, raw := range statuses {
		if parsed, ok := queue.ParseStatus(raw); ok {
			filters = append(filters, parsed)
		}
	}
	mutations, err := a.store.List(ctx, filters...)
	if err != nil {
		return nil, err
	}
	items := make([]ipc.MutationItem, 0, len(mutations))
	for _, m := range mutations {
		if m == nil {
			continue
		}
		items = append(items, ipc.NewMutationItem(m))
	}
	return items, nil
}

func (a *storeAccess) Retry(ctx context.Context, ids []string) (int64, error) {
	return a.store.RetryFailed(ctx, ids...)
}

// ClearFailed removes exhausted rows only. Their staged evidence becomes
// orphaned and is reclaimed by the daemon's startup sweep.
func (a *storeAccess) ClearFailed(ctx context.Context) (int64, error) {
	return a.store.ClearFailed(ctx)
}
