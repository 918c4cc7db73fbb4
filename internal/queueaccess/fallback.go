package queueaccess

import (
	"errors"
	"fmt"

	"fieldsync/internal/ipc"
	"fieldsync/internal/queue"
)

// Session bundles an Access with the cleanup for its backing resource.
type Session struct {
	Access Access

	// Daemon reports whether a running daemon is serving the session.
	Daemon bool

	close func() error
}

// Close releases the IPC connection or the store behind the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback prefers a daemon IPC connection and falls back to opening
// the queue database directly when no daemon is listening.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openStore func() (*queue.Store, error),
) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			return Session{Access: NewIPCAccess(client), Daemon: true, close: client.Close}, nil
		}
	}

	if openStore == nil {
		return Session{}, errors.New("no queue store opener configured")
	}
	store, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open queue database: %w", err)
	}
	return Session{Access: NewStoreAccess(store), close: store.Close}, nil
}
