package durable

import (
	"context"
	"errors"
)

// ErrConflict is returned by Backend.Update when the entity was modified by another
// transaction between the read and the commit. The adapter retries on it.
var ErrConflict = errors.New("durable: concurrent modification")

// ErrClosed is returned by backends after Close.
var ErrClosed = errors.New("durable: backend closed")

// Txn is a transaction scoped to a single storage id.
// Writes are staged and applied only when the enclosing Update commits.
type Txn interface {
	// Get reads the entity inside the transaction; (nil, false, nil) when absent.
	Get(ctx context.Context) ([]byte, bool, error)
	// Put stages data as the new state of the entity.
	Put(data []byte)
	// Delete stages removal of the entity.
	Delete()
}

// Backend is a transactional per-key store with optimistic concurrency.
//
// Update begins a transaction on id and runs fn. When fn returns nil the staged
// writes are committed atomically; a transaction without staged writes commits
// nothing. When fn returns an error the transaction is rolled back and the error is
// returned unchanged. A commit rejected because id changed concurrently returns
// ErrConflict. Any other error means the backend is unavailable.
type Backend interface {
	Update(ctx context.Context, id string, fn func(Txn) error) error
	// Get is a non-transactional read of the last committed state.
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Close(ctx context.Context) error
}
