package cachestore

import (
	"context"
	"errors"
	"time"
)

// ErrRejected is returned by a backend that refused a write (memory pressure, admission policy).
var ErrRejected = errors.New("cachestore: write rejected by backend")

// Item is a stored value together with its version token. The token changes on
// every successful write and is only meaningful to the backend that issued it.
type Item struct {
	Data  []byte
	Token uint64
}

// Backend is a volatile byte store with version-gated compare-and-swap.
// Must be safe for concurrent use and byte-for-byte transparent.
// A non-positive ttl means no expiry where the backend supports per-entry TTLs.
type Backend interface {
	// Get returns (item, true, nil) on hit and (Item{}, false, nil) on miss.
	Get(ctx context.Context, id string) (Item, bool, error)

	// Add stores data only if id holds nothing. added=false means id is occupied.
	Add(ctx context.Context, id string, data []byte, ttl time.Duration) (added bool, err error)

	// CompareAndSwap stores data only if id still carries token.
	CompareAndSwap(ctx context.Context, id string, token uint64, data []byte, ttl time.Duration) (swapped bool, err error)

	Close(ctx context.Context) error
}
