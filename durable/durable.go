// Package durable implements the authoritative tier: the atomic key-value contract
// on top of a transactional per-key Backend with optimistic concurrency.
//
// Every mutation runs read, evaluate, write inside one Backend.Update. A commit
// conflict replays the whole cycle; a failed precondition commits nothing and is
// returned as a normal result without retrying.
package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/unkn0wn-root/tiermap/internal/util"
	"github.com/unkn0wn-root/tiermap/internal/wire"
	"github.com/unkn0wn-root/tiermap/kv"
)

var (
	// ErrTooManyConflicts is returned when a mutation kept conflicting until the backoff gave up.
	ErrTooManyConflicts = errors.New("durable: gave up after repeated transaction conflicts")
	// ErrCorrupt is returned when a stored record cannot be decoded or belongs to another key.
	ErrCorrupt = errors.New("durable: corrupt record")
)

// Config configures a durable Store. Namespace and Backend are required.
type Config struct {
	Namespace string
	Backend   Backend
	Logger    kv.Logger
	// Backoff returns a fresh policy for each mutation; nil => DefaultBackoff.
	Backoff func() retry.Backoff
}

// DefaultBackoff retries conflicts with jittered exponential waits from 2ms,
// each wait capped at 100ms, for at most 24 retries.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(2 * time.Millisecond)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithCappedDuration(100*time.Millisecond, b)
	return retry.WithMaxRetries(24, b)
}

// Store is the durable adapter.
type Store struct {
	ns      string
	backend Backend
	log     kv.Logger
	backoff func() retry.Backoff
}

var _ kv.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("durable: backend is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("durable: namespace is required")
	}
	s := &Store{
		ns:      cfg.Namespace,
		backend: cfg.Backend,
		log:     kv.OrNop(cfg.Logger),
		backoff: cfg.Backoff,
	}
	if s.backoff == nil {
		s.backoff = DefaultBackoff
	}
	return s, nil
}

// Close closes the backend.
func (s *Store) Close(ctx context.Context) error { return s.backend.Close(ctx) }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := kv.CheckKey(key); err != nil {
		return nil, false, err
	}
	id := s.id(key)
	raw, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("durable: get %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	v, err := s.decode(key, raw)
	if err != nil {
		return nil, false, fmt.Errorf("durable: get %s: %w", id, err)
	}
	return v, true, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) (prev []byte, loaded bool, err error) {
	if err := kv.CheckArgs(key, value); err != nil {
		return nil, false, err
	}
	err = s.update(ctx, "put-if-absent", key, func(cur []byte, found bool, tx Txn) {
		prev, loaded = cur, found
		if !found {
			tx.Put(wire.EncodeEntry(key, value))
		}
	})
	if err != nil {
		return nil, false, err
	}
	return prev, loaded, nil
}

func (s *Store) Replace(ctx context.Context, key string, value []byte) (prev []byte, replaced bool, err error) {
	if err := kv.CheckArgs(key, value); err != nil {
		return nil, false, err
	}
	err = s.update(ctx, "replace", key, func(cur []byte, found bool, tx Txn) {
		prev, replaced = cur, found
		if found {
			tx.Put(wire.EncodeEntry(key, value))
		}
	})
	if err != nil {
		return nil, false, err
	}
	return prev, replaced, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, new []byte) (swapped bool, err error) {
	if err := kv.CheckArgs(key, old, new); err != nil {
		return false, err
	}
	err = s.update(ctx, "compare-and-swap", key, func(cur []byte, found bool, tx Txn) {
		swapped = found && kv.Equal(cur, old)
		if swapped {
			tx.Put(wire.EncodeEntry(key, new))
		}
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (deleted bool, err error) {
	if err := kv.CheckArgs(key, old); err != nil {
		return false, err
	}
	err = s.update(ctx, "compare-and-delete", key, func(cur []byte, found bool, tx Txn) {
		deleted = found && kv.Equal(cur, old)
		if deleted {
			tx.Delete()
		}
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// update runs eval inside a transaction on key's storage id, replaying the whole
// read-evaluate-write cycle on commit conflicts. eval must assign every result it
// produces since it runs once per attempt.
func (s *Store) update(ctx context.Context, op, key string, eval func(cur []byte, found bool, tx Txn)) error {
	id := s.id(key)
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.log.Debug("retrying durable transaction", kv.Fields{"op": op, "id": id, "attempt": attempt})
		}
		err := s.backend.Update(ctx, id, func(tx Txn) error {
			raw, found, err := tx.Get(ctx)
			if err != nil {
				return err
			}
			var cur []byte
			if found {
				if cur, err = s.decode(key, raw); err != nil {
					return err
				}
			}
			eval(cur, found, tx)
			return nil
		})
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) {
		s.log.Warn("durable transaction kept conflicting", kv.Fields{"op": op, "id": id, "attempts": attempt})
		return fmt.Errorf("durable: %s %s: %w", op, id, ErrTooManyConflicts)
	}
	return fmt.Errorf("durable: %s %s: %w", op, id, err)
}

func (s *Store) decode(key string, raw []byte) ([]byte, error) {
	rec, err := wire.DecodeRecord(raw)
	if err != nil || rec.Tombstone {
		return nil, ErrCorrupt
	}
	if rec.Key != key {
		return nil, fmt.Errorf("%w: stored key %q does not match %q", ErrCorrupt, rec.Key, key)
	}
	return rec.Value, nil
}

func (s *Store) id(key string) string { return util.StorageID(s.ns, key) }
