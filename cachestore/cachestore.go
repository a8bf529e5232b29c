// Package cachestore implements the cache tier: the atomic key-value contract on
// a volatile store that offers insert-if-absent and token-gated compare-and-swap.
//
// Deletion writes a tombstone record instead of removing the key so that later
// compare-and-swap calls always have a token to race against. Tombstones are never
// returned as values.
//
// The cache tier is never authoritative. Every backend failure is returned as an
// *Error, which matches ErrCacheTier, so the coordinator can treat it as recoverable.
package cachestore

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

const defaultTTL = 10 * time.Minute

var (
	// ErrCacheTier matches every error produced by this package's Store.
	ErrCacheTier = errors.New("cachestore: cache tier failure")
	// ErrTooManyRaces is returned when token races outlasted the backoff.
	ErrTooManyRaces = errors.New("cachestore: gave up after repeated CAS races")

	errRace = errors.New("cachestore: token moved")
)

// Error is a recoverable cache-tier failure.
type Error struct {
	Op  string
	ID  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cachestore: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrCacheTier, e.Err} }

// Config configures a cache Store. Namespace and Backend are required.
type Config struct {
	Namespace string
	Backend   Backend
	Logger    kv.Logger
	// TTL for values and tombstones; 0 => 10m, negative => no expiry.
	TTL time.Duration
	// Backoff returns a fresh policy for each operation; nil => DefaultBackoff.
	Backoff func() retry.Backoff
}

// DefaultBackoff retries token races with short exponential waits from 1ms,
// each capped at 20ms, for at most 16 retries.
func DefaultBackoff() retry.Backoff {
	b := retry.NewExponential(time.Millisecond)
	b = retry.WithCappedDuration(20*time.Millisecond, b)
	return retry.WithMaxRetries(16, b)
}

// Store is the cache adapter.
type Store struct {
	ns      string
	backend Backend
	log     kv.Logger
	ttl     time.Duration
	backoff func() retry.Backoff
}

var _ kv.Store = (*Store)(nil)

func New(cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("cachestore: backend is required")
	}
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("cachestore: namespace is required")
	}
	s := &Store{
		ns:      cfg.Namespace,
		backend: cfg.Backend,
		log:     kv.OrNop(cfg.Logger),
		ttl:     cfg.TTL,
		backoff: cfg.Backoff,
	}
	switch {
	case s.ttl == 0:
		s.ttl = defaultTTL
	case s.ttl < 0:
		s.ttl = 0
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
	item, ok, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, false, &Error{Op: "get", ID: id, Err: err}
	}
	if !ok {
		return nil, false, nil
	}
	v, live := s.decode(key, id, item.Data)
	if !live {
		return nil, false, nil
	}
	return v, true, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, key string, value []byte) (prev []byte, loaded bool, err error) {
	if err := kv.CheckArgs(key, value); err != nil {
		return nil, false, err
	}
	id := s.id(key)
	data := wire.EncodeEntry(key, value)
	err = s.loop(ctx, "put-if-absent", id, func(ctx context.Context) error {
		prev, loaded = nil, false
		added, err := s.backend.Add(ctx, id, data, s.ttl)
		if err != nil || added {
			return err
		}
		// Occupied: someone else's value, or a tombstone we may claim.
		item, ok, err := s.backend.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return errRace // evicted between Add and Get
		}
		if v, live := s.decode(key, id, item.Data); live {
			prev, loaded = v, true
			return nil
		}
		swapped, err := s.backend.CompareAndSwap(ctx, id, item.Token, data, s.ttl)
		if err != nil || swapped {
			return err
		}
		return errRace
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
	id := s.id(key)
	data := wire.EncodeEntry(key, value)
	err = s.loop(ctx, "replace", id, func(ctx context.Context) error {
		prev, replaced = nil, false
		item, ok, err := s.backend.Get(ctx, id)
		if err != nil || !ok {
			return err
		}
		v, live := s.decode(key, id, item.Data)
		if !live {
			return nil
		}
		swapped, err := s.backend.CompareAndSwap(ctx, id, item.Token, data, s.ttl)
		if err != nil {
			return err
		}
		if !swapped {
			return errRace
		}
		prev, replaced = v, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return prev, replaced, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	if err := kv.CheckArgs(key, old, new); err != nil {
		return false, err
	}
	return s.swapIfEqual(ctx, "compare-and-swap", key, old, wire.EncodeEntry(key, new))
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := kv.CheckArgs(key, old); err != nil {
		return false, err
	}
	return s.swapIfEqual(ctx, "compare-and-delete", key, old, wire.EncodeTombstone())
}

// swapIfEqual confirms the current value equals old once, then writes data,
// retrying only when the token moved. Retries do not re-check old; they stop
// when the entry disappeared or became a tombstone.
func (s *Store) swapIfEqual(ctx context.Context, op, key string, old, data []byte) (swapped bool, err error) {
	id := s.id(key)
	confirmed := false
	err = s.loop(ctx, op, id, func(ctx context.Context) error {
		swapped = false
		item, ok, err := s.backend.Get(ctx, id)
		if err != nil || !ok {
			return err
		}
		v, live := s.decode(key, id, item.Data)
		if !live {
			return nil
		}
		if !confirmed {
			if !kv.Equal(v, old) {
				return nil
			}
			confirmed = true
		}
		ok, err = s.backend.CompareAndSwap(ctx, id, item.Token, data, s.ttl)
		if err != nil {
			return err
		}
		if !ok {
			return errRace
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *Store) loop(ctx context.Context, op, id string, step func(context.Context) error) error {
	attempt := 0
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			s.log.Debug("retrying cache CAS", kv.Fields{"op": op, "id": id, "attempt": attempt})
		}
		err := step(ctx)
		if errors.Is(err, errRace) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errRace) {
		err = ErrTooManyRaces
	}
	return &Error{Op: op, ID: id, Err: err}
}

// decode returns the live value stored in data. Tombstones, corrupt records and
// records of another key are all "not live"; they stay in place as CAS targets.
func (s *Store) decode(key, id string, data []byte) ([]byte, bool) {
	rec, err := wire.DecodeRecord(data)
	if err != nil {
		s.log.Debug("ignoring corrupt cache record", kv.Fields{"id": id})
		return nil, false
	}
	if rec.Tombstone {
		return nil, false
	}
	if rec.Key != key {
		s.log.Debug("ignoring cache record of another key", kv.Fields{"id": id})
		return nil, false
	}
	return rec.Value, true
}

func (s *Store) id(key string) string { return util.StorageID(s.ns, key) }
