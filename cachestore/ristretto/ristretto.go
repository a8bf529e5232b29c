// Package ristretto is an in-process cachestore.Backend on dgraph-io/ristretto.
//
// Ristretto has no conditional writes, so each entry is stored stamped with a
// token and Add/CompareAndSwap run their read-compare-write under a per-key
// stripe lock. Entries live only in this process; run Redis as the cache tier
// when several processes share one durable store.
package ristretto

import (
	"context"
	"sync/atomic"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/tiermap/cachestore"
	"github.com/unkn0wn-root/tiermap/internal/stripe"
	"github.com/unkn0wn-root/tiermap/internal/wire"
)

type Backend struct {
	c     *rc.Cache
	locks *stripe.Locks
	seq   atomic.Uint64
}

var _ cachestore.Backend = (*Backend)(nil)

type Config struct {
	NumCounters int64 // 0 => 1e6
	MaxCost     int64 // bytes; 0 => 64 MiB
	BufferItems int64 // 0 => 64
	Metrics     bool
	Stripes     int // 0 => 256
}

func New(cfg Config) (*Backend, error) {
	c, err := rc.NewCache(&rc.Config{
		NumCounters: coalesce(cfg.NumCounters, 1_000_000),
		MaxCost:     coalesce(cfg.MaxCost, 64<<20),
		BufferItems: coalesce(cfg.BufferItems, 64),
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Backend{c: c, locks: stripe.New(cfg.Stripes)}, nil
}

func (b *Backend) Get(_ context.Context, id string) (cachestore.Item, bool, error) {
	token, data, ok := b.load(id)
	if !ok {
		return cachestore.Item{}, false, nil
	}
	return cachestore.Item{Data: append([]byte(nil), data...), Token: token}, true, nil
}

func (b *Backend) Add(_ context.Context, id string, data []byte, ttl time.Duration) (bool, error) {
	mu := b.locks.For(id)
	mu.Lock()
	defer mu.Unlock()
	if _, _, ok := b.load(id); ok {
		return false, nil
	}
	return true, b.store(id, data, ttl)
}

func (b *Backend) CompareAndSwap(_ context.Context, id string, token uint64, data []byte, ttl time.Duration) (bool, error) {
	mu := b.locks.For(id)
	mu.Lock()
	defer mu.Unlock()
	cur, _, ok := b.load(id)
	if !ok || cur != token {
		return false, nil
	}
	return true, b.store(id, data, ttl)
}

func (b *Backend) Close(context.Context) error {
	b.c.Wait()
	b.c.Close()
	return nil
}

// Metrics exposes ristretto's counters; nil unless Config.Metrics was set.
func (b *Backend) Metrics() *rc.Metrics { return b.c.Metrics }

func (b *Backend) load(id string) (uint64, []byte, bool) {
	v, ok := b.c.Get(id)
	if !ok {
		return 0, nil, false
	}
	raw, _ := v.([]byte)
	token, data, err := wire.DecodeStamped(raw)
	if err != nil {
		// self-heal: drop unexpected entry shape
		b.c.Del(id)
		return 0, nil, false
	}
	return token, data, true
}

// store must be called with the stripe lock for id held. Wait makes the write
// visible to the next Get.
func (b *Backend) store(id string, data []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	stamped := wire.EncodeStamped(b.seq.Add(1), data)
	if !b.c.SetWithTTL(id, stamped, int64(len(stamped)), ttl) {
		return cachestore.ErrRejected
	}
	b.c.Wait()
	return nil
}

func coalesce(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
