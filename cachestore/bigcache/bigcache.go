// Package bigcache is an in-process cachestore.Backend on allegro/bigcache.
//
// BigCache has no per-entry TTL; every entry lives for Config.LifeWindow and the
// ttl passed by the cache store is ignored. Conditional writes run under a
// per-key stripe lock over token-stamped entries.
package bigcache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/tiermap/cachestore"
	"github.com/unkn0wn-root/tiermap/internal/stripe"
	"github.com/unkn0wn-root/tiermap/internal/wire"
)

type Backend struct {
	c     *bc.BigCache
	locks *stripe.Locks
	seq   atomic.Uint64
}

var _ cachestore.Backend = (*Backend)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 10m
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
	Stripes            int // 0 => 256
}

func New(ctx context.Context, cfg Config) (*Backend, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 10 * time.Minute
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Backend{c: c, locks: stripe.New(cfg.Stripes)}, nil
}

func (b *Backend) Get(_ context.Context, id string) (cachestore.Item, bool, error) {
	token, data, ok, err := b.load(id)
	if err != nil || !ok {
		return cachestore.Item{}, false, err
	}
	return cachestore.Item{Data: data, Token: token}, true, nil
}

func (b *Backend) Add(_ context.Context, id string, data []byte, _ time.Duration) (bool, error) {
	mu := b.locks.For(id)
	mu.Lock()
	defer mu.Unlock()
	_, _, ok, err := b.load(id)
	if err != nil || ok {
		return false, err
	}
	return true, b.c.Set(id, wire.EncodeStamped(b.seq.Add(1), data))
}

func (b *Backend) CompareAndSwap(_ context.Context, id string, token uint64, data []byte, _ time.Duration) (bool, error) {
	mu := b.locks.For(id)
	mu.Lock()
	defer mu.Unlock()
	cur, _, ok, err := b.load(id)
	if err != nil || !ok || cur != token {
		return false, err
	}
	return true, b.c.Set(id, wire.EncodeStamped(b.seq.Add(1), data))
}

func (b *Backend) Close(context.Context) error { return b.c.Close() }

func (b *Backend) load(id string) (uint64, []byte, bool, error) {
	raw, err := b.c.Get(id)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	token, data, err := wire.DecodeStamped(raw)
	if err != nil {
		// self-heal: drop unexpected entry shape
		_ = b.c.Delete(id)
		return 0, nil, false, nil
	}
	return token, data, true, nil
}
