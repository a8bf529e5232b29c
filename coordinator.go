package tiermap

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiermap/kv"
)

// CoordinatorOptions wires two byte-level stores together. Durable is required;
// a nil Cache gives a durable-only coordinator.
type CoordinatorOptions struct {
	Durable kv.Store
	Cache   kv.Store
	Logger  Logger // if nil, NopLogger is used
	Hooks   Hooks  // if nil, NopHooks is used
}

// Coordinator implements kv.Store over a durable and a cache tier with
// durable-wins semantics. Results always come from the durable tier; the cache
// is reconciled toward them afterwards and its failures are never returned.
type Coordinator struct {
	durable kv.Store
	cache   kv.Store
	log     Logger
	hooks   Hooks
	flight  singleflight.Group
}

var _ kv.Store = (*Coordinator)(nil)

func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Durable == nil {
		return nil, fmt.Errorf("tiermap: durable store is required")
	}
	return &Coordinator{
		durable: opts.Durable,
		cache:   opts.Cache,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
	}, nil
}

// Get reads the cache first; a hit may be briefly stale. On a miss or cache
// failure the durable value is returned and offered to the cache once.
func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := kv.CheckKey(key); err != nil {
		return nil, false, err
	}
	if c.cache != nil {
		v, ok, err := c.cache.Get(ctx, key)
		if err != nil {
			c.cacheFailed("get", key, err)
		} else if ok {
			return v, true, nil
		}
	}
	return c.readThrough(ctx, key)
}

type readResult struct {
	v  []byte
	ok bool
}

// readThrough reads the durable tier and populates the cache on a hit.
// Concurrent misses on one key share a single durable read; the first caller's
// ctx governs it.
func (c *Coordinator) readThrough(ctx context.Context, key string) ([]byte, bool, error) {
	r, err, shared := c.flight.Do(key, func() (any, error) {
		v, ok, err := c.durable.Get(ctx, key)
		if err != nil {
			return nil, c.durableFailed("get", key, err)
		}
		if ok && c.cache != nil {
			if _, _, err := c.cache.PutIfAbsent(ctx, key, v); err != nil {
				c.cacheFailed("get", key, err)
			}
		}
		return readResult{v: v, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := r.(readResult)
	if shared {
		res.v = bytes.Clone(res.v)
	}
	return res.v, res.ok, nil
}

func (c *Coordinator) PutIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	if err := kv.CheckArgs(key, value); err != nil {
		return nil, false, err
	}
	prev, loaded, err := c.durable.PutIfAbsent(ctx, key, value)
	if err != nil {
		return nil, false, c.durableFailed("put-if-absent", key, err)
	}
	if loaded {
		c.converge(ctx, "put-if-absent", key, prev)
	} else {
		c.converge(ctx, "put-if-absent", key, value)
	}
	return prev, loaded, nil
}

func (c *Coordinator) Replace(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	if err := kv.CheckArgs(key, value); err != nil {
		return nil, false, err
	}
	prev, replaced, err := c.durable.Replace(ctx, key, value)
	if err != nil {
		return nil, false, c.durableFailed("replace", key, err)
	}
	if c.cache == nil {
		return prev, replaced, nil
	}
	if !replaced {
		c.evict(ctx, "replace", key)
		return nil, false, nil
	}
	if _, ok, err := c.cache.Replace(ctx, key, value); err != nil {
		c.cacheFailed("replace", key, err)
	} else if !ok {
		c.converge(ctx, "replace", key, value)
	}
	return prev, true, nil
}

func (c *Coordinator) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	if err := kv.CheckArgs(key, old, new); err != nil {
		return false, err
	}
	swapped, err := c.durable.CompareAndSwap(ctx, key, old, new)
	if err != nil {
		return false, c.durableFailed("compare-and-swap", key, err)
	}
	if c.cache == nil {
		return swapped, nil
	}
	if !swapped {
		// durable does not hold old, so a cached old is stale
		c.evictValue(ctx, "compare-and-swap", key, old)
		return false, nil
	}
	ok, err := c.cache.CompareAndSwap(ctx, key, old, new)
	if err != nil {
		c.cacheFailed("compare-and-swap", key, err)
	} else if !ok {
		c.converge(ctx, "compare-and-swap", key, new)
	}
	return true, nil
}

func (c *Coordinator) CompareAndDelete(ctx context.Context, key string, old []byte) (bool, error) {
	if err := kv.CheckArgs(key, old); err != nil {
		return false, err
	}
	deleted, err := c.durable.CompareAndDelete(ctx, key, old)
	if err != nil {
		return false, c.durableFailed("compare-and-delete", key, err)
	}
	if c.cache == nil {
		return deleted, nil
	}
	evicted := c.evictValue(ctx, "compare-and-delete", key, old)
	if deleted && !evicted {
		c.evict(ctx, "compare-and-delete", key)
	}
	return deleted, nil
}

// converge makes the cache hold want: insert it if absent, otherwise overwrite
// a differing value once. Losing that overwrite means another writer moved the
// cache again; TTL bounds whatever is left.
func (c *Coordinator) converge(ctx context.Context, op, key string, want []byte) {
	if c.cache == nil {
		return
	}
	cur, loaded, err := c.cache.PutIfAbsent(ctx, key, want)
	if err != nil {
		c.cacheFailed(op, key, err)
		return
	}
	if !loaded || kv.Equal(cur, want) {
		return
	}
	ok, err := c.cache.CompareAndSwap(ctx, key, cur, want)
	switch {
	case err != nil:
		c.cacheFailed(op, key, err)
	case ok:
		c.repaired(op, key, "overwrote")
	default:
		c.log.Debug("cache moved during repair", Fields{"op": op, "key": key})
	}
}

// evictValue removes old from the cache if it is still cached and reports
// whether it did.
func (c *Coordinator) evictValue(ctx context.Context, op, key string, old []byte) bool {
	ok, err := c.cache.CompareAndDelete(ctx, key, old)
	if err != nil {
		c.cacheFailed(op, key, err)
		return false
	}
	if ok {
		c.repaired(op, key, "evicted")
	}
	return ok
}

// evict removes whatever value the cache holds for key.
func (c *Coordinator) evict(ctx context.Context, op, key string) {
	cur, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.cacheFailed(op, key, err)
		return
	}
	if ok {
		c.evictValue(ctx, op, key, cur)
	}
}

func (c *Coordinator) repaired(op, key, action string) {
	c.log.Debug("cache repaired", Fields{"op": op, "key": key, "action": action})
	c.hooks.CacheRepaired(op, key, action)
}

func (c *Coordinator) cacheFailed(op, key string, err error) {
	c.log.Warn("cache tier failed; continuing on durable result", Fields{"op": op, "key": key, "err": err})
	c.hooks.CacheError(op, key, err)
}

func (c *Coordinator) durableFailed(op, key string, err error) error {
	c.log.Error("durable tier failed", Fields{"op": op, "key": key, "err": err})
	c.hooks.DurableError(op, key, err)
	return &Error{Op: op, Key: key, Err: err}
}
