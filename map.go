package tiermap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/unkn0wn-root/tiermap/cachestore"
	c "github.com/unkn0wn-root/tiermap/codec"
	"github.com/unkn0wn-root/tiermap/durable"
)

// Options configure a typed Map.
// Namespace, Durable and Codec are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // logical namespace to avoid collisions. e.g. "user", "order"
	Durable   durable.Backend
	Codec     c.Codec[V] // must be deterministic: equality is byte equality of encodings

	Cache           cachestore.Backend   // nil => durable only
	Logger          Logger               // if nil, NopLogger is used
	Hooks           Hooks                // if nil, NopHooks is used
	CacheTTL        time.Duration        // values and tombstones; 0 => 10m, negative => no expiry
	ConflictBackoff func() retry.Backoff // durable conflict retry; nil => durable.DefaultBackoff
	RaceBackoff     func() retry.Backoff // cache token races; nil => cachestore.DefaultBackoff
}

// Map is a typed view over a Coordinator.
type Map[V any] struct {
	ns    string
	coord *Coordinator
	codec c.Codec[V]
	log   Logger
	hooks Hooks
	close []func(context.Context) error
}

func New[V any](opts Options[V]) (*Map[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("tiermap: namespace is required")
	}
	if opts.Durable == nil {
		return nil, fmt.Errorf("tiermap: durable backend is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("tiermap: codec is required")
	}
	log := coalesce[Logger](opts.Logger, NopLogger{})
	hooks := coalesce[Hooks](opts.Hooks, NopHooks{})

	ds, err := durable.New(durable.Config{
		Namespace: opts.Namespace,
		Backend:   opts.Durable,
		Logger:    log,
		Backoff:   opts.ConflictBackoff,
	})
	if err != nil {
		return nil, err
	}
	m := &Map[V]{ns: opts.Namespace, codec: opts.Codec, log: log, hooks: hooks}
	co := CoordinatorOptions{Durable: ds, Logger: log, Hooks: hooks}
	if opts.Cache != nil {
		cs, err := cachestore.New(cachestore.Config{
			Namespace: opts.Namespace,
			Backend:   opts.Cache,
			Logger:    log,
			TTL:       opts.CacheTTL,
			Backoff:   opts.RaceBackoff,
		})
		if err != nil {
			return nil, err
		}
		co.Cache = cs
		m.close = append(m.close, cs.Close)
	}
	m.close = append(m.close, ds.Close)
	if m.coord, err = NewCoordinator(co); err != nil {
		return nil, err
	}
	return m, nil
}

// Namespace returns the namespace the map was built with.
func (m *Map[V]) Namespace() string { return m.ns }

// Store exposes the byte-level coordinator behind the map.
func (m *Map[V]) Store() *Coordinator { return m.coord }

// Close closes the cache backend, then the durable backend.
func (m *Map[V]) Close(ctx context.Context) error {
	var errs []error
	for _, f := range m.close {
		if err := f(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the value for key. A cached value that fails to decode is
// evicted and the durable value is returned instead.
func (m *Map[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, ok, err := m.coord.Get(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	v, derr := m.codec.Decode(raw)
	if derr == nil {
		return v, true, nil
	}
	if m.coord.cache != nil {
		m.log.Debug("dropping undecodable cached value", Fields{"key": key, "err": derr})
		m.hooks.SelfHeal(key, "value_decode")
		m.coord.evictValue(ctx, "get", key, raw)
	}
	raw, ok, err = m.coord.readThrough(ctx, key)
	if err != nil || !ok {
		return zero, false, err
	}
	return m.decode(key, raw)
}

func (m *Map[V]) PutIfAbsent(ctx context.Context, key string, value V) (V, bool, error) {
	var zero V
	b, err := m.encode(key, value)
	if err != nil {
		return zero, false, err
	}
	prev, loaded, err := m.coord.PutIfAbsent(ctx, key, b)
	if err != nil || !loaded {
		return zero, false, err
	}
	return m.decode(key, prev)
}

func (m *Map[V]) Replace(ctx context.Context, key string, value V) (V, bool, error) {
	var zero V
	b, err := m.encode(key, value)
	if err != nil {
		return zero, false, err
	}
	prev, replaced, err := m.coord.Replace(ctx, key, b)
	if err != nil || !replaced {
		return zero, false, err
	}
	return m.decode(key, prev)
}

func (m *Map[V]) CompareAndSwap(ctx context.Context, key string, old, new V) (bool, error) {
	ob, err := m.encode(key, old)
	if err != nil {
		return false, err
	}
	nb, err := m.encode(key, new)
	if err != nil {
		return false, err
	}
	return m.coord.CompareAndSwap(ctx, key, ob, nb)
}

func (m *Map[V]) CompareAndDelete(ctx context.Context, key string, old V) (bool, error) {
	ob, err := m.encode(key, old)
	if err != nil {
		return false, err
	}
	return m.coord.CompareAndDelete(ctx, key, ob)
}

func (m *Map[V]) encode(key string, v V) ([]byte, error) {
	b, err := m.codec.Encode(v)
	if err != nil {
		return nil, &CodecError{Key: key, Err: err}
	}
	if b == nil {
		// codecs may encode an empty value as nil, which the stores reject
		b = []byte{}
	}
	return b, nil
}

// decode returns the value with found=true, or a *CodecError.
func (m *Map[V]) decode(key string, raw []byte) (V, bool, error) {
	v, err := m.codec.Decode(raw)
	if err != nil {
		var zero V
		return zero, false, &CodecError{Key: key, Err: err}
	}
	return v, true, nil
}
