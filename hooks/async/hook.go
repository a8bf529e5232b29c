// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    CacheErrorEvery: 10, // sample logs: ~every 10th cache failure
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	m, _ := tiermap.New[User](tiermap.Options[User]{
//	    Namespace: "app:prod:user",
//	    Durable:   durableBackend,
//	    Cache:     cacheBackend,
//	    Codec:     codec.JSONCodec[User]{},
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/tiermap"
)

type Hooks struct {
	inner tiermap.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.RWMutex
	closed bool
}

var _ tiermap.Hooks = (*Hooks)(nil)

func New(inner tiermap.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events sent after Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheError(op, k string, err error) { h.try(func() { h.inner.CacheError(op, k, err) }) }
func (h *Hooks) DurableError(op, k string, err error) {
	h.try(func() { h.inner.DurableError(op, k, err) })
}
func (h *Hooks) CacheRepaired(op, k, action string) {
	h.try(func() { h.inner.CacheRepaired(op, k, action) })
}
func (h *Hooks) SelfHeal(k, r string) { h.try(func() { h.inner.SelfHeal(k, r) }) }
