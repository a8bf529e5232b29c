package cachestore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by MemoryBackend after Close.
var ErrClosed = errors.New("cachestore: backend closed")

type memItem struct {
	data  []byte
	token uint64
	exp   time.Time // zero => no TTL
}

// MemoryBackend is an in-process Backend with per-entry TTLs.
type MemoryBackend struct {
	mu     sync.Mutex
	items  map[string]memItem
	seq    uint64
	now    func() time.Time
	closed bool
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memItem), now: time.Now}
}

// lookup must be called with mu held.
func (b *MemoryBackend) lookup(id string) (memItem, bool) {
	it, ok := b.items[id]
	if !ok {
		return memItem{}, false
	}
	if !it.exp.IsZero() && b.now().After(it.exp) {
		delete(b.items, id)
		return memItem{}, false
	}
	return it, true
}

// store must be called with mu held.
func (b *MemoryBackend) store(id string, data []byte, ttl time.Duration) {
	b.seq++
	it := memItem{data: append([]byte(nil), data...), token: b.seq}
	if ttl > 0 {
		it.exp = b.now().Add(ttl)
	}
	b.items[id] = it
}

func (b *MemoryBackend) Get(_ context.Context, id string) (Item, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Item{}, false, ErrClosed
	}
	it, ok := b.lookup(id)
	if !ok {
		return Item{}, false, nil
	}
	return Item{Data: append([]byte(nil), it.data...), Token: it.token}, true, nil
}

func (b *MemoryBackend) Add(_ context.Context, id string, data []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	if _, ok := b.lookup(id); ok {
		return false, nil
	}
	b.store(id, data, ttl)
	return true, nil
}

func (b *MemoryBackend) CompareAndSwap(_ context.Context, id string, token uint64, data []byte, ttl time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, ErrClosed
	}
	it, ok := b.lookup(id)
	if !ok || it.token != token {
		return false, nil
	}
	b.store(id, data, ttl)
	return true, nil
}

// Evict drops id as a cache would under memory pressure.
func (b *MemoryBackend) Evict(id string) {
	b.mu.Lock()
	delete(b.items, id)
	b.mu.Unlock()
}

func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func (b *MemoryBackend) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
