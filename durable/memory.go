package durable

import (
	"context"
	"sync"
)

type memRow struct {
	data []byte
	ver  uint64
}

// MemoryBackend is an in-process Backend. Every committed write gets a fresh
// version; a transaction commits only if the row it read is still at the same
// version (or still absent). It is the default for tests and single-process use.
type MemoryBackend struct {
	mu     sync.RWMutex
	rows   map[string]memRow
	seq    uint64
	closed bool
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[string]memRow)}
}

func (b *MemoryBackend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, ErrClosed
	}
	row, ok := b.rows[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), row.data...), true, nil
}

func (b *MemoryBackend) Update(ctx context.Context, id string, fn func(Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	row, found := b.rows[id]
	b.mu.RUnlock()

	tx := &memTxn{data: row.data, found: found}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	cur, curFound := b.rows[id]
	if curFound != found || cur.ver != row.ver {
		return ErrConflict
	}
	if tx.deleted {
		delete(b.rows, id)
		return nil
	}
	b.seq++
	b.rows[id] = memRow{data: tx.write, ver: b.seq}
	return nil
}

// Len reports the number of committed rows.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rows)
}

func (b *MemoryBackend) Close(context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

type memTxn struct {
	data    []byte
	found   bool
	write   []byte
	dirty   bool
	deleted bool
}

func (t *memTxn) Get(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !t.found {
		return nil, false, nil
	}
	return append([]byte(nil), t.data...), true, nil
}

func (t *memTxn) Put(data []byte) {
	t.write = append([]byte(nil), data...)
	t.dirty, t.deleted = true, false
}

func (t *memTxn) Delete() {
	t.write = nil
	t.dirty, t.deleted = true, true
}
