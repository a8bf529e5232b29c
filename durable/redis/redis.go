// Package redis is a durable.Backend on Redis optimistic transactions:
// WATCH the entity key, read it, then MULTI/EXEC the staged write. EXEC aborts
// when the watched key changed, which surfaces as durable.ErrConflict.
//
// Use a Redis deployment configured for durability (AOF with fsync) when it is the
// authoritative tier.
package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiermap/durable"
)

var ErrNilClient = errors.New("durable redis: nil client")

type Backend struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ durable.Backend = (*Backend)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every storage id; "" => "tiermap:d:".
	Prefix      string
	CloseClient bool // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tiermap:d:"
	}
	return &Backend{rdb: cfg.Client, prefix: prefix, closeClient: cfg.CloseClient}, nil
}

func (b *Backend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	v, err := b.rdb.Get(ctx, b.prefix+id).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Backend) Update(ctx context.Context, id string, fn func(durable.Txn) error) error {
	key := b.prefix + id
	err := b.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		t := &txn{tx: tx, key: key}
		if err := fn(t); err != nil {
			return err
		}
		if !t.dirty {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			if t.deleted {
				p.Del(ctx, key)
			} else {
				p.Set(ctx, key, t.data, 0)
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		return durable.ErrConflict
	}
	return err
}

// Close releases the client only when this backend owns it.
func (b *Backend) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

type txn struct {
	tx      *goredis.Tx
	key     string
	data    []byte
	dirty   bool
	deleted bool
}

func (t *txn) Get(ctx context.Context) ([]byte, bool, error) {
	v, err := t.tx.Get(ctx, t.key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *txn) Put(data []byte) { t.data, t.dirty, t.deleted = data, true, false }
func (t *txn) Delete()         { t.data, t.dirty, t.deleted = nil, true, true }
