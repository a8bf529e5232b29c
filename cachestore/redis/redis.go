// Package redis is a cachestore.Backend on a Redis hash per entry: field "d"
// holds the record and field "t" its token. Add and CompareAndSwap run as Lua
// scripts so the check and the write are one step.
//
// Tokens come from one counter key, "<prefix>seq", that outlives the entries, so
// an entry re-created after expiry or eviction never reuses an old token. On
// Redis Cluster put a hash tag in the prefix (e.g. "{tiermap}:c:") so entries and
// the counter share a slot.
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiermap/cachestore"
)

var ErrNilClient = errors.New("cache redis: nil client")

// KEYS[1]=entry KEYS[2]=token counter ARGV[1]=data ARGV[2]=ttl ms (0 => none)
var addScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'd', ARGV[1], 't', redis.call('INCR', KEYS[2]))
if tonumber(ARGV[2]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 1
`)

// KEYS[1]=entry KEYS[2]=token counter ARGV[1]=token ARGV[2]=data ARGV[3]=ttl ms (0 => none)
var casScript = goredis.NewScript(`
local t = redis.call('HGET', KEYS[1], 't')
if not t or t ~= ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'd', ARGV[2], 't', redis.call('INCR', KEYS[2]))
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
else
  redis.call('PERSIST', KEYS[1])
end
return 1
`)

type Backend struct {
	rdb         goredis.UniversalClient
	prefix      string
	closeClient bool
}

var _ cachestore.Backend = (*Backend)(nil)

type Config struct {
	Client goredis.UniversalClient
	// Prefix is prepended to every storage id; "" => "tiermap:c:".
	Prefix      string
	CloseClient bool // set true only if this backend exclusively owns the client
}

func New(cfg Config) (*Backend, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tiermap:c:"
	}
	return &Backend{rdb: cfg.Client, prefix: prefix, closeClient: cfg.CloseClient}, nil
}

func (b *Backend) Get(ctx context.Context, id string) (cachestore.Item, bool, error) {
	vals, err := b.rdb.HMGet(ctx, b.prefix+id, "d", "t").Result()
	if err != nil {
		return cachestore.Item{}, false, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return cachestore.Item{}, false, nil
	}
	data, ok := vals[0].(string)
	if !ok {
		return cachestore.Item{}, false, nil
	}
	ts, _ := vals[1].(string)
	token, err := strconv.ParseUint(ts, 10, 64)
	if err != nil {
		return cachestore.Item{}, false, nil
	}
	return cachestore.Item{Data: []byte(data), Token: token}, true, nil
}

func (b *Backend) Add(ctx context.Context, id string, data []byte, ttl time.Duration) (bool, error) {
	n, err := addScript.Run(ctx, b.rdb, b.keys(id), data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *Backend) CompareAndSwap(ctx context.Context, id string, token uint64, data []byte, ttl time.Duration) (bool, error) {
	n, err := casScript.Run(ctx, b.rdb, b.keys(id),
		strconv.FormatUint(token, 10), data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *Backend) keys(id string) []string {
	return []string{b.prefix + id, b.prefix + "seq"}
}

// Close releases the underlying redis client only when this backend owns it.
func (b *Backend) Close(context.Context) error {
	if b.closeClient {
		if err := b.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
