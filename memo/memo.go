// Package memo caches the results of expensive calls in a tiermap.Map, keyed by
// a caller-computed fingerprint of the call.
//
// A stored result is reused while it is younger than the TTL. A missing or stale
// result is recomputed and published with PutIfAbsent, or with CompareAndSwap over
// the stale envelope, so a refresh never overwrites a result stored after it.
package memo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/unkn0wn-root/tiermap"
	"github.com/unkn0wn-root/tiermap/codec"
	"github.com/unkn0wn-root/tiermap/kv"
)

const defaultTTL = 30 * time.Second

var (
	envCodec   = codec.MustCBOR[envelope]()
	partsCodec = codec.MustCBOR[[]any]()
)

type envelope struct {
	StoredAt int64  `cbor:"1,keyasint"` // unix nanos
	Data     []byte `cbor:"2,keyasint"`
}

// Options configure a Memo. Map and Codec are required.
type Options[T any] struct {
	Map   *tiermap.Map[[]byte]
	Codec codec.Codec[T]
	TTL   time.Duration // 0 => 30s
	// Logger defaults to NopLogger.
	Logger kv.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Memo[T any] struct {
	m     *tiermap.Map[[]byte]
	codec codec.Codec[T]
	ttl   time.Duration
	log   kv.Logger
	now   func() time.Time
}

func New[T any](opts Options[T]) (*Memo[T], error) {
	if opts.Map == nil {
		return nil, fmt.Errorf("memo: map is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("memo: codec is required")
	}
	m := &Memo[T]{m: opts.Map, codec: opts.Codec, ttl: opts.TTL, log: kv.OrNop(opts.Logger), now: opts.Now}
	if m.ttl <= 0 {
		m.ttl = defaultTTL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Do returns the stored result for fingerprint when it is fresh, and otherwise
// calls fn and stores its result. Errors from fn are returned and never stored.
// Map failures are logged and the call proceeds uncached.
func (m *Memo[T]) Do(ctx context.Context, fingerprint string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, found, err := m.m.Get(ctx, fingerprint)
	if err != nil {
		m.log.Warn("memo read failed; calling through", kv.Fields{"fingerprint": fingerprint, "err": err})
		found = false
	}
	if found {
		if prev, err := envCodec.Decode(raw); err != nil {
			m.log.Debug("ignoring undecodable memo envelope", kv.Fields{"fingerprint": fingerprint})
		} else if m.now().Sub(time.Unix(0, prev.StoredAt)) < m.ttl {
			if v, err := m.codec.Decode(prev.Data); err == nil {
				return v, nil
			}
			m.log.Debug("ignoring undecodable memo result", kv.Fields{"fingerprint": fingerprint})
		}
	}

	v, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	m.store(ctx, fingerprint, v)
	return v, nil
}

func (m *Memo[T]) store(ctx context.Context, fingerprint string, v T) {
	data, err := m.codec.Encode(v)
	if err != nil {
		m.log.Warn("memo encode failed", kv.Fields{"fingerprint": fingerprint, "err": err})
		return
	}
	fresh, err := envCodec.Encode(envelope{StoredAt: m.now().UnixNano(), Data: data})
	if err != nil {
		m.log.Warn("memo envelope encode failed", kv.Fields{"fingerprint": fingerprint, "err": err})
		return
	}
	existing, loaded, err := m.m.PutIfAbsent(ctx, fingerprint, fresh)
	if err != nil {
		m.log.Warn("memo store failed", kv.Fields{"fingerprint": fingerprint, "err": err})
		return
	}
	if !loaded {
		return
	}
	if cur, err := envCodec.Decode(existing); err == nil && cur.StoredAt >= m.now().UnixNano() {
		return
	}
	ok, err := m.m.CompareAndSwap(ctx, fingerprint, existing, fresh)
	switch {
	case err != nil:
		m.log.Warn("memo refresh failed", kv.Fields{"fingerprint": fingerprint, "err": err})
	case !ok:
		m.log.Debug("memo refresh lost to a more recent result", kv.Fields{"fingerprint": fingerprint})
	}
}

// Fingerprint hashes parts with sha256 over their deterministic CBOR encoding.
// Parts must be CBOR-encodable; maps are fine, their keys are sorted.
func Fingerprint(parts ...any) (string, error) {
	b, err := partsCodec.Encode(parts)
	if err != nil {
		return "", fmt.Errorf("memo: fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
