// Package tiermap is an atomic key-value map backed by two independently failing
// tiers: a durable transactional store that is authoritative, and a volatile
// cache that is only an accelerator.
//
// Components:
//   - durable.Backend: per-key optimistic transactions (memory, Redis WATCH/MULTI,
//     Cassandra lightweight transactions).
//   - cachestore.Backend: insert-if-absent plus token-gated compare-and-swap
//     (memory, Redis Lua, Ristretto, BigCache).
//   - Codec[V]: (de)serializes V <-> []byte. Equality is byte equality of the
//     encoded value, so the codec must be deterministic.
//
// Every mutation runs against the durable tier first and its result is final.
// The cache is then reconciled toward that result on a best-effort basis:
// cache failures are logged and reported to Hooks, never returned.
//
// Usage:
//
//	m, _ := tiermap.New[User](tiermap.Options[User]{
//	    Namespace: "app:prod:user",
//	    Durable:   durable.NewMemoryBackend(),
//	    Cache:     cachestore.NewMemoryBackend(),
//	    Codec:     codec.MustCBOR[User](),
//	})
//	prev, loaded, err := m.PutIfAbsent(ctx, "42", u)
package tiermap
