package memo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiermap"
	"github.com/unkn0wn-root/tiermap/cachestore"
	"github.com/unkn0wn-root/tiermap/codec"
	"github.com/unkn0wn-root/tiermap/durable"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMap(t *testing.T) *tiermap.Map[[]byte] {
	t.Helper()
	m, err := tiermap.New[[]byte](tiermap.Options[[]byte]{
		Namespace: "memo",
		Durable:   durable.NewMemoryBackend(),
		Cache:     cachestore.NewMemoryBackend(),
		Codec:     codec.Bytes{},
	})
	if err != nil {
		t.Fatalf("tiermap.New: %v", err)
	}
	return m
}

func newMemo(t *testing.T, m *tiermap.Map[[]byte], clk *clock) *Memo[string] {
	t.Helper()
	mm, err := New[string](Options[string]{Map: m, Codec: codec.String{}, TTL: time.Minute, Now: clk.now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return mm
}

func counter(calls *atomic.Int32, v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New[string](Options[string]{Codec: codec.String{}}); err == nil {
		t.Fatalf("expected error without map")
	}
	if _, err := New[string](Options[string]{Map: newMap(t)}); err == nil {
		t.Fatalf("expected error without codec")
	}
}

func TestFreshResultIsReused(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_000, 0)}
	mm := newMemo(t, newMap(t), clk)
	var calls atomic.Int32

	for i := 0; i < 3; i++ {
		v, err := mm.Do(ctx, "fp", counter(&calls, "one"))
		if err != nil || v != "one" {
			t.Fatalf("Do: %q %v", v, err)
		}
		clk.advance(10 * time.Second)
	}
	if calls.Load() != 1 {
		t.Fatalf("fn called %d times, want 1", calls.Load())
	}
}

func TestStaleResultIsRefreshed(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_000, 0)}
	m := newMap(t)
	mm := newMemo(t, m, clk)
	var calls atomic.Int32

	_, _ = mm.Do(ctx, "fp", counter(&calls, "old"))
	clk.advance(2 * time.Minute)
	v, _ := mm.Do(ctx, "fp", counter(&calls, "new"))
	if v != "new" || calls.Load() != 2 {
		t.Fatalf("Do after expiry: %q calls=%d", v, calls.Load())
	}
	// the refreshed envelope replaced the stale one
	v, _ = mm.Do(ctx, "fp", counter(&calls, "unused"))
	if v != "new" || calls.Load() != 2 {
		t.Fatalf("Do after refresh: %q calls=%d", v, calls.Load())
	}
}

func TestErrorsAreNotStored(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_000, 0)}
	mm := newMemo(t, newMap(t), clk)
	boom := errors.New("boom")

	if _, err := mm.Do(ctx, "fp", func(context.Context) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	var calls atomic.Int32
	if v, _ := mm.Do(ctx, "fp", counter(&calls, "ok")); v != "ok" || calls.Load() != 1 {
		t.Fatalf("failed call must not be cached: %q calls=%d", v, calls.Load())
	}
}

func TestMapFailureCallsThrough(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Unix(1_000, 0)}
	m := newMap(t)
	mm := newMemo(t, m, clk)
	_ = m.Close(ctx) // durable memory backend now returns ErrClosed

	var calls atomic.Int32
	for i := 0; i < 2; i++ {
		if v, err := mm.Do(ctx, "fp", counter(&calls, "x")); err != nil || v != "x" {
			t.Fatalf("Do: %q %v", v, err)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("fn called %d times, want 2", calls.Load())
	}
}

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint("servers", map[string]int{"b": 2, "a": 1}, 7)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, _ := Fingerprint("servers", map[string]int{"a": 1, "b": 2}, 7)
	c, _ := Fingerprint("servers", map[string]int{"a": 1, "b": 3}, 7)
	if a != b {
		t.Fatalf("map order changed the fingerprint")
	}
	if a == c {
		t.Fatalf("different arguments share a fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("want hex sha256, got %q", a)
	}
	if _, err := Fingerprint(make(chan int)); err == nil {
		t.Fatalf("expected error for an unencodable part")
	}
}
