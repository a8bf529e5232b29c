package bigcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/tiermap/cachestore"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b
}

func TestTokens(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	if ok, err := b.Add(ctx, "k", []byte("a"), 0); err != nil || !ok {
		t.Fatalf("Add: ok=%v err=%v", ok, err)
	}
	if ok, _ := b.Add(ctx, "k", []byte("b"), 0); ok {
		t.Fatalf("second Add must fail")
	}
	item, ok, _ := b.Get(ctx, "k")
	if !ok || string(item.Data) != "a" {
		t.Fatalf("Get: %+v ok=%v", item, ok)
	}
	if ok, _ := b.CompareAndSwap(ctx, "k", item.Token+1, []byte("x"), 0); ok {
		t.Fatalf("CAS with a stale token must fail")
	}
	if ok, err := b.CompareAndSwap(ctx, "k", item.Token, []byte("c"), 0); err != nil || !ok {
		t.Fatalf("CAS: ok=%v err=%v", ok, err)
	}
	if ok, _ := b.CompareAndSwap(ctx, "missing", 1, []byte("c"), 0); ok {
		t.Fatalf("CAS on a missing key must fail")
	}
}

func TestForeignEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	if err := b.c.Set("k", []byte("raw")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Fatalf("unstamped entry must read as a miss")
	}
	if ok, _ := b.Add(ctx, "k", []byte("a"), 0); !ok {
		t.Fatalf("Add over a dropped entry must succeed")
	}
}

func TestStoreScenario(t *testing.T) {
	ctx := context.Background()
	s, err := cachestore.New(cachestore.Config{Namespace: "scenario", Backend: newTestBackend(t)})
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, loaded, err := s.PutIfAbsent(ctx, "k", []byte(fmt.Sprint(i))); err == nil && !loaded {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if n := winners.Load(); n != 1 {
		t.Fatalf("expected one winner, got %d", n)
	}
	cur, _, _ := s.Get(ctx, "k")
	if ok, _ := s.CompareAndSwap(ctx, "k", cur, []byte("next")); !ok {
		t.Fatalf("CompareAndSwap failed")
	}
	if ok, _ := s.CompareAndDelete(ctx, "k", []byte("next")); !ok {
		t.Fatalf("CompareAndDelete failed")
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("Get after delete must be absent")
	}
}
