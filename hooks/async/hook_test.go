package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/tiermap"
)

type countingHooks struct {
	tiermap.NopHooks
	mu     sync.Mutex
	errors int
	heals  int
	block  chan struct{}
}

func (c *countingHooks) CacheError(string, string, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

func (c *countingHooks) SelfHeal(string, string) {
	c.mu.Lock()
	c.heals++
	c.mu.Unlock()
}

func TestDeliversThenDrainsOnClose(t *testing.T) {
	inner := &countingHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.CacheError("get", "k", errors.New("x"))
	}
	h.SelfHeal("k", "value_decode")
	h.Close()

	if inner.errors != 10 || inner.heals != 1 {
		t.Fatalf("delivered errors=%d heals=%d", inner.errors, inner.heals)
	}
	// after Close events are dropped, not panicking on a closed channel
	h.CacheError("get", "k", errors.New("late"))
	h.Close()
}

func TestDropsOnOverflow(t *testing.T) {
	inner := &countingHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)
	for i := 0; i < 10; i++ {
		h.CacheError("get", "k", errors.New("x"))
	}
	close(inner.block)
	h.Close()
	if inner.errors >= 10 {
		t.Fatalf("expected drops with a full queue, delivered %d", inner.errors)
	}
}
