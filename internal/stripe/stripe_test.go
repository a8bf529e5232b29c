package stripe

import (
	"sync"
	"testing"
)

func TestForIsStable(t *testing.T) {
	l := New(8)
	if l.For("a") != l.For("a") {
		t.Fatalf("same key must map to the same stripe")
	}
	if len(New(0).mus) != defaultStripes {
		t.Fatalf("expected default stripe count")
	}
}

func TestForSerializesSameKey(t *testing.T) {
	l := New(4)
	n := 0
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu := l.For("counter")
			mu.Lock()
			n++
			mu.Unlock()
		}()
	}
	wg.Wait()
	if n != 64 {
		t.Fatalf("lost increments: %d", n)
	}
}
