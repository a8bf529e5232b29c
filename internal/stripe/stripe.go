// Package stripe provides a fixed set of mutexes selected by key hash.
// In-process cache backends use it to make read-compare-write sequences atomic
// per key without a single global lock.
package stripe

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 256

type Locks struct {
	mus []sync.Mutex
}

// New returns n stripes; n <= 0 selects the default.
func New(n int) *Locks {
	if n <= 0 {
		n = defaultStripes
	}
	return &Locks{mus: make([]sync.Mutex, n)}
}

// For returns the mutex guarding key.
func (l *Locks) For(key string) *sync.Mutex {
	return &l.mus[xxhash.Sum64String(key)%uint64(len(l.mus))]
}
