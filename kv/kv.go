// Package kv defines the atomic key-value contract shared by both storage tiers
// and by the coordinator that composes them.
//
// Every Store is a set of compare-and-swap primitives. Implementations must be safe
// for concurrent use from any number of callers, including callers in other
// processes, without relying on a process-local lock.
//
// "Absent" is an ordinary outcome (ok/loaded/replaced == false), never an error.
// A failed precondition (value mismatch, key already present) is also a plain
// return value. Errors are reserved for invalid arguments and backend failures.
package kv

import (
	"bytes"
	"context"
	"errors"
)

// ErrInvalidArgument is returned for an empty key or a nil value before any backend is touched.
var ErrInvalidArgument = errors.New("kv: key must be non-empty and values must be non-nil")

// Store is the atomic key-value contract.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) when the key is absent.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// PutIfAbsent stores value when key has no entry and returns loaded=false.
	// Otherwise it leaves the entry unchanged and returns its current value with loaded=true.
	// At most one concurrent caller observes loaded=false for a key.
	PutIfAbsent(ctx context.Context, key string, value []byte) (prev []byte, loaded bool, err error)

	// Replace swaps the value of an existing entry and returns the previous one.
	// It never creates an entry: on a missing key it returns (nil, false, nil).
	Replace(ctx context.Context, key string, value []byte) (prev []byte, replaced bool, err error)

	// CompareAndSwap replaces the value only if the current value equals old.
	CompareAndSwap(ctx context.Context, key string, old, new []byte) (swapped bool, err error)

	// CompareAndDelete removes the entry only if the current value equals old.
	CompareAndDelete(ctx context.Context, key string, old []byte) (deleted bool, err error)
}

// CheckKey rejects the empty key.
func CheckKey(key string) error {
	if key == "" {
		return ErrInvalidArgument
	}
	return nil
}

// CheckArgs rejects the empty key and any nil value.
func CheckArgs(key string, values ...[]byte) error {
	if key == "" {
		return ErrInvalidArgument
	}
	for _, v := range values {
		if v == nil {
			return ErrInvalidArgument
		}
	}
	return nil
}

// Equal reports whether two stored values are the same. Values are compared by
// content, never by identity.
func Equal(a, b []byte) bool { return bytes.Equal(a, b) }
