package tiermap

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/tiermap/kv"
)

var (
	// ErrUnavailable matches every durable-tier failure returned by the coordinator.
	ErrUnavailable = errors.New("tiermap: durable tier unavailable")
	// ErrInvalidArgument is returned for an empty key or a nil value before any tier is called.
	ErrInvalidArgument = kv.ErrInvalidArgument
)

// Error is a durable-tier failure. The cache tier was not touched.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("tiermap: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrUnavailable, e.Err} }

// CodecError reports a value that could not be encoded or decoded.
type CodecError struct {
	Key string
	Err error
}

func (e *CodecError) Error() string {
	return fmt.Sprintf("tiermap: codec %q: %v", e.Key, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }
