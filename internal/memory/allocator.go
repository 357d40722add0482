// Package memory provides the allocation strategies a growable buffer obtains
// its backing region from. Every strategy implements Allocator and is safe for
// concurrent use, so one allocator can serve many independently owned buffers.
package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned for negative allocation sizes
	ErrInvalidSize = errors.New("invalid allocation size")

	// ErrQuotaExceeded is returned when a request would exceed a byte budget
	ErrQuotaExceeded = errors.New("allocation quota exceeded")

	// ErrUnknownAllocator is returned by Registry for names it has no config for
	ErrUnknownAllocator = errors.New("unknown allocator")
)

// Allocator supplies and reclaims byte regions.
//
// Allocate returns a region of exactly size bytes. Strategies may hand out
// uninitialized or recycled memory; callers that need zeroed memory clear it.
//
// Reallocate resizes b to size bytes preserving min(len(b), size) leading
// bytes. On success b is consumed and must not be used or freed again. On
// failure b is left untouched and still owned by the caller.
//
// Free releases a region previously returned by Allocate or Reallocate, with
// the same length it was handed out with.
type Allocator interface {
	Allocate(size int) ([]byte, error)
	Reallocate(b []byte, size int) ([]byte, error)
	Free(b []byte)
}

// DefaultAllocator is used by buffers constructed without an explicit allocator.
var DefaultAllocator Allocator = NewHeapAllocator()

func checkSize(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return nil
}

// HeapAllocator allocates from the Go heap and leaves reclamation to the GC.
type HeapAllocator struct{}

// NewHeapAllocator returns a heap allocator
func NewHeapAllocator() *HeapAllocator { return &HeapAllocator{} }

// Allocate implements Allocator. Heap memory is always zeroed.
func (a *HeapAllocator) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	return make([]byte, size), nil
}

// Reallocate implements Allocator
func (a *HeapAllocator) Reallocate(b []byte, size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if size <= len(b) {
		return b[:size:size], nil
	}
	grown := make([]byte, size)
	copy(grown, b)
	return grown, nil
}

// Free implements Allocator
func (a *HeapAllocator) Free([]byte) {}

// Funcs adapts a set of plain functions to Allocator, for embedding
// applications that supply their own allocate/reallocate/free hooks.
// Nil members fall back to the heap strategy.
type Funcs struct {
	AllocateFunc   func(size int) ([]byte, error)
	ReallocateFunc func(b []byte, size int) ([]byte, error)
	FreeFunc       func(b []byte)
}

var heap = NewHeapAllocator()

// Allocate implements Allocator
func (f Funcs) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if f.AllocateFunc == nil {
		return heap.Allocate(size)
	}
	b, err := f.AllocateFunc(size)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("allocate hook returned %d bytes, want %d", len(b), size)
	}
	return b, nil
}

// Reallocate implements Allocator
func (f Funcs) Reallocate(b []byte, size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if f.ReallocateFunc == nil {
		return heap.Reallocate(b, size)
	}
	nb, err := f.ReallocateFunc(b, size)
	if err != nil {
		return nil, err
	}
	if len(nb) != size {
		return nil, fmt.Errorf("reallocate hook returned %d bytes, want %d", len(nb), size)
	}
	return nb, nil
}

// Free implements Allocator
func (f Funcs) Free(b []byte) {
	if f.FreeFunc != nil {
		f.FreeFunc(b)
	}
}
