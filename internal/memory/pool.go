package memory

import (
	"fmt"

	"github.com/prometheus/prometheus/util/pool"
)

const (
	// DefaultPoolMinSize is the smallest bucket of a pool allocator (1KB)
	DefaultPoolMinSize = 1024

	// DefaultPoolMaxSize is the largest bucket of a pool allocator (8MB)
	DefaultPoolMaxSize = 8 * 1024 * 1024

	// DefaultPoolFactor is the size ratio between neighbouring buckets
	DefaultPoolFactor = 2.0
)

// PoolAllocator recycles regions through size-bucketed sync.Pools.
// Requests larger than the biggest bucket are served from the heap and never pooled.
type PoolAllocator struct {
	pool    *pool.Pool
	maxSize int
}

// NewPoolAllocator creates a bucketed pool allocator
func NewPoolAllocator(minSize, maxSize int, factor float64) (*PoolAllocator, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("pool min size must be greater than 0, got %d", minSize)
	}
	if maxSize < minSize {
		return nil, fmt.Errorf("pool max size %d is smaller than min size %d", maxSize, minSize)
	}
	if factor <= 1 {
		return nil, fmt.Errorf("pool factor must be greater than 1, got %v", factor)
	}
	return &PoolAllocator{
		pool: pool.New(minSize, maxSize, factor, func(size int) interface{} {
			return make([]byte, 0, size)
		}),
		maxSize: maxSize,
	}, nil
}

// Allocate implements Allocator. Recycled regions are cleared before reuse.
func (p *PoolAllocator) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if size > p.maxSize {
		return make([]byte, size), nil
	}
	b := p.pool.Get(size).([]byte)
	if cap(b) < size {
		// Bucket held a smaller region than requested, drop it.
		return make([]byte, size), nil
	}
	b = b[:size]
	clear(b)
	return b, nil
}

// Reallocate implements Allocator
func (p *PoolAllocator) Reallocate(b []byte, size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if size <= cap(b) && cap(b) <= p.maxSize {
		// Pooled region is already large enough; resize in place.
		return b[:size], nil
	}
	nb, err := p.Allocate(size)
	if err != nil {
		return nil, err
	}
	copy(nb, b)
	p.Free(b)
	return nb, nil
}

// Free implements Allocator
func (p *PoolAllocator) Free(b []byte) {
	if cap(b) == 0 || cap(b) > p.maxSize {
		return
	}
	p.pool.Put(b[:0])
}
