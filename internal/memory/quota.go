package memory

import (
	"fmt"
	"sync/atomic"
)

// QuotaAllocator limits the total number of bytes outstanding from a parent allocator.
// One quota may be shared by many buffers; accounting is lock-free.
type QuotaAllocator struct {
	parent Allocator
	limit  int64
	inUse  atomic.Int64
}

// NewQuotaAllocator wraps parent with a byte budget of limit
func NewQuotaAllocator(parent Allocator, limit int64) *QuotaAllocator {
	if parent == nil {
		parent = DefaultAllocator
	}
	return &QuotaAllocator{
		parent: parent,
		limit:  limit,
	}
}

// acquire reserves n bytes of budget
func (q *QuotaAllocator) acquire(n int64) error {
	for {
		current := q.inUse.Load()
		if current+n > q.limit {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrQuotaExceeded, n, current, q.limit)
		}
		if q.inUse.CompareAndSwap(current, current+n) {
			return nil
		}
	}
}

func (q *QuotaAllocator) release(n int64) {
	q.inUse.Add(-n)
}

// Allocate implements Allocator
func (q *QuotaAllocator) Allocate(size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if err := q.acquire(int64(size)); err != nil {
		return nil, err
	}
	b, err := q.parent.Allocate(size)
	if err != nil {
		q.release(int64(size))
		return nil, err
	}
	return b, nil
}

// Reallocate implements Allocator
func (q *QuotaAllocator) Reallocate(b []byte, size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	delta := int64(size - len(b))
	if delta > 0 {
		if err := q.acquire(delta); err != nil {
			return nil, err
		}
	}
	nb, err := q.parent.Reallocate(b, size)
	if err != nil {
		if delta > 0 {
			q.release(delta)
		}
		return nil, err
	}
	if delta < 0 {
		q.release(-delta)
	}
	return nb, nil
}

// Free implements Allocator
func (q *QuotaAllocator) Free(b []byte) {
	q.release(int64(len(b)))
	q.parent.Free(b)
}

// InUse returns the number of bytes currently charged against the quota
func (q *QuotaAllocator) InUse() int64 {
	return q.inUse.Load()
}

// Limit returns the byte budget
func (q *QuotaAllocator) Limit() int64 {
	return q.limit
}

// Available returns the remaining byte budget
func (q *QuotaAllocator) Available() int64 {
	return q.limit - q.inUse.Load()
}
