package buffer

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/SkynetNext/growbuf/internal/logger"
	"github.com/SkynetNext/growbuf/internal/memory"
	"github.com/SkynetNext/growbuf/internal/metrics"
)

var (
	// ErrAllocationFailed is returned when construction could not obtain memory
	ErrAllocationFailed = errors.New("allocation failed")

	// ErrGrowthFailed is returned when a reserve could not resize the region.
	// The buffer keeps its previous memory, capacity and contents.
	ErrGrowthFailed = errors.New("growth failed")

	errSizeOverflow = errors.New("region size overflows int")

	// ErrIndexOutOfRange is returned by Get and Set for indices outside the defined region
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrUnderflow is returned by Pop on an empty buffer
	ErrUnderflow = errors.New("pop from empty buffer")

	// ErrInvalidElementSize is returned by New for element sizes below 1
	ErrInvalidElementSize = errors.New("invalid element size")

	// ErrInvalidCapacity is returned by New for negative capacities
	ErrInvalidCapacity = errors.New("invalid capacity")

	// ErrElementSize is returned when an element slice does not match the element size
	ErrElementSize = errors.New("element length does not match element size")

	// ErrReleased is returned by element operations on a released buffer
	ErrReleased = errors.New("buffer released")
)

// Option configures a Buffer at construction
type Option func(*options)

type options struct {
	alloc memory.Allocator
	name  string
}

// WithAllocator sets the allocator the buffer obtains and returns its region through
func WithAllocator(a memory.Allocator) Option {
	return func(o *options) {
		if a != nil {
			o.alloc = a
		}
	}
}

// WithName labels the buffer in logs and metrics
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Buffer is a contiguous array of fixed-size elements.
//
// Elements are copied in and out as byte slices of exactly ElemSize bytes.
// The valid elements always form the prefix [0, Len) of the region; the
// region holds Cap slots. A Buffer is not safe for concurrent use.
type Buffer struct {
	data     []byte
	elemSize int
	count    int
	capacity int

	alloc memory.Allocator
	name  string
}

// New allocates a buffer with room for initialCapacity elements of elemSize bytes.
// A zero capacity is rounded up to one slot. The region is zero-filled and the
// buffer starts empty.
func New(elemSize, initialCapacity int, opts ...Option) (*Buffer, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidElementSize, elemSize)
	}
	if initialCapacity < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, initialCapacity)
	}

	o := options{alloc: memory.DefaultAllocator, name: "buffer"}
	for _, opt := range opts {
		opt(&o)
	}

	capacity := max(initialCapacity, 1)
	if capacity > math.MaxInt/elemSize {
		metrics.IncBufferError("allocation_failed")
		return nil, fmt.Errorf("%w: %d x %d bytes: %w", ErrAllocationFailed, capacity, elemSize, errSizeOverflow)
	}
	data, err := o.alloc.Allocate(capacity * elemSize)
	if err != nil {
		metrics.IncBufferError("allocation_failed")
		return nil, fmt.Errorf("%w: %d x %d bytes: %w", ErrAllocationFailed, capacity, elemSize, err)
	}
	clear(data)

	metrics.BuffersLive.Inc()
	return &Buffer{
		data:     data,
		elemSize: elemSize,
		capacity: capacity,
		alloc:    o.alloc,
		name:     o.name,
	}, nil
}

// Release returns the region to the allocator and resets the buffer to its zero state.
// Releasing an already released buffer is a no-op.
func (b *Buffer) Release() {
	if b == nil || b.data == nil {
		return
	}
	b.alloc.Free(b.data)
	metrics.BuffersLive.Dec()
	*b = Buffer{}
}

// Released reports whether the buffer no longer holds memory
func (b *Buffer) Released() bool {
	return b == nil || b.data == nil
}

// Len returns the number of valid elements
func (b *Buffer) Len() int {
	return b.count
}

// Cap returns the number of slots the region has room for
func (b *Buffer) Cap() int {
	return b.capacity
}

// ElemSize returns the size of one element in bytes
func (b *Buffer) ElemSize() int {
	return b.elemSize
}

// UsedBytes returns ElemSize * Len
func (b *Buffer) UsedBytes() int {
	return b.elemSize * b.count
}

// Name returns the label the buffer was constructed with
func (b *Buffer) Name() string {
	return b.name
}

// Bytes returns the valid prefix of the region. The slice aliases the buffer
// and is invalidated by any reserve, growth or release.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.UsedBytes():b.UsedBytes()]
}

func (b *Buffer) slot(i int) []byte {
	off := i * b.elemSize
	return b.data[off : off+b.elemSize : off+b.elemSize]
}

func (b *Buffer) checkElem(elem []byte) error {
	if b.data == nil {
		return ErrReleased
	}
	if len(elem) != b.elemSize {
		metrics.IncBufferError("element_size")
		return fmt.Errorf("%w: got %d bytes, want %d", ErrElementSize, len(elem), b.elemSize)
	}
	return nil
}

// Reserve resizes the region to hold n elements. n below one is rounded up
// to one. On failure the buffer is left unchanged and the returned error
// wraps ErrGrowthFailed. Shrinking below Len drops the elements past n.
// Slots added by a reserve hold unspecified bytes.
func (b *Buffer) Reserve(n int) error {
	if b.data == nil {
		return ErrReleased
	}
	n = max(n, 1)
	if n == b.capacity {
		return nil
	}
	if n > math.MaxInt/b.elemSize {
		metrics.IncBufferError("growth_failed")
		return fmt.Errorf("%w: %d -> %d elements: %w", ErrGrowthFailed, b.capacity, n, errSizeOverflow)
	}

	data, err := b.alloc.Reallocate(b.data, n*b.elemSize)
	if err != nil {
		metrics.IncBufferError("growth_failed")
		logger.L.Warn("Buffer reserve failed",
			zap.String("buffer", b.name),
			zap.Int("capacity", b.capacity),
			zap.Int("requested", n),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %d -> %d elements: %w", ErrGrowthFailed, b.capacity, n, err)
	}

	b.data = data
	b.capacity = n
	b.count = min(b.count, n)
	return nil
}

// Push appends a copy of elem, doubling the capacity first when the buffer is full.
// If the growth fails the element is not written.
func (b *Buffer) Push(elem []byte) error {
	if err := b.checkElem(elem); err != nil {
		return err
	}

	if b.count == b.capacity {
		if b.capacity > math.MaxInt/2 {
			metrics.IncBufferError("growth_failed")
			return fmt.Errorf("%w: capacity %d cannot double: %w", ErrGrowthFailed, b.capacity, errSizeOverflow)
		}
		if err := b.Reserve(2 * b.capacity); err != nil {
			return err
		}
		metrics.BufferGrowths.WithLabelValues(b.name).Inc()
		logger.L.Debug("Buffer grown",
			zap.String("buffer", b.name),
			zap.Int("capacity", b.capacity),
			zap.Int("bytes", len(b.data)),
		)
	}

	copy(b.slot(b.count), elem)
	b.count++
	return nil
}

// Pop removes the last element and copies it into dst. A nil dst discards the element.
func (b *Buffer) Pop(dst []byte) error {
	if b.data == nil {
		return ErrReleased
	}
	if dst != nil && len(dst) != b.elemSize {
		metrics.IncBufferError("element_size")
		return fmt.Errorf("%w: got %d bytes, want %d", ErrElementSize, len(dst), b.elemSize)
	}
	if b.count == 0 {
		metrics.IncBufferError("underflow")
		return ErrUnderflow
	}

	b.count--
	if dst != nil {
		copy(dst, b.slot(b.count))
	}
	return nil
}

// Get copies the element at index i into dst. i must be below Len.
func (b *Buffer) Get(i int, dst []byte) error {
	if err := b.checkElem(dst); err != nil {
		return err
	}
	if i < 0 || i >= b.count {
		metrics.IncBufferError("index_out_of_range")
		return fmt.Errorf("%w: index %d, length %d", ErrIndexOutOfRange, i, b.count)
	}

	copy(dst, b.slot(i))
	return nil
}

// Set writes a copy of elem at index i. i must be below Cap; an index at or
// past Len extends the buffer to i+1 elements, and any slots skipped over
// become valid with unspecified contents. Set never grows the region.
func (b *Buffer) Set(i int, elem []byte) error {
	if err := b.checkElem(elem); err != nil {
		return err
	}
	if i < 0 || i >= b.capacity {
		metrics.IncBufferError("index_out_of_range")
		return fmt.Errorf("%w: index %d, capacity %d", ErrIndexOutOfRange, i, b.capacity)
	}

	copy(b.slot(i), elem)
	if i >= b.count {
		b.count = i + 1
	}
	return nil
}

// With constructs a buffer, passes it to fn and releases it on every exit
// path, including a panic in fn.
func With(elemSize, initialCapacity int, fn func(*Buffer) error, opts ...Option) error {
	b, err := New(elemSize, initialCapacity, opts...)
	if err != nil {
		return err
	}
	defer b.Release()

	return fn(b)
}
