package buffer

import (
	"github.com/SkynetNext/growbuf/internal/unsafecast"
)

// Scalar is the set of fixed-size element types without pointers.
// Only such values may live in allocator-owned byte memory.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64 | ~complex64 | ~complex128
}

// Vector is a typed view over a Buffer whose element size is the size of T
type Vector[T Scalar] struct {
	buf *Buffer
}

// NewVector allocates a vector with room for initialCapacity values
func NewVector[T Scalar](initialCapacity int, opts ...Option) (*Vector[T], error) {
	b, err := New(int(unsafecast.Sizeof[T]()), initialCapacity, opts...)
	if err != nil {
		return nil, err
	}
	return &Vector[T]{buf: b}, nil
}

// Buffer returns the untyped buffer backing the vector
func (v *Vector[T]) Buffer() *Buffer {
	return v.buf
}

// Len returns the number of valid values
func (v *Vector[T]) Len() int {
	return v.buf.Len()
}

// Cap returns the number of slots
func (v *Vector[T]) Cap() int {
	return v.buf.Cap()
}

// Reserve resizes the vector to hold n values, see Buffer.Reserve
func (v *Vector[T]) Reserve(n int) error {
	return v.buf.Reserve(n)
}

// Release frees the vector's memory, see Buffer.Release
func (v *Vector[T]) Release() {
	v.buf.Release()
}

// Push appends x
func (v *Vector[T]) Push(x T) error {
	return v.buf.Push(unsafecast.Bytes(&x))
}

// Pop removes and returns the last value
func (v *Vector[T]) Pop() (T, error) {
	var x T
	err := v.buf.Pop(unsafecast.Bytes(&x))
	return x, err
}

// Get returns the value at index i
func (v *Vector[T]) Get(i int) (T, error) {
	var x T
	err := v.buf.Get(i, unsafecast.Bytes(&x))
	return x, err
}

// Set writes x at index i, extending the vector when i >= Len, see Buffer.Set
func (v *Vector[T]) Set(i int, x T) error {
	return v.buf.Set(i, unsafecast.Bytes(&x))
}

// Values returns a copy of the valid values
func (v *Vector[T]) Values() []T {
	out := make([]T, v.buf.Len())
	copy(unsafecast.Slice[T, byte](out), v.buf.Bytes())
	return out
}
