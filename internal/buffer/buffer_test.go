package buffer

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/growbuf/internal/memory"
	"github.com/SkynetNext/growbuf/internal/metrics"
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func mustGet(t *testing.T, b *Buffer, i int) uint32 {
	t.Helper()
	dst := make([]byte, b.ElemSize())
	require.NoError(t, b.Get(i, dst))
	return binary.LittleEndian.Uint32(dst)
}

func TestNew_ReleaseRoundTrip(t *testing.T) {
	for _, elemSize := range []int{1, 4, 16} {
		for _, capacity := range []int{0, 1, 10} {
			b, err := New(elemSize, capacity)
			require.NoError(t, err)

			assert.Equal(t, 0, b.Len())
			assert.Equal(t, max(capacity, 1), b.Cap())
			assert.Equal(t, elemSize, b.ElemSize())
			assert.Equal(t, 0, b.UsedBytes())
			assert.False(t, b.Released())

			b.Release()
			assert.Equal(t, 0, b.Len())
			assert.Equal(t, 0, b.Cap())
			assert.Equal(t, 0, b.ElemSize())
			assert.Equal(t, 0, b.UsedBytes())
			assert.True(t, b.Released())
			assert.Empty(t, b.Bytes())
		}
	}
}

func TestNew_InvalidArguments(t *testing.T) {
	_, err := New(0, 1)
	require.ErrorIs(t, err, ErrInvalidElementSize)

	_, err = New(-4, 1)
	require.ErrorIs(t, err, ErrInvalidElementSize)

	_, err = New(4, -1)
	require.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestNew_AllocationFailed(t *testing.T) {
	hookErr := errors.New("arena exhausted")
	alloc := memory.Funcs{
		AllocateFunc: func(int) ([]byte, error) { return nil, hookErr },
	}

	b, err := New(4, 8, WithAllocator(alloc))
	require.Nil(t, b)
	require.ErrorIs(t, err, ErrAllocationFailed)
	require.ErrorIs(t, err, hookErr)
}

func TestNew_SizeOverflow(t *testing.T) {
	called := false
	alloc := memory.Funcs{
		AllocateFunc: func(size int) ([]byte, error) {
			called = true
			return make([]byte, size), nil
		},
	}

	b, err := New(1<<62, 4, WithAllocator(alloc))
	require.Nil(t, b)
	require.ErrorIs(t, err, ErrAllocationFailed)
	assert.False(t, called, "allocator must not see a wrapped size")
}

func TestNew_ZeroFillsRecycledMemory(t *testing.T) {
	alloc := memory.Funcs{
		AllocateFunc: func(size int) ([]byte, error) {
			b := make([]byte, size)
			for i := range b {
				b[i] = 0xff
			}
			return b, nil
		},
	}

	b, err := New(4, 4, WithAllocator(alloc))
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Set(3, le32(9)))
	for i := 0; i < 3; i++ {
		assert.Equal(t, uint32(0), mustGet(t, b, i), "slot %d", i)
	}
	assert.Equal(t, uint32(9), mustGet(t, b, 3))
}

func TestRelease_Idempotent(t *testing.T) {
	freed := 0
	alloc := memory.Funcs{FreeFunc: func([]byte) { freed++ }}

	b, err := New(4, 2, WithAllocator(alloc))
	require.NoError(t, err)

	b.Release()
	b.Release()
	assert.Equal(t, 1, freed, "region must be freed exactly once")

	var nilBuf *Buffer
	nilBuf.Release()
}

func TestReleased_OperationsFail(t *testing.T) {
	b, err := New(4, 2)
	require.NoError(t, err)
	b.Release()

	assert.ErrorIs(t, b.Push(le32(1)), ErrReleased)
	assert.ErrorIs(t, b.Pop(nil), ErrReleased)
	assert.ErrorIs(t, b.Get(0, make([]byte, 4)), ErrReleased)
	assert.ErrorIs(t, b.Set(0, le32(1)), ErrReleased)
	assert.ErrorIs(t, b.Reserve(8), ErrReleased)
}

func TestPushPop_StackLaw(t *testing.T) {
	b, err := New(4, 3)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Push(le32(100)))
	before := b.Len()

	for i := uint32(1); i <= 20; i++ {
		require.NoError(t, b.Push(le32(i)))
	}
	assert.Equal(t, before+20, b.Len())
	assert.Equal(t, 4*b.Len(), b.UsedBytes())

	dst := make([]byte, 4)
	for i := uint32(20); i >= 1; i-- {
		require.NoError(t, b.Pop(dst))
		assert.Equal(t, i, binary.LittleEndian.Uint32(dst))
	}
	assert.Equal(t, before, b.Len())
	assert.Equal(t, uint32(100), mustGet(t, b, 0))
}

func TestPush_GrowthPreservesContents(t *testing.T) {
	b, err := New(4, 4)
	require.NoError(t, err)
	defer b.Release()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Push(le32(uint32(i*11))))
	}
	require.Equal(t, 4, b.Cap())

	require.NoError(t, b.Push(le32(44)))
	assert.Equal(t, 8, b.Cap(), "capacity should double")
	assert.Equal(t, 5, b.Len())

	for i := 0; i < 5; i++ {
		assert.Equal(t, uint32(i*11), mustGet(t, b, i))
	}
}

func TestPush_DoublesFromOne(t *testing.T) {
	b, err := New(1, 0)
	require.NoError(t, err)
	defer b.Release()

	caps := []int{}
	for i := 0; i < 9; i++ {
		require.NoError(t, b.Push([]byte{byte(i)}))
		caps = append(caps, b.Cap())
	}
	assert.Equal(t, []int{1, 2, 4, 4, 8, 8, 8, 8, 16}, caps)
	assert.Equal(t, []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}, b.Bytes())
}

func TestPush_GrowthFailedRefusesWrite(t *testing.T) {
	quota := memory.NewQuotaAllocator(memory.NewHeapAllocator(), 8)

	b, err := New(4, 2, WithAllocator(quota))
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Push(le32(1)))
	require.NoError(t, b.Push(le32(2)))

	err = b.Push(le32(3))
	require.ErrorIs(t, err, ErrGrowthFailed)
	require.ErrorIs(t, err, memory.ErrQuotaExceeded)

	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.Cap())
	assert.Equal(t, uint32(1), mustGet(t, b, 0))
	assert.Equal(t, uint32(2), mustGet(t, b, 1))
	assert.Equal(t, int64(8), quota.InUse())
}

func TestPush_ElementSizeMismatch(t *testing.T) {
	b, err := New(4, 1)
	require.NoError(t, err)
	defer b.Release()

	require.ErrorIs(t, b.Push([]byte{1, 2}), ErrElementSize)
	require.ErrorIs(t, b.Set(0, nil), ErrElementSize)
	require.ErrorIs(t, b.Get(0, make([]byte, 8)), ErrElementSize)
	assert.Equal(t, 0, b.Len())

	require.NoError(t, b.Push(le32(1)))
	require.ErrorIs(t, b.Pop(make([]byte, 3)), ErrElementSize)
	assert.Equal(t, 1, b.Len(), "a rejected pop must not remove the element")
}

func TestPop_Underflow(t *testing.T) {
	b, err := New(4, 2)
	require.NoError(t, err)
	defer b.Release()

	before := testutil.ToFloat64(metrics.BufferErrors.WithLabelValues("underflow"))

	require.ErrorIs(t, b.Pop(nil), ErrUnderflow)
	assert.Equal(t, 0, b.Len(), "count must not wrap around")

	require.NoError(t, b.Push(le32(5)))
	require.NoError(t, b.Pop(nil))
	require.ErrorIs(t, b.Pop(make([]byte, 4)), ErrUnderflow)
	assert.Equal(t, 0, b.Len())

	after := testutil.ToFloat64(metrics.BufferErrors.WithLabelValues("underflow"))
	assert.Equal(t, before+2, after)
}

func TestGet_OutOfRange(t *testing.T) {
	b, err := New(4, 4)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Push(le32(7)))
	dst := make([]byte, 4)

	for _, i := range []int{-1, 1, 3, 4, 100} {
		assert.ErrorIs(t, b.Get(i, dst), ErrIndexOutOfRange, "index %d", i)
	}
	assert.Equal(t, uint32(7), mustGet(t, b, 0))
}

func TestSet_ExtendsCount(t *testing.T) {
	b, err := New(4, 8)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Set(3, le32(33)))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 16, b.UsedBytes())
	assert.Equal(t, uint32(33), mustGet(t, b, 3))

	// Skipped slots are valid to read.
	for i := 0; i < 3; i++ {
		mustGet(t, b, i)
	}

	// Overwriting inside the valid prefix leaves the count alone.
	require.NoError(t, b.Set(1, le32(11)))
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, uint32(11), mustGet(t, b, 1))

	require.NoError(t, b.Set(7, le32(77)))
	assert.Equal(t, 8, b.Len())
	assert.Equal(t, 8, b.Cap())
}

func TestSet_OutOfRangeNeverGrows(t *testing.T) {
	b, err := New(4, 2)
	require.NoError(t, err)
	defer b.Release()

	require.ErrorIs(t, b.Set(2, le32(1)), ErrIndexOutOfRange)
	require.ErrorIs(t, b.Set(-1, le32(1)), ErrIndexOutOfRange)
	assert.Equal(t, 2, b.Cap())
	assert.Equal(t, 0, b.Len())
}

func TestReserve(t *testing.T) {
	b, err := New(4, 1)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Reserve(10))
	assert.Equal(t, 10, b.Cap())

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Push(le32(uint32(i))))
	}

	// Shrinking below the count clamps it.
	require.NoError(t, b.Reserve(4))
	assert.Equal(t, 4, b.Cap())
	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 16, b.UsedBytes())
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint32(i), mustGet(t, b, i))
	}

	// Capacity never drops below one slot.
	require.NoError(t, b.Reserve(0))
	assert.Equal(t, 1, b.Cap())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, uint32(0), mustGet(t, b, 0))
}

func TestReserve_FailureLeavesBufferUnchanged(t *testing.T) {
	hookErr := errors.New("no memory")
	alloc := memory.Funcs{
		ReallocateFunc: func([]byte, int) ([]byte, error) { return nil, hookErr },
	}

	b, err := New(4, 2, WithAllocator(alloc))
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Push(le32(1)))
	region := b.Bytes()

	err = b.Reserve(64)
	require.ErrorIs(t, err, ErrGrowthFailed)
	require.ErrorIs(t, err, hookErr)

	assert.Equal(t, 2, b.Cap())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, region, b.Bytes())
	assert.Equal(t, uint32(1), mustGet(t, b, 0))

	require.NoError(t, b.Reserve(2), "reserving the current capacity is a no-op")
}

func TestReserve_SizeOverflow(t *testing.T) {
	b, err := New(4, 1)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Push(le32(7)))
	region := b.Bytes()

	err = b.Reserve(1 << 62)
	require.ErrorIs(t, err, ErrGrowthFailed)
	assert.Equal(t, 1, b.Cap())
	assert.Equal(t, 1, b.Len())
	assert.Equal(t, region, b.Bytes())

	require.NoError(t, b.Set(0, le32(8)))
	assert.Equal(t, uint32(8), mustGet(t, b, 0))
}

func TestPush_CapacityCannotDouble(t *testing.T) {
	b, err := New(1, 1)
	require.NoError(t, err)
	defer b.Release()

	// Simulate a full buffer whose doubled capacity would overflow.
	data := b.data
	b.capacity, b.count = math.MaxInt/2+1, math.MaxInt/2+1
	defer func() { b.capacity, b.count, b.data = 1, 0, data }()

	err = b.Push([]byte{1})
	require.ErrorIs(t, err, ErrGrowthFailed)
	assert.Equal(t, math.MaxInt/2+1, b.Cap())
}

func TestWith_ReleasesOnEveryPath(t *testing.T) {
	quota := memory.NewQuotaAllocator(memory.NewHeapAllocator(), 1024)
	fnErr := errors.New("caller failed")

	err := With(4, 8, func(b *Buffer) error {
		require.Equal(t, int64(32), quota.InUse())
		return b.Push(le32(1))
	}, WithAllocator(quota))
	require.NoError(t, err)
	assert.Zero(t, quota.InUse())

	err = With(4, 8, func(*Buffer) error { return fnErr }, WithAllocator(quota))
	require.ErrorIs(t, err, fnErr)
	assert.Zero(t, quota.InUse())

	require.Panics(t, func() {
		_ = With(4, 8, func(*Buffer) error { panic("boom") }, WithAllocator(quota))
	})
	assert.Zero(t, quota.InUse())

	err = With(4, 1024, func(*Buffer) error {
		t.Fatal("fn must not run when construction fails")
		return nil
	}, WithAllocator(quota))
	require.ErrorIs(t, err, ErrAllocationFailed)
}

func TestBuffer_GrowthMetric(t *testing.T) {
	name := "growth-metric-test"
	b, err := New(2, 1, WithName(name))
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, name, b.Name())

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Push([]byte{byte(i), 0}))
	}
	// 1 -> 2 -> 4 -> 8
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BufferGrowths.WithLabelValues(name)))
}

// Construct(4, 1), push 0..9, pop all in reverse.
func TestBuffer_PushPopTen(t *testing.T) {
	b, err := New(4, 1)
	require.NoError(t, err)
	defer b.Release()

	for i := uint32(0); i < 10; i++ {
		require.NoError(t, b.Push(le32(i)))
	}
	require.Equal(t, 10, b.Len())
	require.GreaterOrEqual(t, b.Cap(), 10)

	dst := make([]byte, 4)
	for want := 9; want >= 0; want-- {
		require.NoError(t, b.Pop(dst))
		require.Equal(t, uint32(want), binary.LittleEndian.Uint32(dst))
	}
	require.Equal(t, 0, b.Len())
}

// Construct(4, 10), Set(5, 25) without any push.
func TestBuffer_SetWithoutPush(t *testing.T) {
	b, err := New(4, 10)
	require.NoError(t, err)
	defer b.Release()

	require.NoError(t, b.Set(5, le32(25)))
	require.Equal(t, 6, b.Len())
	require.Equal(t, uint32(25), mustGet(t, b, 5))
}

func BenchmarkBuffer_Push(b *testing.B) {
	elem := le32(42)
	buf, err := New(4, 1)
	if err != nil {
		b.Fatal(err)
	}
	defer buf.Release()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := buf.Push(elem); err != nil {
			b.Fatal(err)
		}
	}
}
