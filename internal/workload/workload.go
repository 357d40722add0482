package workload

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/SkynetNext/growbuf/internal/buffer"
	"github.com/SkynetNext/growbuf/internal/config"
	"github.com/SkynetNext/growbuf/internal/logger"
	"github.com/SkynetNext/growbuf/internal/memory"
	"github.com/SkynetNext/growbuf/internal/tracing"
)

// ErrVerification is returned when a read back element differs from what was written
var ErrVerification = errors.New("verification failed")

// checkEvery is how many operations run between context checks
const checkEvery = 1024

// Report summarizes one workload run
type Report struct {
	Pushed       int
	Popped       int
	Sets         int
	Growths      int
	PeakCapacity int
	PeakBytes    int
	Duration     time.Duration
}

// String formats the report for humans
func (r Report) String() string {
	return fmt.Sprintf("pushed=%d popped=%d sets=%d growths=%d peak_capacity=%d peak_bytes=%s duration=%s",
		r.Pushed, r.Popped, r.Sets, r.Growths, r.PeakCapacity,
		humanize.IBytes(uint64(r.PeakBytes)), r.Duration)
}

// Encode writes v little-endian into elem, truncating or zero-padding to len(elem)
func Encode(elem []byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	clear(elem)
	copy(elem, tmp[:])
}

type run struct {
	b        *buffer.Buffer
	report   *Report
	expected map[int]uint64
	elem     []byte
	scratch  []byte
}

func (r *run) observe() {
	if c := r.b.Cap(); c > r.report.PeakCapacity {
		r.report.PeakCapacity = c
		r.report.PeakBytes = c * r.b.ElemSize()
	}
}

// verify compares the element at index i (already copied into r.scratch) with its expected value
func (r *run) verify(i int) error {
	want, ok := r.expected[i]
	if !ok {
		// Slot skipped over by a set; its contents are unspecified.
		return nil
	}
	Encode(r.elem, want)
	if !bytes.Equal(r.elem, r.scratch) {
		return fmt.Errorf("%w: index %d holds %x, want %x", ErrVerification, i, r.scratch, r.elem)
	}
	return nil
}

// Run pushes cfg.Pushes elements, applies cfg.Sets auto-extending sets past
// the end, verifies every element with Get and pops everything verifying
// the reverse order. The buffer is released on every exit path.
func Run(ctx context.Context, cfg config.WorkloadConfig, alloc memory.Allocator) (Report, error) {
	ctx, span := tracing.StartSpan(ctx, "workload.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("workload.name", cfg.Name),
		attribute.Int("workload.element_size", cfg.ElementSize),
		attribute.Int("workload.pushes", cfg.Pushes),
		attribute.Int("workload.sets", cfg.Sets),
	)

	var report Report
	start := time.Now()

	err := buffer.With(cfg.ElementSize, cfg.InitialCapacity, func(b *buffer.Buffer) error {
		r := &run{
			b:        b,
			report:   &report,
			expected: make(map[int]uint64, cfg.Pushes+cfg.Sets),
			elem:     make([]byte, cfg.ElementSize),
			scratch:  make([]byte, cfg.ElementSize),
		}
		r.observe()

		if err := r.push(ctx, cfg.Pushes); err != nil {
			return err
		}
		if err := r.set(ctx, cfg.Sets); err != nil {
			return err
		}
		if err := r.readBack(ctx); err != nil {
			return err
		}
		return r.popAll(ctx)
	}, buffer.WithAllocator(alloc), buffer.WithName(cfg.Name))

	report.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorWithTrace(ctx, "Workload failed",
			zap.String("workload", cfg.Name),
			zap.Int("pushed", report.Pushed),
			zap.Error(err),
		)
		return report, err
	}

	span.SetAttributes(
		attribute.Int("workload.growths", report.Growths),
		attribute.Int("workload.peak_capacity", report.PeakCapacity),
	)
	logger.InfoWithTrace(ctx, "Workload completed",
		zap.String("workload", cfg.Name),
		zap.Stringer("report", report),
	)
	return report, nil
}

func (r *run) push(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		before := r.b.Cap()
		v := uint64(i)
		Encode(r.elem, v)
		if err := r.b.Push(r.elem); err != nil {
			return fmt.Errorf("failed to push element %d: %w", i, err)
		}
		r.expected[r.b.Len()-1] = v
		r.report.Pushed++
		if r.b.Cap() > before {
			r.report.Growths++
			r.observe()
		}
	}
	return nil
}

// set writes past the end of the buffer, leaving one skipped slot before each
// write. Capacity is reserved explicitly because Set never grows.
func (r *run) set(ctx context.Context, n int) error {
	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		idx := r.b.Len() + 1
		if idx >= r.b.Cap() {
			if err := r.b.Reserve(2 * (idx + 1)); err != nil {
				return fmt.Errorf("failed to reserve for set %d: %w", k, err)
			}
			r.report.Growths++
			r.observe()
		}

		v := uint64(1<<32 + k)
		Encode(r.elem, v)
		if err := r.b.Set(idx, r.elem); err != nil {
			return fmt.Errorf("failed to set index %d: %w", idx, err)
		}
		if r.b.Len() != idx+1 {
			return fmt.Errorf("%w: set at %d left length %d", ErrVerification, idx, r.b.Len())
		}
		r.expected[idx] = v
		r.report.Sets++
	}
	return nil
}

func (r *run) readBack(ctx context.Context) error {
	for i := 0; i < r.b.Len(); i++ {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := r.b.Get(i, r.scratch); err != nil {
			return fmt.Errorf("failed to get index %d: %w", i, err)
		}
		if err := r.verify(i); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) popAll(ctx context.Context) error {
	for r.b.Len() > 0 {
		if r.report.Popped%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		i := r.b.Len() - 1
		if err := r.b.Pop(r.scratch); err != nil {
			return fmt.Errorf("failed to pop index %d: %w", i, err)
		}
		if err := r.verify(i); err != nil {
			return err
		}
		r.report.Popped++
	}

	// One more pop must report underflow rather than wrap around.
	if err := r.b.Pop(nil); !errors.Is(err, buffer.ErrUnderflow) {
		return fmt.Errorf("%w: pop on empty buffer returned %v", ErrVerification, err)
	}
	return nil
}
