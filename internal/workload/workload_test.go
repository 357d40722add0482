package workload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/goleak"

	"github.com/SkynetNext/growbuf/internal/buffer"
	"github.com/SkynetNext/growbuf/internal/config"
	"github.com/SkynetNext/growbuf/internal/memory"
	"github.com/SkynetNext/growbuf/internal/tracing"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func workloadConfig(pushes, sets int) config.WorkloadConfig {
	return config.WorkloadConfig{
		Name:            "test",
		ElementSize:     4,
		InitialCapacity: 1,
		Pushes:          pushes,
		Sets:            sets,
		Allocator:       config.DefaultAllocator,
	}
}

func TestRun_PushPopTen(t *testing.T) {
	report, err := Run(context.Background(), workloadConfig(10, 0), memory.NewHeapAllocator())
	require.NoError(t, err)

	assert.Equal(t, 10, report.Pushed)
	assert.Equal(t, 10, report.Popped)
	assert.Equal(t, 4, report.Growths) // 1 -> 2 -> 4 -> 8 -> 16
	assert.Equal(t, 16, report.PeakCapacity)
	assert.Equal(t, 64, report.PeakBytes)
	assert.Contains(t, report.String(), "pushed=10")
}

func TestRun_Sets(t *testing.T) {
	cfg := workloadConfig(3, 4)
	cfg.ElementSize = 12

	report, err := Run(context.Background(), cfg, memory.NewHeapAllocator())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Sets)
	// Each set skips one slot, so 3 + 4*2 slots are popped.
	assert.Equal(t, 11, report.Popped)
}

func TestRun_QuotaGrowthFailure(t *testing.T) {
	quota := memory.NewQuotaAllocator(memory.NewHeapAllocator(), 64)

	report, err := Run(context.Background(), workloadConfig(100, 0), quota)
	require.ErrorIs(t, err, buffer.ErrGrowthFailed)
	assert.Equal(t, 16, report.Pushed)
	assert.Zero(t, quota.InUse(), "buffer must be released after failure")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, workloadConfig(10, 0), memory.NewHeapAllocator())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tracing.InitWithProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(sr)), "growbuf-test")
	defer func() {
		require.NoError(t, tracing.Shutdown(context.Background()))
	}()

	_, err := Run(context.Background(), workloadConfig(5, 1), memory.NewHeapAllocator())
	require.NoError(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "workload.Run", spans[0].Name())
}

func TestEncode(t *testing.T) {
	elem := []byte{9, 9, 9}
	Encode(elem, 0x0102)
	assert.Equal(t, []byte{2, 1, 0}, elem)

	wide := make([]byte, 10)
	wide[9] = 7
	Encode(wide, 1)
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0, 0, 0, 0}, wide)
}
