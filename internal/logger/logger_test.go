package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"info":    zapcore.InfoLevel,
		"warn":    zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestWithTrace_NoSpan(t *testing.T) {
	fields := WithTrace(context.Background(), zap.String("k", "v"))
	require.Len(t, fields, 1)
}

func TestWithTrace_ValidSpan(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x4b, 0xf9, 0x2f, 0x35},
		SpanID:     trace.SpanID{0x00, 0xf0, 0x67},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	core, logs := observer.New(zapcore.DebugLevel)
	Set(zap.New(core))
	defer Set(nil)

	InfoWithTrace(ctx, "traced")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctxMap := entries[0].ContextMap()
	assert.Equal(t, sc.TraceID().String(), ctxMap["trace_id"])
	assert.Equal(t, sc.SpanID().String(), ctxMap["span_id"])
}

func TestSet_NilResetsToNop(t *testing.T) {
	Set(nil)
	require.NotNil(t, L)
	L.Info("dropped")
	assert.NoError(t, Sync())
}
