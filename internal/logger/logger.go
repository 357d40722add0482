package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// L is the global logger instance.
	// It discards everything until Init is called, so library code can log unconditionally.
	L = zap.NewNop()
)

// ParseLevel maps a config/env level name to a zap level, defaulting to info
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Init initializes the global logger
func Init(level string) error {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := config.Build()
	if err != nil {
		return err
	}
	L = l

	return nil
}

// Set replaces the global logger, e.g. with zaptest or observer loggers in tests.
// A nil logger resets it to a no-op logger.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	L = l
}

// Sync flushes any buffered log entries
func Sync() error {
	if L == nil {
		return nil
	}
	return L.Sync()
}

// WithTrace extracts trace context from context.Context and adds trace_id and span_id fields
func WithTrace(ctx context.Context, fields ...zap.Field) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		fields = append(fields,
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return fields
}

// InfoWithTrace logs at Info level with trace context
func InfoWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Info(msg, WithTrace(ctx, fields...)...)
}

// ErrorWithTrace logs at Error level with trace context
func ErrorWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Error(msg, WithTrace(ctx, fields...)...)
}

// WarnWithTrace logs at Warn level with trace context
func WarnWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Warn(msg, WithTrace(ctx, fields...)...)
}

// DebugWithTrace logs at Debug level with trace context
func DebugWithTrace(ctx context.Context, msg string, fields ...zap.Field) {
	L.Debug(msg, WithTrace(ctx, fields...)...)
}
