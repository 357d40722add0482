package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Allocator metrics
	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growbuf_allocator_operations_total",
		Help: "Total number of allocator operations",
	}, []string{"allocator", "op"})

	AllocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growbuf_allocator_failures_total",
		Help: "Total number of failed allocate/reallocate calls",
	}, []string{"allocator", "op"})

	BytesInUse = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "growbuf_allocator_bytes_in_use",
		Help: "Bytes currently handed out by an allocator",
	}, []string{"allocator"})

	AllocationSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "growbuf_allocator_request_bytes",
		Help:    "Size of allocate/reallocate requests in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10), // 64B to 16MiB
	}, []string{"allocator"})

	// Buffer metrics
	BuffersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "growbuf_buffers_live",
		Help: "Number of constructed and not yet released buffers",
	})

	BufferGrowths = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growbuf_buffer_growths_total",
		Help: "Total number of capacity doublings triggered by push",
	}, []string{"buffer"})

	BufferErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "growbuf_buffer_errors_total",
		Help: "Total number of failed buffer operations",
	}, []string{"error_type"})
)

// IncBufferError increments the buffer error counter
func IncBufferError(errorType string) {
	BufferErrors.WithLabelValues(errorType).Inc()
}
