package memory

import (
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/SkynetNext/growbuf/internal/logger"
	"github.com/SkynetNext/growbuf/internal/metrics"
)

// Instrumented wraps an allocator with prometheus metrics and failure logging
type Instrumented struct {
	name   string
	parent Allocator

	allocOps        prometheus.Counter
	reallocOps      prometheus.Counter
	freeOps         prometheus.Counter
	allocFailures   prometheus.Counter
	reallocFailures prometheus.Counter
	bytesInUse      prometheus.Gauge
	requestSize     prometheus.Observer
}

// Instrument wraps parent, labelling its metrics with name
func Instrument(name string, parent Allocator) *Instrumented {
	return &Instrumented{
		name:            name,
		parent:          parent,
		allocOps:        metrics.Allocations.WithLabelValues(name, "allocate"),
		reallocOps:      metrics.Allocations.WithLabelValues(name, "reallocate"),
		freeOps:         metrics.Allocations.WithLabelValues(name, "free"),
		allocFailures:   metrics.AllocationFailures.WithLabelValues(name, "allocate"),
		reallocFailures: metrics.AllocationFailures.WithLabelValues(name, "reallocate"),
		bytesInUse:      metrics.BytesInUse.WithLabelValues(name),
		requestSize:     metrics.AllocationSize.WithLabelValues(name),
	}
}

// Name returns the metric label of this allocator
func (a *Instrumented) Name() string {
	return a.name
}

// Unwrap returns the wrapped allocator
func (a *Instrumented) Unwrap() Allocator {
	return a.parent
}

// Allocate implements Allocator
func (a *Instrumented) Allocate(size int) ([]byte, error) {
	a.allocOps.Inc()
	a.requestSize.Observe(float64(size))

	b, err := a.parent.Allocate(size)
	if err != nil {
		a.allocFailures.Inc()
		logger.L.Warn("Allocation failed",
			zap.String("allocator", a.name),
			zap.String("size", humanize.IBytes(uint64(max(size, 0)))),
			zap.Error(err),
		)
		return nil, err
	}
	a.bytesInUse.Add(float64(len(b)))
	return b, nil
}

// Reallocate implements Allocator
func (a *Instrumented) Reallocate(b []byte, size int) ([]byte, error) {
	a.reallocOps.Inc()
	a.requestSize.Observe(float64(size))

	oldLen := len(b)
	nb, err := a.parent.Reallocate(b, size)
	if err != nil {
		a.reallocFailures.Inc()
		logger.L.Warn("Reallocation failed",
			zap.String("allocator", a.name),
			zap.String("from", humanize.IBytes(uint64(oldLen))),
			zap.String("to", humanize.IBytes(uint64(max(size, 0)))),
			zap.Error(err),
		)
		return nil, err
	}
	a.bytesInUse.Add(float64(len(nb) - oldLen))
	return nb, nil
}

// Free implements Allocator
func (a *Instrumented) Free(b []byte) {
	a.freeOps.Inc()
	a.bytesInUse.Sub(float64(len(b)))
	a.parent.Free(b)
}
