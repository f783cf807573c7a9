package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// DurationBuckets are histogram boundaries in seconds for pass and
// upload latencies.
var DurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}

// MetricBuilder creates OTel instruments and keeps the first creation
// error, so a set of instruments needs a single error check.
type MetricBuilder struct {
	meter metric.Meter
	err   error
}

// NewMetricBuilder creates a builder for the given meter.
func NewMetricBuilder(mt metric.Meter) *MetricBuilder {
	return &MetricBuilder{meter: mt}
}

// Counter creates an Int64Counter.
func (b *MetricBuilder) Counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

// Histogram creates a Float64Histogram with optional bucket boundaries.
func (b *MetricBuilder) Histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

// UpDownCounter creates an Int64UpDownCounter.
func (b *MetricBuilder) UpDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

// Err returns the first instrument creation error, if any.
func (b *MetricBuilder) Err() error {
	return b.err
}

func (b *MetricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}
