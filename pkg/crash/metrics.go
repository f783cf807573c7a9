package crash

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

const (
	metricRemoved = "crashtriage.crash.removed"

	attrReason = "reason"
	attrPolicy = "policy"
)

// Metrics counts Remove verdicts. It implements ReasonRecorder.
type Metrics struct {
	removed metric.Int64Counter
}

// NewMetrics creates the crash store instruments from the given meter.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	b := observability.NewMetricBuilder(mt)

	m := &Metrics{
		removed: b.Counter(metricRemoved, "Crash records removed, by rule", "{record}"),
	}

	if err := b.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRemoveReason implements ReasonRecorder.
func (m *Metrics) RecordRemoveReason(ctx context.Context, reason RemoveReason) {
	m.removed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrReason, reason.String()),
		attribute.Bool(attrPolicy, reason.IsPolicy()),
	))
}
