package sender

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

const (
	metricSent         = "crashtriage.crash.sent"
	metricSendFailures = "crashtriage.crash.send_failures"
	metricIgnored      = "crashtriage.crash.ignored"
	metricPassDuration = "crashtriage.sender.pass.duration"
)

// Metrics holds the sender's OTel instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	sent         metric.Int64Counter
	sendFailures metric.Int64Counter
	ignored      metric.Int64Counter
	passDuration metric.Float64Histogram
}

// NewMetrics creates the sender instruments from the given meter.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	b := observability.NewMetricBuilder(mt)

	m := &Metrics{
		sent:         b.Counter(metricSent, "Crash records transmitted", "{record}"),
		sendFailures: b.Counter(metricSendFailures, "Failed crash record transmissions", "{record}"),
		ignored:      b.Counter(metricIgnored, "Crash records left for a later pass", "{record}"),
		passDuration: b.Histogram(metricPassDuration, "Duration of one sender pass", "s", observability.DurationBuckets...),
	}

	if err := b.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) recordSent(ctx context.Context) {
	if m != nil {
		m.sent.Add(ctx, 1)
	}
}

func (m *Metrics) recordFailure(ctx context.Context) {
	if m != nil {
		m.sendFailures.Add(ctx, 1)
	}
}

func (m *Metrics) recordIgnored(ctx context.Context) {
	if m != nil {
		m.ignored.Add(ctx, 1)
	}
}

func (m *Metrics) recordPass(ctx context.Context, d time.Duration) {
	if m != nil {
		m.passDuration.Record(ctx, d.Seconds())
	}
}
