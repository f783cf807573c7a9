package anomaly

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

const (
	metricReports           = "crashtriage.anomaly.reports"
	metricSignals           = "crashtriage.anomaly.signals"
	metricCollectorFailures = "crashtriage.anomaly.collector_failures"
	metricChromeEvents      = "crashtriage.chrome.events"

	attrFlag   = "flag"
	attrSignal = "signal"
	attrEvent  = "event"
)

// Metrics holds the anomaly detector's OTel instruments.
type Metrics struct {
	reports           metric.Int64Counter
	signals           metric.Int64Counter
	collectorFailures metric.Int64Counter
	chromeEvents      metric.Int64Counter
}

// NewMetrics creates the anomaly instruments from the given meter.
func NewMetrics(mt metric.Meter) (*Metrics, error) {
	b := observability.NewMetricBuilder(mt)

	m := &Metrics{
		reports:           b.Counter(metricReports, "Crash reports emitted by log parsers", "{report}"),
		signals:           b.Counter(metricSignals, "Out-of-band anomaly signals published", "{signal}"),
		collectorFailures: b.Counter(metricCollectorFailures, "Failed collector invocations", "{failure}"),
		chromeEvents:      b.Counter(metricChromeEvents, "Chrome crash notification health events", "{event}"),
	}

	if err := b.Err(); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordReport counts an emitted report by its first flag name.
func (m *Metrics) RecordReport(ctx context.Context, report *CrashReport) {
	flag := ""
	if len(report.Flags) > 0 {
		flag, _, _ = strings.Cut(report.Flags[0], "=")
	}

	m.reports.Add(ctx, 1, metric.WithAttributes(attribute.String(attrFlag, flag)))
}

// RecordSignal counts a published signal.
func (m *Metrics) RecordSignal(ctx context.Context, name string) {
	m.signals.Add(ctx, 1, metric.WithAttributes(attribute.String(attrSignal, name)))
}

// RecordCollectorFailure counts a failed collector invocation.
func (m *Metrics) RecordCollectorFailure(ctx context.Context) {
	m.collectorFailures.Add(ctx, 1)
}

// RecordChromeEvent implements EventRecorder.
func (m *Metrics) RecordChromeEvent(ctx context.Context, event string) {
	m.chromeEvents.Add(ctx, 1, metric.WithAttributes(attribute.String(attrEvent, event)))
}
