package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Span names recorded once per crash record. They are dropped unless verbose
// tracing is on.
const (
	SpanSerializerRecord = "crashtriage.serializer.record"
	SpanSenderRecord     = "crashtriage.sender.record"
)

// filteringTracerProvider replaces per-record spans with no-op spans while
// keeping the per-pass structure.
type filteringTracerProvider struct {
	embedded.TracerProvider

	delegate   trace.TracerProvider
	noop       trace.TracerProvider
	suppressed map[string]bool
}

// NewFilteringTracerProvider wraps delegate so that per-record spans are
// not exported.
func NewFilteringTracerProvider(delegate trace.TracerProvider) trace.TracerProvider {
	return &filteringTracerProvider{
		delegate: delegate,
		noop:     nooptrace.NewTracerProvider(),
		suppressed: map[string]bool{
			SpanSerializerRecord: true,
			SpanSenderRecord:     true,
		},
	}
}

// Tracer returns a tracer that drops suppressed span names.
func (f *filteringTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return &filteringTracer{
		delegate: f.delegate.Tracer(name, opts...),
		noop:     f.noop.Tracer(name, opts...),
		suppress: f.suppressed,
	}
}

type filteringTracer struct {
	embedded.Tracer

	delegate trace.Tracer
	noop     trace.Tracer
	suppress map[string]bool
}

// Start returns a no-op span for suppressed names.
func (f *filteringTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if f.suppress[name] {
		return f.noop.Start(ctx, name, opts...)
	}

	return f.delegate.Start(ctx, name, opts...)
}
