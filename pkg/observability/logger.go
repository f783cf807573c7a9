package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrEnv     = "env"
	attrMode    = "mode"

	// AttrCrashMeta and AttrCrashKind name the record a log line is about.
	AttrCrashMeta = "crash.meta"
	AttrCrashKind = "crash.kind"
)

type recordKey struct{}

// CrashRecord identifies the crash record being handled on a context.
type CrashRecord struct {
	MetaPath string
	Kind     string
}

// WithCrashRecord returns a context whose log lines carry rec.
func WithCrashRecord(ctx context.Context, rec CrashRecord) context.Context {
	return context.WithValue(ctx, recordKey{}, rec)
}

// CrashRecordFromContext returns the record stored by WithCrashRecord.
func CrashRecordFromContext(ctx context.Context) (CrashRecord, bool) {
	rec, ok := ctx.Value(recordKey{}).(CrashRecord)

	return rec, ok
}

// TracingHandler is an [slog.Handler] for crashtriage processes. Every line
// is tagged with the service, mode and env once at construction. Per line
// it adds the active span's trace_id and span_id and the crash record set
// on the context.
type TracingHandler struct {
	inner slog.Handler
}

// NewTracingHandler wraps inner with process, trace and record context.
func NewTracingHandler(inner slog.Handler, service, env string, appMode AppMode) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	return &TracingHandler{inner: inner.WithAttrs(attrs)}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace and record attributes, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		record.AddAttrs(
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		)
	}

	if rec, ok := CrashRecordFromContext(ctx); ok {
		record.AddAttrs(slog.String(AttrCrashMeta, rec.MetaPath))

		if rec.Kind != "" {
			record.AddAttrs(slog.String(AttrCrashKind, rec.Kind))
		}
	}

	if err := th.inner.Handle(ctx, record); err != nil {
		return fmt.Errorf("log handler: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TracingHandler{inner: th.inner.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	return &TracingHandler{inner: th.inner.WithGroup(name)}
}
