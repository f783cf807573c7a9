// Package observability provides OpenTelemetry tracing and metrics plus
// structured logging for every crashtriage mode.
package observability

import (
	"fmt"
	"log/slog"
	"strings"
)

// AppMode identifies which crashtriage command is running.
type AppMode string

const (
	// ModeCLI covers one-shot inspection commands such as list.
	ModeCLI AppMode = "cli"
	// ModeAnomaly is the long-running anomaly detector.
	ModeAnomaly AppMode = "anomaly"
	// ModeSender is the crash upload orchestrator.
	ModeSender AppMode = "send"
	// ModeSerializer is the crash record serializer.
	ModeSerializer AppMode = "serialize"
)

const (
	defaultServiceName        = "crashtriage"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment ("production", "dev").
	Environment string

	// Mode identifies how the binary was launched.
	Mode AppMode

	// OTLPEndpoint is the OTLP gRPC collector address. Empty disables
	// OTLP export.
	OTLPEndpoint string

	// OTLPHeaders are extra gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool

	// Prometheus attaches a Prometheus reader to the meter provider and
	// exposes it through Providers.MetricsHandler.
	Prometheus bool

	// SampleRatio is the trace sampling ratio. Zero samples every root span.
	SampleRatio float64

	// TraceVerbose keeps per-record spans that are otherwise suppressed.
	TraceVerbose bool

	LogLevel slog.Level
	LogJSON  bool

	// ShutdownTimeoutSec bounds the final telemetry flush.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config usable without any configuration file.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeCLI,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}

// ParseLevel maps a level name ("debug", "info", "warn", "error") to a
// slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level

	err := level.UnmarshalText([]byte(strings.TrimSpace(name)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", name, err)
	}

	return level, nil
}
