// Package config loads crashtriage configuration from YAML, environment
// variables and built-in defaults.
package config

import "time"

// Logging defaults.
const (
	DefaultLogLevel = "info"
	DefaultLogJSON  = false
)

// Telemetry defaults.
const (
	DefaultTelemetryEnvironment = ""
	DefaultTelemetryMetricsAddr = ""
	DefaultTelemetrySampleRatio = 0.0
)

// Anomaly detector defaults.
const (
	DefaultAnomalyCollectorPath      = "/sbin/crash_reporter"
	DefaultAnomalyPeriodicInterval   = 10 * time.Second
	DefaultAnomalyPollInterval       = 100 * time.Millisecond
	DefaultAnomalyServiceWeight      = 50
	DefaultAnomalySELinuxWeight      = 1000
	DefaultAnomalyChromeCrashTimeout = 30 * time.Second
)

// Sender defaults.
const (
	DefaultSenderLockPath        = "/run/lock/crash_sender"
	DefaultSenderStateDir        = "/var/lib/crash_sender"
	DefaultSenderClientIDPath    = "/var/lib/crash_reporter/client_id"
	DefaultSenderUploaderCommand = "/usr/bin/crash_uploader"
	DefaultSenderMaxCrashRate    = 32
	DefaultSenderRateWindow      = 24 * time.Hour
	DefaultSenderHoldOffTime     = 30 * time.Second
	DefaultSenderMaxSpreadTime   = 600 * time.Second
	DefaultSenderLockTimeout     = 5 * time.Minute
	DefaultSenderMaxMetaSize     = "1MiB"
	DefaultSenderMaxOSAge        = 180 * 24 * time.Hour
)

// Policy defaults.
const (
	DefaultPolicyLSBReleasePath         = "/etc/lsb-release"
	DefaultPolicyConsentPath            = "/home/chronos/Consent To Send Stats"
	DefaultPolicyMockConsentPath        = "/run/crash_reporter/mock-consent"
	DefaultPolicyCrashTestPath          = "/run/crash_reporter/crash-test-in-progress"
	DefaultPolicyDeviceCoredumpFlagPath = "/run/crash_reporter/device_coredump_upload_allowed"
)

// Serializer defaults.
const (
	DefaultSerializerFormat      = "json"
	DefaultSerializerCompression = "none"
	DefaultSerializerValidate    = true
	DefaultSerializerFetchCore   = false
)

// DefaultCrashDirectories are the spool directories scanned by send,
// serialize and list.
func DefaultCrashDirectories() []string {
	return []string{"/var/spool/crash", "/home/chronos/crash"}
}

// DefaultLogSources are the log files followed by the anomaly detector.
func DefaultLogSources() []LogSource {
	return []LogSource{
		{Path: "/var/log/messages", Format: FormatSyslog},
		{Path: "/var/log/upstart.log", Format: FormatSyslog},
		{Path: "/var/log/audit/audit.log", Format: FormatAudit},
	}
}
