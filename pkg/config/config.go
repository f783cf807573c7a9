package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Log source formats.
const (
	FormatSyslog = "syslog"
	FormatAudit  = "audit"
)

// Serializer output formats and blob compressions.
const (
	OutputJSON = "json"
	OutputCBOR = "cbor"

	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Sentinel errors for configuration validation.
var (
	ErrInvalidLogSource    = errors.New("anomaly.sources entries need a path and a syslog or audit format")
	ErrInvalidWeight       = errors.New("anomaly sampling weights must be positive")
	ErrInvalidInterval     = errors.New("anomaly intervals must be positive")
	ErrNoCrashDirectories  = errors.New("crash_directories must not be empty")
	ErrInvalidMaxCrashRate = errors.New("sender.max_crash_rate must be positive")
	ErrInvalidRateWindow   = errors.New("sender.rate_window must be positive")
	ErrInvalidHoldOff      = errors.New("sender.hold_off_time must be non-negative")
	ErrInvalidMaxSpread    = errors.New("sender.max_spread_time must be non-negative")
	ErrInvalidLockTimeout  = errors.New("sender.lock_timeout must be positive")
	ErrInvalidMaxMetaSize  = errors.New("sender.max_meta_size must be a positive size")
	ErrInvalidFormat       = errors.New("serializer.format must be json or cbor")
	ErrInvalidCompression  = errors.New("serializer.compression must be none, lz4 or zstd")
	ErrInvalidSampleRatio  = errors.New("telemetry.sample_ratio must be between 0 and 1")
)

// Config is the top-level crashtriage configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	CrashDirectories []string         `mapstructure:"crash_directories"`
	Log              LogConfig        `mapstructure:"log"`
	Telemetry        TelemetryConfig  `mapstructure:"telemetry"`
	Anomaly          AnomalyConfig    `mapstructure:"anomaly"`
	Sender           SenderConfig     `mapstructure:"sender"`
	Policy           PolicyConfig     `mapstructure:"policy"`
	Serializer       SerializerConfig `mapstructure:"serializer"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders  string  `mapstructure:"otlp_headers"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	Environment  string  `mapstructure:"environment"`
	MetricsAddr  string  `mapstructure:"metrics_addr"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// LogSource is one file followed by the anomaly detector.
type LogSource struct {
	Path   string `mapstructure:"path"   yaml:"path"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AnomalyConfig configures the anomaly detector daemon.
type AnomalyConfig struct {
	Sources            []LogSource   `mapstructure:"sources"`
	CollectorPath      string        `mapstructure:"collector_path"`
	PeriodicInterval   time.Duration `mapstructure:"periodic_interval"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ServiceWeight      int           `mapstructure:"service_weight"`
	SELinuxWeight      int           `mapstructure:"selinux_weight"`
	ChromeCrashTimeout time.Duration `mapstructure:"chrome_crash_timeout"`
	SendAll            bool          `mapstructure:"send_all"`
}

// SenderConfig configures the queue orchestrator.
type SenderConfig struct {
	LockPath          string        `mapstructure:"lock_path"`
	StateDir          string        `mapstructure:"state_dir"`
	ClientIDPath      string        `mapstructure:"client_id_path"`
	UploaderCommand   string        `mapstructure:"uploader_command"`
	MaxCrashRate      int           `mapstructure:"max_crash_rate"`
	RateWindow        time.Duration `mapstructure:"rate_window"`
	HoldOffTime       time.Duration `mapstructure:"hold_off_time"`
	MaxSpreadTime     time.Duration `mapstructure:"max_spread_time"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	MaxMetaSize       string        `mapstructure:"max_meta_size"`
	MaxOSAge          time.Duration `mapstructure:"max_os_age"`
	IgnoreRateLimits  bool          `mapstructure:"ignore_rate_limits"`
	IgnoreHoldOffTime bool          `mapstructure:"ignore_hold_off_time"`
	UploadOldReports  bool          `mapstructure:"upload_old_reports"`
	TestMode          bool          `mapstructure:"test_mode"`
}

// PolicyConfig locates the files that gate uploads.
type PolicyConfig struct {
	LSBReleasePath         string `mapstructure:"lsb_release_path"`
	ConsentPath            string `mapstructure:"consent_path"`
	MockConsentPath        string `mapstructure:"mock_consent_path"`
	CrashTestPath          string `mapstructure:"crash_test_path"`
	DeviceCoredumpFlagPath string `mapstructure:"device_coredump_flag_path"`
	AllowDevSending        bool   `mapstructure:"allow_dev_sending"`
}

// SerializerConfig configures structured record output.
type SerializerConfig struct {
	Format      string `mapstructure:"format"`
	Compression string `mapstructure:"compression"`
	Validate    bool   `mapstructure:"validate"`
	FetchCore   bool   `mapstructure:"fetch_core"`
	Output      string `mapstructure:"output"`
}

// MaxMetaSizeBytes parses Sender.MaxMetaSize ("1MiB", "65536").
func (c *Config) MaxMetaSizeBytes() (int64, error) {
	n, err := humanize.ParseBytes(c.Sender.MaxMetaSize)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMaxMetaSize, c.Sender.MaxMetaSize)
	}

	return int64(n), nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if len(c.CrashDirectories) == 0 {
		return ErrNoCrashDirectories
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return ErrInvalidSampleRatio
	}

	if err := c.validateAnomaly(); err != nil {
		return err
	}

	if err := c.validateSender(); err != nil {
		return err
	}

	return c.validateSerializer()
}

func (c *Config) validateAnomaly() error {
	for _, src := range c.Anomaly.Sources {
		if src.Path == "" || (src.Format != FormatSyslog && src.Format != FormatAudit) {
			return fmt.Errorf("%w: %+v", ErrInvalidLogSource, src)
		}
	}

	if c.Anomaly.ServiceWeight <= 0 || c.Anomaly.SELinuxWeight <= 0 {
		return ErrInvalidWeight
	}

	if c.Anomaly.PeriodicInterval <= 0 || c.Anomaly.PollInterval <= 0 || c.Anomaly.ChromeCrashTimeout <= 0 {
		return ErrInvalidInterval
	}

	return nil
}

func (c *Config) validateSender() error {
	s := &c.Sender

	if s.MaxCrashRate <= 0 {
		return ErrInvalidMaxCrashRate
	}

	if s.RateWindow <= 0 {
		return ErrInvalidRateWindow
	}

	if s.HoldOffTime < 0 {
		return ErrInvalidHoldOff
	}

	if s.MaxSpreadTime < 0 {
		return ErrInvalidMaxSpread
	}

	if s.LockTimeout <= 0 {
		return ErrInvalidLockTimeout
	}

	_, err := c.MaxMetaSizeBytes()

	return err
}

func (c *Config) validateSerializer() error {
	switch c.Serializer.Format {
	case OutputJSON, OutputCBOR:
	default:
		return ErrInvalidFormat
	}

	switch c.Serializer.Compression {
	case CompressionNone, CompressionLZ4, CompressionZstd:
	default:
		return ErrInvalidCompression
	}

	return nil
}
