package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/config"
)

const (
	testMaxCrashRate = 8
	testHoldOff      = 5 * time.Second
	testMetaSize     = 64 * 1024
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "crashtriage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func loadDefaults(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	return cfg
}

func TestLoadConfig_EmptyFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults(t)

	assert.Equal(t, config.DefaultCrashDirectories(), cfg.CrashDirectories)
	assert.Equal(t, config.DefaultLogSources(), cfg.Anomaly.Sources)
	assert.Equal(t, config.DefaultLogLevel, cfg.Log.Level)
	assert.Equal(t, config.DefaultAnomalyPeriodicInterval, cfg.Anomaly.PeriodicInterval)
	assert.Equal(t, config.DefaultAnomalyServiceWeight, cfg.Anomaly.ServiceWeight)
	assert.Equal(t, config.DefaultAnomalySELinuxWeight, cfg.Anomaly.SELinuxWeight)
	assert.Equal(t, config.DefaultSenderMaxCrashRate, cfg.Sender.MaxCrashRate)
	assert.Equal(t, config.DefaultSenderHoldOffTime, cfg.Sender.HoldOffTime)
	assert.Equal(t, config.DefaultSenderMaxSpreadTime, cfg.Sender.MaxSpreadTime)
	assert.Equal(t, config.DefaultSenderLockTimeout, cfg.Sender.LockTimeout)
	assert.Equal(t, config.DefaultPolicyLSBReleasePath, cfg.Policy.LSBReleasePath)
	assert.Equal(t, config.DefaultSerializerFormat, cfg.Serializer.Format)
	assert.True(t, cfg.Serializer.Validate)

	size, err := cfg.MaxMetaSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), size)
}

func TestLoadConfig_FileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
crash_directories: [/tmp/a, /tmp/b]
anomaly:
  sources:
    - path: /tmp/messages
      format: syslog
  periodic_interval: 2s
sender:
  max_crash_rate: 8
  hold_off_time: 5s
  max_meta_size: 64KiB
  test_mode: true
serializer:
  format: cbor
  compression: zstd
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"/tmp/a", "/tmp/b"}, cfg.CrashDirectories)
	assert.Equal(t, []config.LogSource{{Path: "/tmp/messages", Format: config.FormatSyslog}}, cfg.Anomaly.Sources)
	assert.Equal(t, 2*time.Second, cfg.Anomaly.PeriodicInterval)
	assert.Equal(t, testMaxCrashRate, cfg.Sender.MaxCrashRate)
	assert.Equal(t, testHoldOff, cfg.Sender.HoldOffTime)
	assert.True(t, cfg.Sender.TestMode)
	assert.Equal(t, config.OutputCBOR, cfg.Serializer.Format)
	assert.Equal(t, config.CompressionZstd, cfg.Serializer.Compression)

	size, err := cfg.MaxMetaSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(testMetaSize), size)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CRASHTRIAGE_SENDER_MAX_CRASH_RATE", "8")
	t.Setenv("CRASHTRIAGE_LOG_LEVEL", "debug")

	cfg, err := config.LoadConfig(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, testMaxCrashRate, cfg.Sender.MaxCrashRate)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "sender: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	t.Parallel()

	_, err := config.LoadConfig(writeConfig(t, "serializer:\n  format: xml\n"))
	require.ErrorIs(t, err, config.ErrInvalidFormat)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   error
	}{
		{"no directories", func(c *config.Config) { c.CrashDirectories = nil }, config.ErrNoCrashDirectories},
		{"bad source", func(c *config.Config) {
			c.Anomaly.Sources = []config.LogSource{{Path: "/x", Format: "json"}}
		}, config.ErrInvalidLogSource},
		{"zero weight", func(c *config.Config) { c.Anomaly.ServiceWeight = 0 }, config.ErrInvalidWeight},
		{"zero interval", func(c *config.Config) { c.Anomaly.PeriodicInterval = 0 }, config.ErrInvalidInterval},
		{"zero rate", func(c *config.Config) { c.Sender.MaxCrashRate = 0 }, config.ErrInvalidMaxCrashRate},
		{"zero window", func(c *config.Config) { c.Sender.RateWindow = 0 }, config.ErrInvalidRateWindow},
		{"negative hold off", func(c *config.Config) { c.Sender.HoldOffTime = -time.Second }, config.ErrInvalidHoldOff},
		{"negative spread", func(c *config.Config) { c.Sender.MaxSpreadTime = -time.Second }, config.ErrInvalidMaxSpread},
		{"zero lock timeout", func(c *config.Config) { c.Sender.LockTimeout = 0 }, config.ErrInvalidLockTimeout},
		{"bad meta size", func(c *config.Config) { c.Sender.MaxMetaSize = "lots" }, config.ErrInvalidMaxMetaSize},
		{"bad compression", func(c *config.Config) { c.Serializer.Compression = "gzip" }, config.ErrInvalidCompression},
		{"bad sample ratio", func(c *config.Config) { c.Telemetry.SampleRatio = 2 }, config.ErrInvalidSampleRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := loadDefaults(t)
			tt.mutate(cfg)

			require.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_ZeroHoldOffAndSpreadAllowed(t *testing.T) {
	t.Parallel()

	cfg := loadDefaults(t)
	cfg.Sender.HoldOffTime = 0
	cfg.Sender.MaxSpreadTime = 0

	require.NoError(t, cfg.Validate())
}
