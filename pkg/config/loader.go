package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName      = "crashtriage"
	configType      = "yaml"
	envPrefix       = "CRASHTRIAGE"
	envKeySeparator = "_"
	systemConfigDir = "/etc/crashtriage"
)

// LoadConfig loads configuration from file, env vars and defaults.
// A non-empty configPath must exist. Otherwise crashtriage.yaml is searched
// in the working directory, $HOME and /etc/crashtriage, and a missing
// file means defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}

		v.AddConfigPath(systemConfigDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("crash_directories", DefaultCrashDirectories())

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.json", DefaultLogJSON)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_headers", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.environment", DefaultTelemetryEnvironment)
	v.SetDefault("telemetry.metrics_addr", DefaultTelemetryMetricsAddr)
	v.SetDefault("telemetry.sample_ratio", DefaultTelemetrySampleRatio)

	v.SetDefault("anomaly.sources", defaultSourceMaps())
	v.SetDefault("anomaly.collector_path", DefaultAnomalyCollectorPath)
	v.SetDefault("anomaly.periodic_interval", DefaultAnomalyPeriodicInterval)
	v.SetDefault("anomaly.poll_interval", DefaultAnomalyPollInterval)
	v.SetDefault("anomaly.service_weight", DefaultAnomalyServiceWeight)
	v.SetDefault("anomaly.selinux_weight", DefaultAnomalySELinuxWeight)
	v.SetDefault("anomaly.chrome_crash_timeout", DefaultAnomalyChromeCrashTimeout)
	v.SetDefault("anomaly.send_all", false)

	v.SetDefault("sender.lock_path", DefaultSenderLockPath)
	v.SetDefault("sender.state_dir", DefaultSenderStateDir)
	v.SetDefault("sender.client_id_path", DefaultSenderClientIDPath)
	v.SetDefault("sender.uploader_command", DefaultSenderUploaderCommand)
	v.SetDefault("sender.max_crash_rate", DefaultSenderMaxCrashRate)
	v.SetDefault("sender.rate_window", DefaultSenderRateWindow)
	v.SetDefault("sender.hold_off_time", DefaultSenderHoldOffTime)
	v.SetDefault("sender.max_spread_time", DefaultSenderMaxSpreadTime)
	v.SetDefault("sender.lock_timeout", DefaultSenderLockTimeout)
	v.SetDefault("sender.max_meta_size", DefaultSenderMaxMetaSize)
	v.SetDefault("sender.max_os_age", DefaultSenderMaxOSAge)
	v.SetDefault("sender.ignore_rate_limits", false)
	v.SetDefault("sender.ignore_hold_off_time", false)
	v.SetDefault("sender.upload_old_reports", false)
	v.SetDefault("sender.test_mode", false)

	v.SetDefault("policy.lsb_release_path", DefaultPolicyLSBReleasePath)
	v.SetDefault("policy.consent_path", DefaultPolicyConsentPath)
	v.SetDefault("policy.mock_consent_path", DefaultPolicyMockConsentPath)
	v.SetDefault("policy.crash_test_path", DefaultPolicyCrashTestPath)
	v.SetDefault("policy.device_coredump_flag_path", DefaultPolicyDeviceCoredumpFlagPath)
	v.SetDefault("policy.allow_dev_sending", false)

	v.SetDefault("serializer.format", DefaultSerializerFormat)
	v.SetDefault("serializer.compression", DefaultSerializerCompression)
	v.SetDefault("serializer.validate", DefaultSerializerValidate)
	v.SetDefault("serializer.fetch_core", DefaultSerializerFetchCore)
	v.SetDefault("serializer.output", "")
}

// defaultSourceMaps renders DefaultLogSources in the shape a YAML file
// would produce, so mapstructure decodes both the same way.
func defaultSourceMaps() []map[string]any {
	sources := DefaultLogSources()
	out := make([]map[string]any, 0, len(sources))

	for _, s := range sources {
		out = append(out, map[string]any{"path": s.Path, "format": s.Format})
	}

	return out
}
