// Package commands implements CLI command handlers for crashtriage.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/crashtriage/pkg/config"
	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
	"github.com/Sumatoshi-tech/crashtriage/pkg/policy"
	"github.com/Sumatoshi-tech/crashtriage/pkg/version"
)

// Global flag names, registered on the root command.
const (
	FlagConfig  = "config"
	FlagVerbose = "verbose"
	FlagQuiet   = "quiet"
)

type observabilityInit func(cfg observability.Config, w io.Writer) (observability.Providers, error)

// RegisterGlobalFlags adds the persistent flags every command reads.
func RegisterGlobalFlags(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.String(FlagConfig, "", "config file (default: crashtriage.yaml in ., $HOME or /etc/crashtriage)")
	pf.BoolP(FlagVerbose, "v", false, "verbose output")
	pf.BoolP(FlagQuiet, "q", false, "suppress output")
}

// session is the loaded configuration plus live telemetry for one command.
type session struct {
	cfg       *config.Config
	providers observability.Providers
	logger    *slog.Logger
	quiet     bool
}

func openSession(cmd *cobra.Command, mode observability.AppMode, initFn observabilityInit) (*session, error) {
	return openSessionWith(cmd, mode, initFn, nil)
}

// openSessionWith loads the configuration, lets override adjust it and
// starts telemetry for mode.
func openSessionWith(
	cmd *cobra.Command,
	mode observability.AppMode,
	initFn observabilityInit,
	override func(*config.Config),
) (*session, error) {
	path, _ := cmd.Flags().GetString(FlagConfig)
	verbose, _ := cmd.Flags().GetBool(FlagVerbose)
	quiet, _ := cmd.Flags().GetBool(FlagQuiet)

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if override != nil {
		override(cfg)
	}

	obsCfg, err := observabilityConfig(cfg, mode, verbose, quiet)
	if err != nil {
		return nil, err
	}

	if initFn == nil {
		initFn = observability.InitWithWriter
	}

	providers, err := initFn(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	logger := providers.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &session{cfg: cfg, providers: providers, logger: logger, quiet: quiet}, nil
}

func (s *session) close() {
	if s.providers.Shutdown == nil {
		return
	}

	if err := s.providers.Shutdown(context.Background()); err != nil {
		s.logger.Warn("observability shutdown failed", "error", err)
	}
}

func observabilityConfig(cfg *config.Config, mode observability.AppMode, verbose, quiet bool) (observability.Config, error) {
	level, err := observability.ParseLevel(cfg.Log.Level)
	if err != nil {
		return observability.Config{}, err
	}

	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = cfg.Telemetry.Environment
	obsCfg.Mode = mode
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPHeaders = observability.ParseOTLPHeaders(cfg.Telemetry.OTLPHeaders)
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.SampleRatio = cfg.Telemetry.SampleRatio
	obsCfg.Prometheus = mode == observability.ModeAnomaly && cfg.Telemetry.MetricsAddr != ""
	obsCfg.TraceVerbose = verbose
	obsCfg.LogLevel = level
	obsCfg.LogJSON = cfg.Log.JSON

	return obsCfg, nil
}

func policyPaths(cfg *config.Config) policy.Paths {
	return policy.Paths{
		LSBRelease:         cfg.Policy.LSBReleasePath,
		Consent:            cfg.Policy.ConsentPath,
		MockConsent:        cfg.Policy.MockConsentPath,
		CrashTest:          cfg.Policy.CrashTestPath,
		DeviceCoredumpFlag: cfg.Policy.DeviceCoredumpFlagPath,
	}
}

func newEvaluator(cfg *config.Config, recorder crash.ReasonRecorder, logger *slog.Logger) (*crash.Evaluator, error) {
	maxMeta, err := cfg.MaxMetaSizeBytes()
	if err != nil {
		return nil, err
	}

	return crash.NewEvaluator(crash.EvaluatorOptions{
		Recorder:    recorder,
		Logger:      logger,
		MaxMetaSize: maxMeta,
		MaxOSAge:    cfg.Sender.MaxOSAge,
	}), nil
}

// crashDirectories returns the override when set, else the configured list.
func crashDirectories(cfg *config.Config, override []string) []string {
	if len(override) > 0 {
		return override
	}

	return cfg.CrashDirectories
}
