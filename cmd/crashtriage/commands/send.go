package commands

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clientid"
	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
	"github.com/Sumatoshi-tech/crashtriage/pkg/policy"
	"github.com/Sumatoshi-tech/crashtriage/pkg/ratelimit"
	"github.com/Sumatoshi-tech/crashtriage/pkg/sender"
)

const timestampsDir = "timestamps"

// SendCommand holds flags and dependencies for the send command.
type SendCommand struct {
	crashDirs         []string
	ignoreRateLimits  bool
	ignoreHoldOffTime bool
	uploadOldReports  bool
	testMode          bool
	holdOffTime       time.Duration
	maxSpreadTime     time.Duration

	obsInit observabilityInit
}

// NewSendCommand creates the send command.
func NewSendCommand() *cobra.Command {
	return newSendCommandWithDeps(observability.InitWithWriter)
}

func newSendCommandWithDeps(obsInit observabilityInit) *cobra.Command {
	sc := &SendCommand{obsInit: obsInit}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Upload sendable crash reports",
		Long: `Run one pass over the crash directories: remove invalid and unwanted
reports, wait for recent ones to settle, and upload the rest within the
rate limit. Only one pass runs at a time across the whole system.`,
		Args: cobra.NoArgs,
		RunE: sc.run,
	}

	f := cmd.Flags()
	f.StringSliceVar(&sc.crashDirs, "crash-dir", nil, "crash directories to scan (overrides crash_directories)")
	f.BoolVar(&sc.ignoreRateLimits, "ignore-rate-limits", false, "upload even when the send budget is spent")
	f.BoolVar(&sc.ignoreHoldOffTime, "ignore-hold-off-time", false, "do not wait for recently written reports")
	f.BoolVar(&sc.uploadOldReports, "upload-old-reports", false, "upload reports from outdated OS builds")
	f.BoolVar(&sc.testMode, "test-mode", false, "log uploads instead of performing them")
	f.DurationVar(&sc.holdOffTime, "hold-off-time", 0, "minimum report age before upload (overrides sender.hold_off_time)")
	f.DurationVar(&sc.maxSpreadTime, "max-spread-time", 0, "upper bound of the random delay before each upload")

	return cmd
}

func (sc *SendCommand) run(cmd *cobra.Command, _ []string) error {
	sess, err := openSession(cmd, observability.ModeSender, sc.obsInit)
	if err != nil {
		return err
	}
	defer sess.close()

	sc.applyOverrides(cmd, sess)

	s, err := sc.buildSender(sess)
	if err != nil {
		return err
	}

	sum, err := s.Run(cmd.Context())
	if err != nil {
		return err
	}

	if !sess.quiet {
		printSendSummary(cmd.OutOrStdout(), sum)
	}

	return nil
}

// applyOverrides folds explicitly set flags into the loaded configuration.
func (sc *SendCommand) applyOverrides(cmd *cobra.Command, sess *session) {
	s := &sess.cfg.Sender
	f := cmd.Flags()

	sess.cfg.CrashDirectories = crashDirectories(sess.cfg, sc.crashDirs)

	if f.Changed("ignore-rate-limits") {
		s.IgnoreRateLimits = sc.ignoreRateLimits
	}

	if f.Changed("ignore-hold-off-time") {
		s.IgnoreHoldOffTime = sc.ignoreHoldOffTime
	}

	if f.Changed("upload-old-reports") {
		s.UploadOldReports = sc.uploadOldReports
	}

	if f.Changed("test-mode") {
		s.TestMode = sc.testMode
	}

	if f.Changed("hold-off-time") {
		s.HoldOffTime = sc.holdOffTime
	}

	if f.Changed("max-spread-time") {
		s.MaxSpreadTime = sc.maxSpreadTime
	}
}

func (sc *SendCommand) buildSender(sess *session) (*sender.Sender, error) {
	cfg := sess.cfg
	meter := sess.providers.Meter

	reasons, err := crash.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	metrics, err := sender.NewMetrics(meter)
	if err != nil {
		return nil, err
	}

	evaluator, err := newEvaluator(cfg, reasons, sess.logger)
	if err != nil {
		return nil, err
	}

	var uploader sender.Uploader = &sender.ExecUploader{Command: cfg.Sender.UploaderCommand, Logger: sess.logger}
	if cfg.Sender.TestMode {
		uploader = &sender.DryRunUploader{Logger: sess.logger}
	}

	limiter := ratelimit.New(
		filepath.Join(cfg.Sender.StateDir, timestampsDir),
		cfg.Sender.MaxCrashRate,
		cfg.Sender.RateWindow,
		nil,
	)

	return sender.New(sender.Config{
		Options: sender.Options{
			CrashDirectories:  cfg.CrashDirectories,
			LockPath:          cfg.Sender.LockPath,
			LockTimeout:       cfg.Sender.LockTimeout,
			HoldOffTime:       cfg.Sender.HoldOffTime,
			MaxSpreadTime:     cfg.Sender.MaxSpreadTime,
			IgnoreHoldOffTime: cfg.Sender.IgnoreHoldOffTime,
			IgnoreRateLimits:  cfg.Sender.IgnoreRateLimits,
			UploadOldReports:  cfg.Sender.UploadOldReports,
		},
		Evaluator: evaluator,
		Recorder:  reasons,
		Policy:    policy.New(policyPaths(cfg), cfg.Policy.AllowDevSending),
		Limiter:   limiter,
		ClientID:  clientid.New(cfg.Sender.ClientIDPath),
		Uploader:  uploader,
		Metrics:   metrics,
		Tracer:    sess.providers.Tracer,
		Logger:    sess.logger,
	}), nil
}

func printSendSummary(w io.Writer, sum sender.Summary) {
	sent := color.New(color.FgGreen)
	if sum.Failed > 0 {
		sent = color.New(color.FgYellow)
	}

	sent.Fprintf(w, "sent %d", sum.Sent)
	fmt.Fprintf(w, " of %d scanned (removed %d, ignored %d, failed %d, orphans %d)",
		sum.Scanned, sum.Removed, sum.Ignored, sum.Failed, sum.Orphans)

	if sum.RateLimited {
		color.New(color.FgRed).Fprint(w, " rate limited")
	}

	fmt.Fprintln(w)
}
