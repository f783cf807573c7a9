package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clientid"
	"github.com/Sumatoshi-tech/crashtriage/pkg/config"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
	"github.com/Sumatoshi-tech/crashtriage/pkg/persist"
	"github.com/Sumatoshi-tech/crashtriage/pkg/policy"
	"github.com/Sumatoshi-tech/crashtriage/pkg/serializer"
)

// Image types reported in device info.
const (
	imageTypeTest = "test"
	imageTypeDev  = "dev"
)

// SerializeCommand holds flags and dependencies for the serialize command.
type SerializeCommand struct {
	crashDirs         []string
	output            string
	format            string
	compression       string
	fetchCore         bool
	noValidate        bool
	ignoreHoldOffTime bool

	obsInit observabilityInit
}

// NewSerializeCommand creates the serialize command.
func NewSerializeCommand() *cobra.Command {
	return newSerializeCommandWithDeps(observability.InitWithWriter)
}

func newSerializeCommandWithDeps(obsInit observabilityInit) *cobra.Command {
	sc := &SerializeCommand{obsInit: obsInit}

	cmd := &cobra.Command{
		Use:   "serialize",
		Short: "Write sendable crash reports as structured records",
		Long: `Evaluate the crash directories like send does, but write one structured
record per sendable report instead of uploading it. Report files are left
in place. Output is JSON lines or a CBOR sequence.`,
		Args: cobra.NoArgs,
		RunE: sc.run,
	}

	f := cmd.Flags()
	f.StringSliceVar(&sc.crashDirs, "crash-dir", nil, "crash directories to scan (overrides crash_directories)")
	f.StringVarP(&sc.output, "output", "o", "", "output file (default: serializer.output or stdout)")
	f.StringVar(&sc.format, "format", "", "record format: json or cbor (overrides serializer.format)")
	f.StringVar(&sc.compression, "compression", "", "blob compression: none, lz4 or zstd")
	f.BoolVar(&sc.fetchCore, "fetch-core", false, "attach the core dump when present")
	f.BoolVar(&sc.noValidate, "no-validate", false, "skip schema validation of records")
	f.BoolVar(&sc.ignoreHoldOffTime, "ignore-hold-off-time", false, "do not wait for recently written reports")

	return cmd
}

func (sc *SerializeCommand) run(cmd *cobra.Command, _ []string) (err error) {
	sess, err := openSession(cmd, observability.ModeSerializer, sc.obsInit)
	if err != nil {
		return err
	}
	defer sess.close()

	sc.applyOverrides(cmd, sess.cfg)

	s, err := sc.buildSerializer(sess)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()

	if out := sess.cfg.Serializer.Output; out != "" {
		file, createErr := os.Create(out)
		if createErr != nil {
			return fmt.Errorf("create output: %w", createErr)
		}

		defer func() {
			if closeErr := file.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close output: %w", closeErr)
			}
		}()

		w = file
	}

	sum, err := s.Run(cmd.Context(), w)
	if err != nil {
		return err
	}

	if !sess.quiet {
		printSerializeSummary(cmd.ErrOrStderr(), sum)
	}

	return nil
}

func (sc *SerializeCommand) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()

	cfg.CrashDirectories = crashDirectories(cfg, sc.crashDirs)

	if f.Changed("output") {
		cfg.Serializer.Output = sc.output
	}

	if f.Changed("format") {
		cfg.Serializer.Format = sc.format
	}

	if f.Changed("compression") {
		cfg.Serializer.Compression = sc.compression
	}

	if f.Changed("fetch-core") {
		cfg.Serializer.FetchCore = sc.fetchCore
	}

	if f.Changed("no-validate") {
		cfg.Serializer.Validate = !sc.noValidate
	}

	if f.Changed("ignore-hold-off-time") {
		cfg.Sender.IgnoreHoldOffTime = sc.ignoreHoldOffTime
	}
}

func (sc *SerializeCommand) buildSerializer(sess *session) (*serializer.Serializer, error) {
	cfg := sess.cfg

	codec, err := persist.NewCodec(cfg.Serializer.Format)
	if err != nil {
		return nil, err
	}

	compression, err := serializer.ParseCompression(cfg.Serializer.Compression)
	if err != nil {
		return nil, err
	}

	// Reasons are not recorded: serializing never deletes a report.
	evaluator, err := newEvaluator(cfg, nil, sess.logger)
	if err != nil {
		return nil, err
	}

	return serializer.New(serializer.Config{
		Options: serializer.Options{
			CrashDirectories:  cfg.CrashDirectories,
			LockPath:          cfg.Sender.LockPath,
			LockTimeout:       cfg.Sender.LockTimeout,
			HoldOffTime:       cfg.Sender.HoldOffTime,
			IgnoreHoldOffTime: cfg.Sender.IgnoreHoldOffTime,
			FetchCore:         cfg.Serializer.FetchCore,
			Compression:       compression,
			Validate:          cfg.Serializer.Validate,
		},
		Evaluator: evaluator,
		Codec:     codec,
		ClientID:  clientid.New(cfg.Sender.ClientIDPath),
		Device:    deviceInfo(policy.New(policyPaths(cfg), cfg.Policy.AllowDevSending)),
		Meter:     sess.providers.Meter,
		Tracer:    sess.providers.Tracer,
		Logger:    sess.logger,
	})
}

// deviceInfo describes the running image. Fields the release file does not
// provide stay empty and are filled with defaults when records are built.
func deviceInfo(p *policy.Policy) serializer.DeviceInfo {
	var info serializer.DeviceInfo

	if board, err := p.ReleaseValue(policy.KeyReleaseBoard); err == nil {
		info.Board = board
	}

	switch {
	case p.IsTestImage():
		info.ImageType = imageTypeTest
	case !p.IsOfficialBuild():
		info.ImageType = imageTypeDev
	}

	return info
}

func printSerializeSummary(w io.Writer, sum serializer.Summary) {
	color.New(color.FgGreen).Fprintf(w, "wrote %d", sum.Written)
	fmt.Fprintf(w, " of %d scanned (skipped %d)\n", sum.Scanned, sum.Skipped)
}
