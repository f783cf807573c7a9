package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sumatoshi-tech/crashtriage/pkg/anomaly"
	"github.com/Sumatoshi-tech/crashtriage/pkg/collector"
	"github.com/Sumatoshi-tech/crashtriage/pkg/config"
	"github.com/Sumatoshi-tech/crashtriage/pkg/events"
	"github.com/Sumatoshi-tech/crashtriage/pkg/logreader"
	"github.com/Sumatoshi-tech/crashtriage/pkg/observability"
)

const entryBufferSize = 64

// ErrNoLogSources is returned when the detector has nothing to follow.
var ErrNoLogSources = errors.New("no log sources configured")

// AnomalyCommand holds flags and dependencies for the anomaly command.
type AnomalyCommand struct {
	fromStart   bool
	sendAll     bool
	metricsAddr string

	obsInit observabilityInit
}

// NewAnomalyCommand creates the anomaly detector command.
func NewAnomalyCommand() *cobra.Command {
	return newAnomalyCommandWithDeps(observability.InitWithWriter)
}

func newAnomalyCommandWithDeps(obsInit observabilityInit) *cobra.Command {
	ac := &AnomalyCommand{obsInit: obsInit}

	cmd := &cobra.Command{
		Use:   "anomaly",
		Short: "Follow system logs and report anomalies",
		Long: `Tail the configured system logs, recognise crash-worthy anomalies
(kernel warnings, SELinux violations, service failures, suspend failures,
crash reporter health) and hand each report to the crash collector.
Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: ac.run,
	}

	f := cmd.Flags()
	f.BoolVar(&ac.fromStart, "from-start", false, "read existing log content instead of starting at the end")
	f.BoolVar(&ac.sendAll, "send-all", false, "report every anomaly without sampling (overrides anomaly.send_all)")
	f.StringVar(&ac.metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /readyz here (overrides telemetry.metrics_addr)")

	return cmd
}

func (ac *AnomalyCommand) run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSessionWith(cmd, observability.ModeAnomaly, ac.obsInit, ac.overrides(cmd))
	if err != nil {
		return err
	}
	defer sess.close()

	cfg := sess.cfg

	if len(cfg.Anomaly.Sources) == 0 {
		return ErrNoLogSources
	}

	metrics, err := anomaly.NewMetrics(sess.providers.Meter)
	if err != nil {
		return err
	}

	dispatcher := anomaly.NewDispatcher(anomaly.DispatcherConfig{
		Parsers:   anomaly.Options{SendAll: cfg.Anomaly.SendAll},
		Publisher: events.NewBus(events.LogHandler(sess.logger)),
		Collector: &collector.Exec{Path: cfg.Anomaly.CollectorPath, Logger: sess.logger},
		Metrics:   metrics,
		Logger:    sess.logger,

		ServiceWeight:      cfg.Anomaly.ServiceWeight,
		SELinuxWeight:      cfg.Anomaly.SELinuxWeight,
		ChromeCrashTimeout: cfg.Anomaly.ChromeCrashTimeout,
		PeriodicInterval:   cfg.Anomaly.PeriodicInterval,
	})

	sess.logger.InfoContext(ctx, "anomaly detector started", "sources", len(cfg.Anomaly.Sources))

	return ac.serve(ctx, sess, dispatcher)
}

func (ac *AnomalyCommand) overrides(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		f := cmd.Flags()

		if f.Changed("send-all") {
			cfg.Anomaly.SendAll = ac.sendAll
		}

		if f.Changed("metrics-addr") {
			cfg.Telemetry.MetricsAddr = ac.metricsAddr
		}
	}
}

// serve runs one tailer per source, the dispatcher and the optional
// metrics server until ctx is done or one of them fails.
func (ac *AnomalyCommand) serve(ctx context.Context, sess *session, dispatcher *anomaly.Dispatcher) error {
	cfg := sess.cfg

	var ln net.Listener

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		var err error

		ln, err = (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}

		sess.logger.InfoContext(ctx, "serving metrics", "addr", ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	entries := make(chan logreader.Entry, entryBufferSize)

	for _, src := range cfg.Anomaly.Sources {
		tailer := logreader.NewTailer(src.Path, sourceFormat(src.Format), &logreader.TailerOptions{
			PollInterval: cfg.Anomaly.PollInterval,
			FromStart:    ac.fromStart,
		}, sess.logger)

		g.Go(func() error { return tailer.Run(gctx, entries) })
	}

	g.Go(func() error { return dispatcher.Run(gctx, entries) })

	if ln != nil {
		srv := observability.NewServer(ln.Addr().String(), sess.providers.MetricsHandler)
		g.Go(func() error { return observability.Serve(gctx, srv, ln) })
	}

	return g.Wait()
}

func sourceFormat(name string) logreader.Format {
	if name == config.FormatAudit {
		return logreader.AuditFormat{}
	}

	return logreader.SyslogFormat{}
}
