package anomaly

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
	"github.com/Sumatoshi-tech/crashtriage/pkg/events"
	"github.com/Sumatoshi-tech/crashtriage/pkg/logreader"
)

// Log source tags routed to parsers.
const (
	TagAudit         = "audit"
	TagInit          = "init"
	TagKernel        = "kernel"
	TagPowerdSuspend = "powerd_suspend"
	TagCrashReporter = "crash_reporter"

	guestTagPrefix = "VM("
	guestTagSuffix = ")"
	oomKillMarker  = "Out of memory: Kill process"
)

// DefaultPeriodicInterval is the time between PeriodicUpdate sweeps.
const DefaultPeriodicInterval = 10 * time.Second

// Collector persists an emitted crash report.
type Collector interface {
	Collect(ctx context.Context, report *CrashReport) error
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Parsers   Options
	Clock     clock.Clock
	Publisher events.Publisher
	Collector Collector
	Metrics   *Metrics
	Logger    *slog.Logger

	ServiceWeight      int
	SELinuxWeight      int
	ChromeCrashTimeout time.Duration
	PeriodicInterval   time.Duration
}

// Dispatcher routes log entries by source tag to the matching parser and
// forwards emitted reports to the collector.
type Dispatcher struct {
	parsers   map[string]Parser
	order     []string
	termina   *TerminaParser
	publisher events.Publisher
	collector Collector
	metrics   *Metrics
	logger    *slog.Logger
	interval  time.Duration
}

// NewDispatcher builds one parser per source tag.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NewBus(events.LogHandler(logger))
	}

	interval := cfg.PeriodicInterval
	if interval <= 0 {
		interval = DefaultPeriodicInterval
	}

	d := &Dispatcher{
		parsers:   make(map[string]Parser),
		publisher: publisher,
		collector: cfg.Collector,
		metrics:   cfg.Metrics,
		logger:    logger,
		interval:  interval,
	}

	var recorder EventRecorder
	if cfg.Metrics != nil {
		recorder = cfg.Metrics
	}

	d.register(TagAudit, NewSELinuxParser(cfg.Parsers, cfg.SELinuxWeight))
	d.register(TagInit, NewServiceParser(cfg.Parsers, cfg.ServiceWeight))
	d.register(TagKernel, NewKernelParser(cfg.Clock))
	d.register(TagPowerdSuspend, NewSuspendParser())
	d.register(TagCrashReporter, NewCrashReporterParser(cfg.Clock, cfg.ChromeCrashTimeout, recorder))
	d.termina = NewTerminaParser(d)

	return d
}

func (d *Dispatcher) register(tag string, p Parser) {
	d.parsers[tag] = p
	d.order = append(d.order, tag)
}

// Parser returns the parser registered for tag.
func (d *Dispatcher) Parser(tag string) (Parser, bool) {
	p, ok := d.parsers[tag]

	return p, ok
}

// Publish implements events.Publisher, counting and forwarding the signal.
func (d *Dispatcher) Publish(ctx context.Context, sig events.Signal) {
	if d.metrics != nil {
		d.metrics.RecordSignal(ctx, sig.Name())
	}

	d.publisher.Publish(ctx, sig)
}

// Dispatch routes one entry and handles any resulting report.
func (d *Dispatcher) Dispatch(ctx context.Context, entry logreader.Entry) {
	var report *CrashReport

	if p, ok := d.parsers[entry.Tag]; ok {
		report = p.ParseLogEntry(ctx, entry.Message)
	} else if cid, ok := guestCID(entry.Tag); ok {
		report = d.termina.ParseGuestLogEntry(ctx, cid, entry.Message)
	}

	if report != nil {
		d.handle(ctx, report)
	}

	if entry.Tag == TagKernel && strings.Contains(entry.Message, oomKillMarker) {
		d.Publish(ctx, events.OOMKill{TimestampMillis: entry.Timestamp.UnixMilli()})
	}
}

// PeriodicUpdate runs every parser's periodic sweep in registration order.
func (d *Dispatcher) PeriodicUpdate(ctx context.Context) {
	for _, tag := range d.order {
		if report := d.parsers[tag].PeriodicUpdate(ctx); report != nil {
			d.handle(ctx, report)
		}
	}
}

// Run consumes entries until ctx is done or entries is closed, sweeping
// parsers every periodic interval.
func (d *Dispatcher) Run(ctx context.Context, entries <-chan logreader.Entry) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}

			d.Dispatch(ctx, entry)
		case <-ticker.C:
			d.PeriodicUpdate(ctx)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, report *CrashReport) {
	d.logger.InfoContext(ctx, "anomaly detected", "flags", report.Flags, "text_bytes", len(report.Text))

	if d.metrics != nil {
		d.metrics.RecordReport(ctx, report)
	}

	if d.collector == nil {
		return
	}

	if err := d.collector.Collect(ctx, report); err != nil {
		d.logger.ErrorContext(ctx, "collector failed", "flags", report.Flags, "error", err)

		if d.metrics != nil {
			d.metrics.RecordCollectorFailure(ctx)
		}
	}
}

// guestCID extracts N from a "VM(N)" tag.
func guestCID(tag string) (int64, bool) {
	if !strings.HasPrefix(tag, guestTagPrefix) || !strings.HasSuffix(tag, guestTagSuffix) {
		return 0, false
	}

	cid, err := strconv.ParseInt(tag[len(guestTagPrefix):len(tag)-len(guestTagSuffix)], 10, 64)
	if err != nil {
		return 0, false
	}

	return cid, true
}
