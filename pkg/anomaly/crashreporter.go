package anomaly

import (
	"context"
	"regexp"
	"time"

	"github.com/Sumatoshi-tech/crashtriage/pkg/clock"
)

// DefaultChromeCrashTimeout bounds how long one phrasing of a Chrome crash
// notification waits for the other.
const DefaultChromeCrashTimeout = 30 * time.Second

// Self-health event names.
const (
	EventCrashesFromKernel = "Crash.Chrome.CrashesFromKernel"
	EventMatchedCrashes    = "Crash.Chrome.MatchedCrashes"
	EventMissedCrashes     = "Crash.Chrome.MissedCrashes"
)

var (
	chromeDirectRE = regexp.MustCompile(
		`Received crash notification for chrome\[(\d+)\] user \d+ \(called directly\)`)
	chromeKernelRE = regexp.MustCompile(
		`Received crash notification for chrome\[(\d+)\] sig \d+, user \d+ group \d+ ` +
			`\(ignoring call by kernel - chrome crash; waiting for chrome to call us directly\)`)
)

// EventRecorder counts self-health events.
type EventRecorder interface {
	RecordChromeEvent(ctx context.Context, event string)
}

type notificationPath int

const (
	pathDirect notificationPath = iota
	pathKernel
)

type pendingNotification struct {
	pid  string
	path notificationPath
	seen time.Time
}

// CrashReporterParser watches crash_reporter's own log for Chrome crashes
// that arrive by only one of the two expected paths. It only records events
// and never returns a report.
type CrashReporterParser struct {
	clock    clock.Clock
	timeout  time.Duration
	recorder EventRecorder
	pending  []pendingNotification
}

// NewCrashReporterParser creates a self-health parser. A nil clock selects
// the real clock; a non-positive timeout selects DefaultChromeCrashTimeout.
func NewCrashReporterParser(clk clock.Clock, timeout time.Duration, rec EventRecorder) *CrashReporterParser {
	if clk == nil {
		clk = clock.Real()
	}

	if timeout <= 0 {
		timeout = DefaultChromeCrashTimeout
	}

	return &CrashReporterParser{clock: clk, timeout: timeout, recorder: rec}
}

// ParseLogEntry implements Parser.
func (p *CrashReporterParser) ParseLogEntry(ctx context.Context, line string) *CrashReport {
	if m := chromeDirectRE.FindStringSubmatch(line); m != nil {
		p.observe(ctx, m[1], pathDirect)

		return nil
	}

	if m := chromeKernelRE.FindStringSubmatch(line); m != nil {
		p.record(ctx, EventCrashesFromKernel)
		p.observe(ctx, m[1], pathKernel)
	}

	return nil
}

// PeriodicUpdate expires notifications older than the timeout. An expired
// kernel-path notification means Chrome never reported the crash itself.
func (p *CrashReporterParser) PeriodicUpdate(ctx context.Context) *CrashReport {
	p.expire(ctx, p.clock.Now())

	return nil
}

func (p *CrashReporterParser) expire(ctx context.Context, now time.Time) {
	kept := p.pending[:0]

	for _, n := range p.pending {
		if now.Sub(n.seen) <= p.timeout {
			kept = append(kept, n)

			continue
		}

		if n.path == pathKernel {
			p.record(ctx, EventMissedCrashes)
		}
	}

	p.pending = kept
}

// Pending returns the number of unmatched notifications.
func (p *CrashReporterParser) Pending() int {
	return len(p.pending)
}

// observe pairs a notification with the other phrasing for the same pid.
// Notifications past the timeout are expired first so they never match.
func (p *CrashReporterParser) observe(ctx context.Context, pid string, path notificationPath) {
	now := p.clock.Now()
	p.expire(ctx, now)

	for i, n := range p.pending {
		if n.pid == pid && n.path != path {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			p.record(ctx, EventMatchedCrashes)

			return
		}
	}

	p.pending = append(p.pending, pendingNotification{pid: pid, path: path, seen: now})
}

func (p *CrashReporterParser) record(ctx context.Context, event string) {
	if p.recorder != nil {
		p.recorder.RecordChromeEvent(ctx, event)
	}
}
