package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

const (
	suspendBeginPrefix = "Error writing to /sys/power/state: "
	suspendEndPrefix   = "--- end /sys/kernel/debug/suspend_stats ---"
	flagSuspendFailure = "--suspend_failure"

	defaultFailedDev   = "none"
	defaultFailedErrno = "unknown"
	defaultFailedStep  = "unknown"
)

var (
	lastFailedDevRE   = regexp.MustCompile(`^\s*last_failed_dev: (.+)$`)
	lastFailedErrnoRE = regexp.MustCompile(`^\s*last_failed_errno: (.+)$`)
	lastFailedStepRE  = regexp.MustCompile(`^\s*last_failed_step: (.+)$`)
)

// SuspendParser reports suspend failures from the power daemon's dump of
// kernel suspend statistics.
type SuspendParser struct {
	base

	state    lineState
	dev      string
	errnoStr string
	step     string
}

// NewSuspendParser creates a suspend-failure parser.
func NewSuspendParser() *SuspendParser {
	return &SuspendParser{base: newBase()}
}

// ParseLogEntry implements Parser.
func (p *SuspendParser) ParseLogEntry(_ context.Context, line string) *CrashReport {
	if p.state == stateNone {
		if strings.HasPrefix(line, suspendBeginPrefix) {
			p.state = stateStart
			p.dev, p.errnoStr, p.step = defaultFailedDev, defaultFailedErrno, defaultFailedStep
		}

		return nil
	}

	if !strings.HasPrefix(line, suspendEndPrefix) {
		if v := submatch(lastFailedDevRE, line); v != "" {
			p.dev = v
		} else if v := submatch(lastFailedErrnoRE, line); v != "" {
			p.errnoStr = v
		} else if v := submatch(lastFailedStepRE, line); v != "" {
			p.step = v
		}

		p.state = stateBody

		return nil
	}

	hash := dedup.StringHash(p.dev + p.errnoStr + p.step)
	text := fmt.Sprintf("%08x-suspend failure: device: %s step: %s errno: %s\n",
		hash, p.dev, p.step, p.errnoStr)
	p.state = stateNone

	return &CrashReport{Text: text, Flags: []string{flagSuspendFailure}}
}
