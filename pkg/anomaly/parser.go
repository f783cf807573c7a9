// Package anomaly turns system log lines into candidate crash reports.
//
// Each log source has one stateful Parser that consumes lines strictly in
// arrival order. A Parser either returns nil ("no report for this line") or a
// CrashReport that the Dispatcher hands to the collector. Parsers own a private
// dedup.Index, so identical anomalies from different parsers are deduplicated
// independently.
package anomaly

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

// CrashReport is a candidate crash produced by a parser.
type CrashReport struct {
	// Text is the payload persisted by the collector.
	Text string
	// Flags are collector directives, in order.
	Flags []string
}

// Parser consumes the lines of one log source.
type Parser interface {
	// ParseLogEntry consumes one line and optionally returns a report.
	ParseLogEntry(ctx context.Context, line string) *CrashReport
	// PeriodicUpdate is invoked on a fixed interval independent of input.
	PeriodicUpdate(ctx context.Context) *CrashReport
}

// Options configure parser construction.
type Options struct {
	// SendAll disables probabilistic sampling.
	SendAll bool
	// Rand returns a uniform integer in [0, n). Defaults to math/rand/v2.
	Rand func(n int) int
}

func (o Options) randFunc() func(n int) int {
	if o.Rand != nil {
		return o.Rand
	}

	return rand.IntN
}

// base holds the state shared by every parser: its dedup index.
type base struct {
	seen *dedup.Index
}

func newBase() base {
	return base{seen: dedup.New()}
}

// PeriodicUpdate is a no-op for line-driven parsers.
func (base) PeriodicUpdate(context.Context) *CrashReport { return nil }

// sampler accepts one in weight events unless sendAll is set.
type sampler struct {
	sendAll bool
	weight  int
	intn    func(n int) int
}

func (s sampler) accept() bool {
	if s.sendAll || s.weight <= 1 {
		return true
	}

	return s.intn(s.weight) == 0
}

// onlyASCIIAlpha keeps the ASCII letters of s.
func onlyASCIIAlpha(s string) string {
	var sb strings.Builder

	sb.Grow(len(s))

	for i := range len(s) {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
			sb.WriteByte(c)
		}
	}

	return sb.String()
}
