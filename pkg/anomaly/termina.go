package anomaly

import (
	"context"
	"regexp"

	"github.com/Sumatoshi-tech/crashtriage/pkg/events"
)

var (
	btrfsExtentCorruptionRE = regexp.MustCompile(
		`BTRFS warning \(device .*\): csum failed root [[:digit:]]+ ino [[:digit:]]+ off [[:digit:]]+ ` +
			`csum 0x[[:xdigit:]]+ expected csum 0x[[:xdigit:]]+ mirror [[:digit:]]+`)
	btrfsTreeCorruptionRE = regexp.MustCompile(
		`BTRFS warning \(device .*\): .* checksum verify failed on [[:digit:]]+ ` +
			`wanted (0x)?[[:xdigit:]]+ found (0x)?[[:xdigit:]]+ level [[:digit:]]+`)
)

// TerminaParser detects filesystem corruption inside guest VMs. A match is
// published as a GuestFileCorruption signal instead of a crash report,
// because detection can lag the corruption arbitrarily.
type TerminaParser struct {
	publisher events.Publisher
}

// NewTerminaParser creates a guest corruption detector publishing to pub.
func NewTerminaParser(pub events.Publisher) *TerminaParser {
	return &TerminaParser{publisher: pub}
}

// ParseGuestLogEntry consumes one line logged by the guest with the given
// vsock context id. It never returns a report.
func (p *TerminaParser) ParseGuestLogEntry(ctx context.Context, cid int64, line string) *CrashReport {
	if !btrfsExtentCorruptionRE.MatchString(line) && !btrfsTreeCorruptionRE.MatchString(line) {
		return nil
	}

	p.publisher.Publish(ctx, events.GuestFileCorruption{VsockCID: cid})

	return nil
}
