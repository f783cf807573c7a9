package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

// DefaultServiceWeight reports one in this many service failures.
const DefaultServiceWeight = 50

const arcServicePrefix = "arc-"

var serviceFailureRE = regexp.MustCompile(`^(\S+) \S+ process \(\d+\) terminated with status (\d+)$`)

// ServiceParser reports init services that exit with a failure status.
type ServiceParser struct {
	base

	sample sampler
}

// NewServiceParser creates a service-exit parser. A non-positive weight
// selects DefaultServiceWeight.
func NewServiceParser(opts Options, weight int) *ServiceParser {
	if weight <= 0 {
		weight = DefaultServiceWeight
	}

	return &ServiceParser{
		base:   newBase(),
		sample: sampler{sendAll: opts.SendAll, weight: weight, intn: opts.randFunc()},
	}
}

// ParseLogEntry implements Parser.
func (p *ServiceParser) ParseLogEntry(_ context.Context, line string) *CrashReport {
	m := serviceFailureRE.FindStringSubmatch(line)
	if m == nil {
		return nil
	}

	if !p.sample.accept() {
		return nil
	}

	service, status := m[1], m[2]
	hash := dedup.StringHash(service)

	if p.seen.WasAlreadySeen(hash) {
		return nil
	}

	flag := "--service_failure=" + service
	if strings.HasPrefix(service, arcServicePrefix) {
		flag = "--arc_service_failure=" + service
	}

	return &CrashReport{
		Text:  fmt.Sprintf("%08x-exit%s-%s\n", hash, status, service),
		Flags: []string{flag},
	}
}
