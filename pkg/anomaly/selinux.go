package anomaly

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/Sumatoshi-tech/crashtriage/pkg/dedup"
)

// DefaultSELinuxWeight reports one in this many access violations.
const DefaultSELinuxWeight = 1000

const (
	permissiveMarker = "permissive=1"
	flagSELinux      = "--selinux_violation"
	fieldStart       = "\x01"
	fieldEnd         = "\x02"
)

var (
	grantedRE    = regexp.MustCompile(`avc:[ ]*granted`)
	scontextRE   = regexp.MustCompile(`scontext=(\S*)`)
	tcontextRE   = regexp.MustCompile(`tcontext=(\S*)`)
	permissionRE = regexp.MustCompile(`\{ (\S*) \}`)
	commRE       = regexp.MustCompile(`comm="([^"]*)"`)
	nameRE       = regexp.MustCompile(`name="([^"]*)"`)
)

// SELinuxParser reports enforcing access-control violations from the audit log.
type SELinuxParser struct {
	base

	sample sampler
}

// NewSELinuxParser creates an access-violation parser. A non-positive weight
// selects DefaultSELinuxWeight.
func NewSELinuxParser(opts Options, weight int) *SELinuxParser {
	if weight <= 0 {
		weight = DefaultSELinuxWeight
	}

	return &SELinuxParser{
		base:   newBase(),
		sample: sampler{sendAll: opts.SendAll, weight: weight, intn: opts.randFunc()},
	}
}

// ParseLogEntry implements Parser.
func (p *SELinuxParser) ParseLogEntry(_ context.Context, line string) *CrashReport {
	if strings.Contains(line, permissiveMarker) {
		return nil
	}

	if !p.sample.accept() {
		return nil
	}

	hash := dedup.StringHash(onlyASCIIAlpha(line))
	if p.seen.WasAlreadySeen(hash) {
		return nil
	}

	scontext := submatch(scontextRE, line)
	tcontext := submatch(tcontextRE, line)
	permission := submatch(permissionRE, line)
	comm := submatch(commRE, line)
	name := submatch(nameRE, line)

	var signature string
	if grantedRE.MatchString(line) {
		signature = "granted-"
	}

	signature += strings.Join([]string{
		scontext, tcontext, permission, onlyASCIIAlpha(comm), onlyASCIIAlpha(name),
	}, "-")

	var sb strings.Builder

	fmt.Fprintf(&sb, "%08x-selinux-%s\n", hash, signature)
	writeField(&sb, "comm", comm)
	writeField(&sb, "name", name)
	writeField(&sb, "scontext", scontext)
	writeField(&sb, "tcontext", tcontext)
	sb.WriteString("\n")
	sb.WriteString(line)

	return &CrashReport{Text: sb.String(), Flags: []string{flagSELinux}}
}

// submatch returns the first capture group of re in line, or "".
func submatch(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return ""
	}

	return m[1]
}

func writeField(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}

	sb.WriteString(key)
	sb.WriteString(fieldStart)
	sb.WriteString(value)
	sb.WriteString(fieldEnd)
}
