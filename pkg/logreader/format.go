// Package logreader tails rotating text log files and turns their lines into
// tagged entries for the anomaly dispatcher.
package logreader

import (
	"regexp"
	"strconv"
	"time"
)

// Entry is one parsed log line.
type Entry struct {
	// Timestamp is when the line was logged; zero when unparseable.
	Timestamp time.Time
	// Tag identifies the producing program, e.g. "kernel" or "VM(3)".
	Tag string
	// Message is the text after the tag.
	Message string
}

// Format parses the raw lines of one log source.
type Format interface {
	// Parse returns the entry for line, or false if the line does not
	// follow the source's layout.
	Parse(line string) (Entry, bool)
}

// AuditTag is the tag given to every audit log entry.
const AuditTag = "audit"

const millisPerSecond = 1000

var (
	syslogRE = regexp.MustCompile(`^(\S+) \S+ ([^\s\[:]+)(?:\[\d+\])?: ?(.*)$`)
	auditRE  = regexp.MustCompile(`^type=\S+ msg=audit\((\d+)\.(\d+):\d+\): (.*)$`)
)

// SyslogFormat parses "<RFC3339 time> <LEVEL> <tag>[<pid>]: <message>" lines,
// as written to /var/log/messages and /var/log/upstart.log.
type SyslogFormat struct{}

// Parse implements Format.
func (SyslogFormat) Parse(line string) (Entry, bool) {
	m := syslogRE.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}

	ts, err := time.Parse(time.RFC3339Nano, m[1])
	if err != nil {
		ts = time.Time{}
	}

	return Entry{Timestamp: ts, Tag: m[2], Message: m[3]}, true
}

// AuditFormat parses "type=<T> msg=audit(<sec>.<ms>:<serial>): <message>" lines.
type AuditFormat struct{}

// Parse implements Format.
func (AuditFormat) Parse(line string) (Entry, bool) {
	m := auditRE.FindStringSubmatch(line)
	if m == nil {
		return Entry{}, false
	}

	var ts time.Time

	sec, secErr := strconv.ParseInt(m[1], 10, 64)
	ms, msErr := strconv.ParseInt(m[2], 10, 64)

	if secErr == nil && msErr == nil {
		ts = time.UnixMilli(sec*millisPerSecond + ms)
	}

	return Entry{Timestamp: ts, Tag: AuditTag, Message: m[3]}, true
}
