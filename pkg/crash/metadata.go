// Package crash models on-disk crash records and classifies them for
// upload, retention or removal.
package crash

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reserved and conventional metadata keys.
const (
	KeyPayload   = "payload"
	KeyDone      = "done"
	KeyOSMillis  = "os_millis"
	KeyExecName  = "exec_name"
	KeyVersion   = "ver"
	KeySignature = "sig"

	PrefixUploadVar  = "upload_var_"
	PrefixUploadText = "upload_text_"
	PrefixUploadFile = "upload_file_"
)

// Payload kinds accepted for upload.
const (
	KindMinidump = "minidump"
	KindKcrash   = "kcrash"
	KindLog      = "log"
	KindDevcore  = "devcore"
	KindECCrash  = "eccrash"
	KindBERTDump = "bertdump"
)

// File extensions of the crash directory layout.
const (
	ExtMeta       = ".meta"
	ExtProcessing = ".processing"
	ExtCore       = ".core"
)

var (
	// ErrMalformedLine is returned for a non-comment line without "=".
	ErrMalformedLine = errors.New("metadata line has no '='")
	// ErrInvalidKey is returned for an empty key or one outside [A-Za-z0-9_.-].
	ErrInvalidKey = errors.New("invalid metadata key")
)

// Metadata is the ordered key/value content of a .meta file. Later
// assignments of a key overwrite earlier ones but keep its position.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata returns an empty Metadata.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// ParseMetadata parses key=value lines. Blank lines and lines starting
// with '#' are skipped. A line ending in '\' continues on the next line.
func ParseMetadata(raw string) (*Metadata, error) {
	md := NewMetadata()
	lines := strings.Split(raw, "\n")

	for i := 0; i < len(lines); i++ {
		line := strings.TrimLeft(lines[i], " \t\r")

		for strings.HasSuffix(line, `\`) && i+1 < len(lines) {
			i++
			line = strings.TrimSuffix(line, `\`) + lines[i]
		}

		line = strings.TrimRight(line, "\r")

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%w: line %d", ErrMalformedLine, i+1)
		}

		key = strings.TrimSpace(key)
		if !IsValidKey(key) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}

		md.Set(key, strings.TrimLeft(value, " \t"))
	}

	return md, nil
}

// IsValidKey reports whether key is non-empty and made of [A-Za-z0-9_.-].
func IsValidKey(key string) bool {
	if key == "" {
		return false
	}

	for _, c := range key {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '_', c == '-', c == '.':
		default:
			return false
		}
	}

	return true
}

// Set assigns value to key.
func (m *Metadata) Set(key, value string) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}

	m.values[key] = value
}

// Get returns the value of key.
func (m *Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]

	return v, ok
}

// Value returns the value of key, or "" when absent.
func (m *Metadata) Value(key string) string {
	return m.values[key]
}

// Keys returns the keys in first-seen order.
func (m *Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys.
func (m *Metadata) Len() int {
	return len(m.keys)
}

// IsComplete reports whether the writer finished the record (done=1).
func (m *Metadata) IsComplete() bool {
	return m.values[KeyDone] == "1"
}

// KindFromPayloadPath derives the payload kind from the file name: the last
// extension after dropping a trailing ".gz", with "dmp" meaning minidump.
// It returns "" when the name has no extension.
func KindFromPayloadPath(path string) string {
	parts := strings.Split(filepath.Base(path), ".")
	if len(parts) >= 2 && parts[len(parts)-1] == "gz" {
		parts = parts[:len(parts)-1]
	}

	if len(parts) <= 1 {
		return ""
	}

	ext := parts[len(parts)-1]
	if ext == "dmp" {
		return KindMinidump
	}

	return ext
}

// IsKnownKind reports whether kind is an uploadable payload kind.
func IsKnownKind(kind string) bool {
	switch kind {
	case KindMinidump, KindKcrash, KindLog, KindDevcore, KindECCrash, KindBERTDump:
		return true
	default:
		return false
	}
}

// BasePart strips the final extension: "/d/a.b.c.log" becomes "/d/a.b.c".
func BasePart(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// ProcessingPath returns the sentinel path for a metadata file.
func ProcessingPath(metaPath string) string {
	return BasePart(metaPath) + ExtProcessing
}
