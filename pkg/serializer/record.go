package serializer

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/zeebo/blake3"

	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
)

// ErrPayloadMissing is returned when a record's payload cannot be read.
var ErrPayloadMissing = errors.New("crash payload is missing")

// Metadata keys with a dedicated place in a Record.
const (
	keyErrorType   = "error_type"
	varProduct     = "prod"
	varVersion     = "ver"
	varGUID        = "guid"
	varCollector   = "collector"
	varIntegration = "in_progress_integration_test"

	defaultProduct  = "ChromeOS"
	defaultUnknown  = "undefined"
	defaultBootMode = "missing-crossystem"

	// BlobKeyCore names the core dump blob.
	BlobKeyCore = "core"
)

// DeviceInfo describes the device a record was captured on.
type DeviceInfo struct {
	Board     string
	HWClass   string
	ImageType string
	BootMode  string
}

// Field is one key/text pair of a record.
type Field struct {
	Key  string `cbor:"key"  json:"key"  yaml:"key"`
	Text string `cbor:"text" json:"text" yaml:"text"`
}

// Blob is one file attached to a record. Size and Digest describe the
// raw bytes; Data is stored with Compression applied.
type Blob struct {
	Key         string      `cbor:"key"         json:"key"`
	Filename    string      `cbor:"filename"    json:"filename"`
	Size        int64       `cbor:"size"        json:"size"`
	Compression Compression `cbor:"compression" json:"compression"`
	Digest      string      `cbor:"blake3"      json:"blake3"`
	Data        []byte      `cbor:"data"        json:"data"`
}

// Record is the structured form of one crash.
type Record struct {
	CrashID                   int64   `cbor:"crash_id"                               json:"crash_id"`
	ExecName                  string  `cbor:"exec_name"                              json:"exec_name"`
	Prod                      string  `cbor:"prod"                                   json:"prod"`
	Ver                       string  `cbor:"ver"                                    json:"ver"`
	Sig                       string  `cbor:"sig"                                    json:"sig"`
	InProgressIntegrationTest string  `cbor:"in_progress_integration_test,omitempty" json:"in_progress_integration_test,omitempty"`
	Collector                 string  `cbor:"collector,omitempty"                    json:"collector,omitempty"`
	Fields                    []Field `cbor:"fields"                                 json:"fields"`
	Blobs                     []Blob  `cbor:"blobs"                                  json:"blobs"`
}

// Field returns the text of the first field named key.
func (r *Record) Field(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Text, true
		}
	}

	return "", false
}

// Details is the input for building one Record.
type Details struct {
	CrashID     int64
	MetaPath    string
	PayloadPath string
	PayloadKind string
	ClientID    string
	Metadata    *crash.Metadata
	Device      DeviceInfo
	FetchCore   bool
}

// BuildRecord builds the Record for one evaluated crash. Unreadable
// attachments are skipped; an unreadable payload fails with
// ErrPayloadMissing.
func BuildRecord(d Details, compression Compression) (*Record, error) {
	comp, err := newCompressor()
	if err != nil {
		return nil, err
	}

	b := &recordBuilder{
		compression: compression,
		compressor:  comp,
		warn:        slog.Warn,
	}

	return b.build(d)
}

// recordBuilder turns evaluated crashes into Records.
type recordBuilder struct {
	compression Compression
	compressor  *compressor
	warn        func(msg string, args ...any)
}

func (b *recordBuilder) build(d Details) (*Record, error) {
	md := d.Metadata
	if md == nil {
		md = crash.NewMetadata()
	}

	sig := md.Value(crash.KeySignature)

	rec := &Record{
		CrashID:  d.CrashID,
		ExecName: md.Value(crash.KeyExecName),
		Prod:     firstNonEmpty(md.Value(crash.PrefixUploadVar+varProduct), defaultProduct),
		Ver:      firstNonEmpty(md.Value(crash.PrefixUploadVar+varVersion), md.Value(crash.KeyVersion)),
		Sig:      sig,
	}

	b.addField(rec, "board", firstNonEmpty(d.Device.Board, defaultUnknown))
	b.addField(rec, "hwclass", firstNonEmpty(d.Device.HWClass, defaultUnknown))
	b.addField(rec, "sig2", sig)
	b.addField(rec, "image_type", d.Device.ImageType)
	b.addField(rec, "boot_mode", firstNonEmpty(d.Device.BootMode, defaultBootMode))
	b.addField(rec, keyErrorType, md.Value(keyErrorType))
	b.addField(rec, varGUID, d.ClientID)

	dir := filepath.Dir(d.MetaPath)
	keys := slices.Sorted(slices.Values(md.Keys()))

	for _, key := range keys {
		value := md.Value(key)

		switch {
		case strings.HasPrefix(key, crash.PrefixUploadVar):
			b.addVar(rec, strings.TrimPrefix(key, crash.PrefixUploadVar), value)
		case strings.HasPrefix(key, crash.PrefixUploadText):
			text, err := os.ReadFile(resolve(dir, value))
			if err != nil {
				b.warn("failed to read upload text file", "key", key, "error", err)

				continue
			}

			b.addField(rec, strings.TrimPrefix(key, crash.PrefixUploadText), string(text))
		}
	}

	payload, err := b.blob(crash.PrefixUploadFile+d.PayloadKind, d.PayloadPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadMissing, err)
	}

	rec.Blobs = append(rec.Blobs, payload)

	for _, key := range keys {
		if !strings.HasPrefix(key, crash.PrefixUploadFile) {
			continue
		}

		blob, err := b.blob(strings.TrimPrefix(key, crash.PrefixUploadFile), resolve(dir, md.Value(key)))
		if err != nil {
			b.warn("failed to read upload file", "key", key, "error", err)

			continue
		}

		rec.Blobs = append(rec.Blobs, blob)
	}

	if d.FetchCore {
		core := strings.TrimSuffix(d.MetaPath, filepath.Ext(d.MetaPath)) + crash.ExtCore
		if _, err := os.Stat(core); err == nil {
			blob, err := b.blob(BlobKeyCore, core)
			if err != nil {
				b.warn("failed to read core file", "path", core, "error", err)
			} else {
				rec.Blobs = append(rec.Blobs, blob)
			}
		}
	}

	return rec, nil
}

func (b *recordBuilder) addVar(rec *Record, name, value string) {
	switch name {
	case varProduct, varVersion, varGUID:
		// Already placed.
	case varIntegration:
		rec.InProgressIntegrationTest = value
	case varCollector:
		rec.Collector = value
	default:
		b.addField(rec, name, value)
	}
}

func (b *recordBuilder) addField(rec *Record, key, value string) {
	if !utf8.ValidString(value) {
		b.warn("field value is not UTF-8", "key", key)

		return
	}

	rec.Fields = append(rec.Fields, Field{Key: key, Text: value})
}

func (b *recordBuilder) blob(key, path string) (Blob, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Blob{}, fmt.Errorf("read blob %s: %w", key, err)
	}

	data, applied, err := b.compressor.compress(raw, b.compression)
	if err != nil {
		return Blob{}, fmt.Errorf("compress blob %s: %w", key, err)
	}

	return Blob{
		Key:         key,
		Filename:    filepath.Base(path),
		Size:        int64(len(raw)),
		Compression: applied,
		Digest:      blobDigest(raw),
		Data:        data,
	}, nil
}

func blobDigest(raw []byte) string {
	sum := blake3.Sum256(raw)

	return hex.EncodeToString(sum[:])
}

// resolve places a referenced file name in the record's directory.
func resolve(dir, name string) string {
	return filepath.Join(dir, filepath.Base(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}

	return ""
}
