// Package persist provides the record codecs used for structured crash
// output.
package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Codec names.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// File extensions for supported codecs.
const (
	jsonExtension = ".jsonl"
	cborExtension = ".cbor"
)

// ErrUnknownFormat is returned by NewCodec for an unsupported format.
var ErrUnknownFormat = errors.New("unknown record format")

// Codec defines how records are serialized and deserialized. Encode
// writes exactly one record, so a stream of records is a sequence of
// Encode calls on the same writer.
type Codec interface {
	// Encode writes one value to the writer.
	Encode(w io.Writer, v any) error
	// Decode reads one value from the reader.
	Decode(r io.Reader, v any) error
	// Extension returns the file extension for this codec.
	Extension() string
}

// NewCodec returns the codec for format.
func NewCodec(format string) (Codec, error) {
	switch format {
	case FormatJSON, "":
		return NewJSONCodec(), nil
	case FormatCBOR:
		return NewCBORCodec()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// JSONCodec implements Codec as JSON lines.
type JSONCodec struct {
	// Indent specifies the indentation string. Empty string means one
	// record per line.
	Indent string
}

// NewJSONCodec creates a compact JSON lines codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Encode implements Codec.Encode using JSON encoding.
func (c *JSONCodec) Encode(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)

	if c.Indent != "" {
		encoder.SetIndent("", c.Indent)
	}

	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("json encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using JSON decoding.
func (c *JSONCodec) Decode(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension.
func (c *JSONCodec) Extension() string {
	return jsonExtension
}

// CBORCodec implements Codec as a CBOR sequence using Core Deterministic
// Encoding, so equal records always produce identical bytes.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec creates a CBOR codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}

	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}

	return &CBORCodec{enc: enc, dec: dec}, nil
}

// Encode implements Codec.Encode using CBOR encoding.
func (c *CBORCodec) Encode(w io.Writer, v any) error {
	if err := c.enc.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("cbor encode: %w", err)
	}

	return nil
}

// Decode implements Codec.Decode using CBOR decoding.
func (c *CBORCodec) Decode(r io.Reader, v any) error {
	if err := c.dec.NewDecoder(r).Decode(v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}

	return nil
}

// Extension implements Codec.Extension.
func (c *CBORCodec) Extension() string {
	return cborExtension
}
