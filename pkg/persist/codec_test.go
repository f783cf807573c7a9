package persist_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/persist"
)

// testRecord is a struct for codec testing.
type testRecord struct {
	Name   string            `cbor:"name"   json:"name"`
	Count  int               `cbor:"count"  json:"count"`
	Fields map[string]string `cbor:"fields" json:"fields"`
}

var sampleRecords = []testRecord{
	{Name: "first", Count: 1, Fields: map[string]string{"board": "eve"}},
	{Name: "second <html>", Count: 2},
}

func TestNewCodec(t *testing.T) {
	t.Parallel()

	jsonCodec, err := persist.NewCodec(persist.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, ".jsonl", jsonCodec.Extension())

	cborCodec, err := persist.NewCodec(persist.FormatCBOR)
	require.NoError(t, err)
	assert.Equal(t, ".cbor", cborCodec.Extension())

	_, err = persist.NewCodec("xml")
	require.ErrorIs(t, err, persist.ErrUnknownFormat)
}

func TestJSONCodec_OneRecordPerLine(t *testing.T) {
	t.Parallel()

	codec := persist.NewJSONCodec()

	var buf bytes.Buffer
	for _, rec := range sampleRecords {
		require.NoError(t, codec.Encode(&buf, rec))
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, len(sampleRecords))
	assert.Contains(t, lines[1], "second <html>")

	var decoded testRecord
	require.NoError(t, codec.Decode(strings.NewReader(lines[0]), &decoded))
	assert.Equal(t, sampleRecords[0], decoded)
}

func TestJSONCodec_Indent(t *testing.T) {
	t.Parallel()

	codec := &persist.JSONCodec{Indent: "  "}

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, sampleRecords[0]))
	assert.Contains(t, buf.String(), "\n  \"name\"")
}

func TestCBORCodec_Sequence(t *testing.T) {
	t.Parallel()

	codec, err := persist.NewCBORCodec()
	require.NoError(t, err)

	var buf bytes.Buffer
	for _, rec := range sampleRecords {
		require.NoError(t, codec.Encode(&buf, rec))
	}

	dec := cbor.NewDecoder(&buf)

	for _, want := range sampleRecords {
		var got testRecord
		require.NoError(t, dec.Decode(&got))
		assert.Equal(t, want, got)
	}
}

func TestCBORCodec_Deterministic(t *testing.T) {
	t.Parallel()

	codec, err := persist.NewCBORCodec()
	require.NoError(t, err)

	fields := map[string]string{"z": "1", "a": "2", "m": "3"}

	var first, second bytes.Buffer
	require.NoError(t, codec.Encode(&first, fields))
	require.NoError(t, codec.Encode(&second, map[string]string{"m": "3", "z": "1", "a": "2"}))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestCBORCodec_AnyDecodesToStringMap(t *testing.T) {
	t.Parallel()

	codec, err := persist.NewCBORCodec()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, codec.Encode(&buf, sampleRecords[0]))

	var decoded any
	require.NoError(t, codec.Decode(&buf, &decoded))

	m, ok := decoded.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "first", m["name"])
}
