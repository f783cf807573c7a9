package serializer_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/crashtriage/pkg/crash"
	"github.com/Sumatoshi-tech/crashtriage/pkg/serializer"
)

const (
	fakeClientID = "00112233445566778899aabbccddeeff"
	fakeKind     = "fake_payload"

	payloadName = "0.0.0.0.payload"
	logName     = "0.0.0.0.log"
	textName    = "data.txt"
	binName     = "data.bin"
	coreName    = "0.0.0.0.core"
)

type recordCase struct {
	absolutePaths bool
	fetchCore     bool
	missing       string
}

func writeRecordFiles(t *testing.T, dir string, tc recordCase) serializer.Details {
	t.Helper()

	contents := map[string]string{
		payloadName: "foobar_payload",
		logName:     "foobar_log",
		textName:    "upload_text_contents",
		binName:     "upload_file_contents",
		coreName:    "corey_mccoreface",
	}

	for name, content := range contents {
		if name == tc.missing {
			continue
		}

		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	ref := func(name string) string {
		if tc.absolutePaths {
			return filepath.Join(dir, name)
		}

		return name
	}

	md, err := crash.ParseMetadata(strings.Join([]string{
		"exec_name=fake_exec_name",
		"ver=fake_chromeos_ver",
		"upload_var_prod=fake_product",
		"upload_var_ver=fake_version",
		"sig=fake_sig",
		"upload_var_guid=SHOULD_NOT_BE_USED",
		"upload_var_foovar=bar",
		"upload_var_in_progress_integration_test=test.Test",
		"upload_var_collector=fake_collector",
		"upload_text_footext=" + ref(textName),
		"upload_file_log=" + ref(logName),
		"upload_file_foofile=" + ref(binName),
		"error_type=fake_error",
		"done=1",
	}, "\n"))
	require.NoError(t, err)

	return serializer.Details{
		MetaPath:    filepath.Join(dir, "0.0.0.0.meta"),
		PayloadPath: filepath.Join(dir, payloadName),
		PayloadKind: fakeKind,
		ClientID:    fakeClientID,
		Metadata:    md,
		FetchCore:   tc.fetchCore,
	}
}

func TestBuildRecord(t *testing.T) {
	t.Parallel()

	cases := map[string]recordCase{
		"relative":          {},
		"absolute":          {absolutePaths: true},
		"fetch core":        {fetchCore: true},
		"fetch missing":     {fetchCore: true, missing: coreName},
		"missing text file": {missing: textName},
		"missing bin file":  {missing: binName},
		"missing log file":  {missing: logName},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			d := writeRecordFiles(t, t.TempDir(), tc)

			rec, err := serializer.BuildRecord(d, serializer.CompressionNone)
			require.NoError(t, err)

			assert.Equal(t, "fake_exec_name", rec.ExecName)
			assert.Equal(t, "fake_product", rec.Prod)
			assert.Equal(t, "fake_version", rec.Ver)
			assert.Equal(t, "fake_sig", rec.Sig)
			assert.Equal(t, "test.Test", rec.InProgressIntegrationTest)
			assert.Equal(t, "fake_collector", rec.Collector)

			wantFields := []serializer.Field{
				{Key: "board", Text: "undefined"},
				{Key: "hwclass", Text: "undefined"},
				{Key: "sig2", Text: "fake_sig"},
				{Key: "image_type", Text: ""},
				{Key: "boot_mode", Text: "missing-crossystem"},
				{Key: "error_type", Text: "fake_error"},
				{Key: "guid", Text: fakeClientID},
			}
			if tc.missing != textName {
				wantFields = append(wantFields, serializer.Field{Key: "footext", Text: "upload_text_contents"})
			}

			wantFields = append(wantFields, serializer.Field{Key: "foovar", Text: "bar"})
			assert.Equal(t, wantFields, rec.Fields)

			type blobWant struct{ key, filename, data string }

			want := []blobWant{{key: "upload_file_" + fakeKind, filename: payloadName, data: "foobar_payload"}}
			if tc.missing != binName {
				want = append(want, blobWant{key: "foofile", filename: binName, data: "upload_file_contents"})
			}

			if tc.missing != logName {
				want = append(want, blobWant{key: "log", filename: logName, data: "foobar_log"})
			}

			if tc.fetchCore && tc.missing != coreName {
				want = append(want, blobWant{key: serializer.BlobKeyCore, filename: coreName, data: "corey_mccoreface"})
			}

			require.Len(t, rec.Blobs, len(want))

			for i, w := range want {
				b := rec.Blobs[i]
				assert.Equal(t, w.key, b.Key)
				assert.Equal(t, w.filename, b.Filename)
				assert.Equal(t, int64(len(w.data)), b.Size)
				assert.Len(t, b.Digest, 64)

				raw, err := serializer.DecodeBlob(b)
				require.NoError(t, err)
				assert.Equal(t, w.data, string(raw))
			}
		})
	}
}

func TestBuildRecord_MissingPayload(t *testing.T) {
	t.Parallel()

	d := writeRecordFiles(t, t.TempDir(), recordCase{missing: payloadName})

	_, err := serializer.BuildRecord(d, serializer.CompressionNone)
	require.ErrorIs(t, err, serializer.ErrPayloadMissing)
}

func TestBuildRecord_DeviceInfo(t *testing.T) {
	t.Parallel()

	d := writeRecordFiles(t, t.TempDir(), recordCase{})
	d.Device = serializer.DeviceInfo{Board: "eve", HWClass: "EVE-ABC", ImageType: "test", BootMode: "normal"}

	rec, err := serializer.BuildRecord(d, serializer.CompressionNone)
	require.NoError(t, err)

	for key, want := range map[string]string{"board": "eve", "hwclass": "EVE-ABC", "image_type": "test", "boot_mode": "normal"} {
		got, ok := rec.Field(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}
}

func TestBuildRecord_Compression(t *testing.T) {
	t.Parallel()

	compressible := strings.Repeat("kernel panic at foo.c:10\n", 200)

	tests := []struct {
		name        string
		compression serializer.Compression
		payload     string
		want        serializer.Compression
	}{
		{name: "none", compression: serializer.CompressionNone, payload: compressible, want: serializer.CompressionNone},
		{name: "lz4", compression: serializer.CompressionLZ4, payload: compressible, want: serializer.CompressionLZ4},
		{name: "zstd", compression: serializer.CompressionZstd, payload: compressible, want: serializer.CompressionZstd},
		{name: "lz4 incompressible", compression: serializer.CompressionLZ4, payload: "ab", want: serializer.CompressionNone},
		{name: "zstd incompressible", compression: serializer.CompressionZstd, payload: "ab", want: serializer.CompressionNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			d := writeRecordFiles(t, dir, recordCase{})
			require.NoError(t, os.WriteFile(d.PayloadPath, []byte(tt.payload), 0o600))

			rec, err := serializer.BuildRecord(d, tt.compression)
			require.NoError(t, err)

			payload := rec.Blobs[0]
			assert.Equal(t, tt.want, payload.Compression)

			if tt.want != serializer.CompressionNone {
				assert.Less(t, len(payload.Data), len(tt.payload))
			}

			raw, err := serializer.DecodeBlob(payload)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(raw))
		})
	}
}

func TestDecodeBlob_DigestMismatch(t *testing.T) {
	t.Parallel()

	d := writeRecordFiles(t, t.TempDir(), recordCase{})

	rec, err := serializer.BuildRecord(d, serializer.CompressionNone)
	require.NoError(t, err)

	blob := rec.Blobs[0]
	blob.Data = []byte("tampered_data!")

	_, err = serializer.DecodeBlob(blob)
	require.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "none", "lz4", "zstd"} {
		_, err := serializer.ParseCompression(name)
		require.NoError(t, err, name)
	}

	_, err := serializer.ParseCompression("gzip")
	require.ErrorIs(t, err, serializer.ErrUnknownCompression)
}
