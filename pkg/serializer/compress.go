package serializer

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a blob's data is stored in a record.
type Compression string

// Blob compressions.
const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"
)

// ErrUnknownCompression is returned for an unsupported compression name.
var ErrUnknownCompression = errors.New("unknown compression")

// errIncompressible means compression would not shrink the data.
var errIncompressible = errors.New("data is incompressible")

// ParseCompression parses a compression name. Empty selects none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case CompressionNone, "":
		return CompressionNone, nil
	case CompressionLZ4:
		return CompressionLZ4, nil
	case CompressionZstd:
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// compressor holds the reusable zstd coders. zstd.Encoder and
// zstd.Decoder are safe for concurrent use.
type compressor struct {
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

func newCompressor() (*compressor, error) {
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}

	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	return &compressor{zenc: zenc, zdec: zdec}, nil
}

// compress returns data compressed with c and the compression actually
// applied. Incompressible data is stored as is.
func (p *compressor) compress(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)

	switch c {
	case CompressionNone, "":
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out, err = p.compressZstd(data)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}

	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}

	if err != nil {
		return nil, "", err
	}

	return out, c, nil
}

// decompress reverses compress. size is the length of the raw data.
func (p *compressor) decompress(data []byte, c Compression, size int) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionLZ4:
		out := make([]byte, size)

		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}

		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}

		return out, nil
	case CompressionZstd:
		out, err := p.zdec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCompression, c)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}

	return dst[:written], nil
}

func (p *compressor) compressZstd(data []byte) ([]byte, error) {
	out := p.zenc.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}

	return out, nil
}
