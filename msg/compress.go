package msg

import (
	"bytes"
	"compress/gzip"
	"compress/lzw"
	"fmt"
	"io"

	"github.com/msgsec/msl/limits"
)

// decompress expands chunk data per the declared algorithm, bounded by
// MaxChunkPlaintext against decompression bombs.
func decompress(algo string, data []byte) ([]byte, error) {
	switch algo {
	case "", CompressionNone:
		return data, nil
	case CompressionGZIP:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer r.Close()
		return readBounded(r)
	case CompressionLZW:
		r := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer r.Close()
		return readBounded(r)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
}

// compress produces chunk data for the declared algorithm. In this module
// only the test suites call it.
func compress(algo string, data []byte) ([]byte, error) {
	switch algo {
	case "", CompressionNone:
		return data, nil
	case CompressionGZIP:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionLZW:
		var buf bytes.Buffer
		w := lzw.NewWriter(&buf, lzw.MSB, 8)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %q", algo)
	}
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limits.MaxChunkPlaintext+1))
	if err != nil {
		return nil, err
	}
	if err := limits.ValidateChunkPlaintext(data); err != nil {
		return nil, err
	}
	return data, nil
}
