package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how document bytes are stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// minCompressSize is the size below which compression isn't attempted.
const minCompressSize = 64

// maxRecordSize caps the decompressed size a record may claim. It matches the
// largest offset a wide pointer can reach.
const maxRecordSize = 1<<31 - 1

// maxLZ4Ratio is the best ratio an LZ4 block can achieve.
const maxLZ4Ratio = 255

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxRecordSize))
	return dec
}

var (
	errSizeMismatch = errors.New("decompressed size mismatch")
	errBadSize      = errors.New("invalid decompressed size")
)

// compress returns the compressed data and the method actually used, which is
// CompressionNone when compressing doesn't save at least a tenth.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionNone || len(data) < minCompressSize {
		return data, CompressionNone, nil
	}
	var out []byte
	switch c {
	case CompressionZstd:
		enc := getZstdEncoder()
		out = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		out = buf[:n]
	default:
		return nil, 0, fmt.Errorf("unknown compression %v", c)
	}
	if len(out) == 0 || len(out) > len(data)-len(data)/10 {
		return data, CompressionNone, nil
	}
	return out, c, nil
}

// decompress always returns a fresh slice that doesn't alias data. size comes
// from the stored record, so it is checked before anything gets allocated.
func decompress(data []byte, c Compression, size int) ([]byte, error) {
	if size < 0 || size > maxRecordSize {
		return nil, errBadSize
	}
	switch c {
	case CompressionNone:
		return append([]byte(nil), data...), nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		// The output grows as needed, so a lying size can't force a large
		// allocation upfront.
		out, err := dec.DecodeAll(data, make([]byte, 0, min(size, maxLZ4Ratio*len(data))))
		if err != nil {
			return nil, err
		}
		if len(out) != size {
			return nil, errSizeMismatch
		}
		return out, nil
	case CompressionLZ4:
		if size > maxLZ4Ratio*len(data) {
			return nil, errBadSize
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if n != size {
			return nil, errSizeMismatch
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %v", c)
	}
}
