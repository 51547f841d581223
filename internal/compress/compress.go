// Package compress provides the stateless decompression dispatch for
// archive blocks. One call decompresses one independently-compressed block;
// output is capped at the block's known uncompressed size so a corrupted or
// hostile block cannot expand without bound.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/meigma/squashfs/internal/format"
)

// Sentinel errors.
var (
	// ErrDecompression is returned when a compressed block fails to decode.
	ErrDecompression = errors.New("squashfs: decompression failed")

	// ErrOutputTooLarge is returned when a block decompresses past the
	// caller-supplied output bound.
	ErrOutputTooLarge = errors.New("squashfs: decompressed output too large")

	// ErrUnsupportedCompression is returned for compression ids the engine
	// does not handle (lzo, lzma) or unrecognized ids.
	ErrUnsupportedCompression = errors.New("squashfs: unsupported compression")
)

// Supported reports whether the engine can decode the given algorithm.
func Supported(method format.Compression) bool {
	switch method {
	case format.CompressionGzip, format.CompressionXZ, format.CompressionLZ4, format.CompressionZstd:
		return true
	default:
		return false
	}
}

// Engine dispatches block decompression per algorithm. It is stateless
// apart from a reusable zstd decoder pool and safe for concurrent use.
type Engine struct {
	zstd *zstdPool
}

// NewEngine returns an engine ready for concurrent use.
func NewEngine() *Engine {
	return &Engine{zstd: newZstdPool()}
}

// Decompress decodes src, which holds exactly one compressed block, and
// returns the decompressed bytes. maxOut must be the block's uncompressed
// size bound; production of even one byte more aborts with
// ErrOutputTooLarge. Blocks stored uncompressed bypass the engine entirely
// and must not be passed here.
func (e *Engine) Decompress(method format.Compression, src []byte, maxOut int) ([]byte, error) {
	switch method {
	case format.CompressionGzip:
		return e.inflate(src, maxOut, func(r io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(r)
		})
	case format.CompressionXZ:
		return e.inflate(src, maxOut, func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		})
	case format.CompressionLZ4:
		return e.lz4Block(src, maxOut)
	case format.CompressionZstd:
		return e.zstd.decompress(src, maxOut)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, method)
	}
}

// inflate decodes a stream codec, reading at most maxOut+1 bytes so an
// oversized block is detected without materializing it.
func (e *Engine) inflate(src []byte, maxOut int, open func(io.Reader) (io.ReadCloser, error)) ([]byte, error) {
	r, err := open(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	defer r.Close()

	out, err := readCapped(r, maxOut)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// lz4Block decodes the raw lz4 block format (no frame header), which is
// what the archive format stores.
func (e *Engine) lz4Block(src []byte, maxOut int) ([]byte, error) {
	dst := make([]byte, maxOut)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, ErrOutputTooLarge
		}
		return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
	}
	return dst[:n], nil
}

func readCapped(r io.Reader, maxOut int) ([]byte, error) {
	out := make([]byte, 0, maxOut)
	buf := make([]byte, maxOut+1)
	for {
		n, err := r.Read(buf)
		if len(out)+n > maxOut {
			return nil, ErrOutputTooLarge
		}
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompression, err)
		}
	}
}
