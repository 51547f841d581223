package compress

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/meigma/squashfs/internal/format"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func xzCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lz4Compress(t *testing.T, data []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, dst)
	require.NoError(t, err)
	require.NotZero(t, n, "input must be compressible for this test")
	return dst[:n]
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDecompressRoundTrip(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("squashfs block data "), 512)
	tests := []struct {
		method   format.Compression
		compress func(*testing.T, []byte) []byte
	}{
		{format.CompressionGzip, zlibCompress},
		{format.CompressionXZ, xzCompress},
		{format.CompressionLZ4, lz4Compress},
		{format.CompressionZstd, zstdCompress},
	}

	e := NewEngine()
	for _, tt := range tests {
		t.Run(tt.method.String(), func(t *testing.T) {
			t.Parallel()
			src := tt.compress(t, data)
			out, err := e.Decompress(tt.method, src, len(data))
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestDecompressOutputTooLarge(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte{0}, 16<<10)
	e := NewEngine()
	for _, method := range []format.Compression{format.CompressionGzip, format.CompressionXZ, format.CompressionZstd} {
		t.Run(method.String(), func(t *testing.T) {
			t.Parallel()
			var src []byte
			switch method {
			case format.CompressionGzip:
				src = zlibCompress(t, data)
			case format.CompressionXZ:
				src = xzCompress(t, data)
			case format.CompressionZstd:
				src = zstdCompress(t, data)
			}
			_, err := e.Decompress(method, src, 100)
			require.ErrorIs(t, err, ErrOutputTooLarge)
		})
	}
}

func TestDecompressCorruptStream(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abcdefgh"), 256)
	e := NewEngine()

	src := zlibCompress(t, data)
	src[len(src)/2] ^= 0xFF
	_, err := e.Decompress(format.CompressionGzip, src, len(data))
	require.Error(t, err)

	src = zstdCompress(t, data)
	src[len(src)/2] ^= 0xFF
	_, err = e.Decompress(format.CompressionZstd, src, len(data))
	require.Error(t, err)
}

func TestDecompressUnsupportedMethod(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	for _, method := range []format.Compression{format.CompressionLZO, format.CompressionLZMA, format.Compression(42)} {
		_, err := e.Decompress(method, []byte{1, 2, 3}, 100)
		require.ErrorIs(t, err, ErrUnsupportedCompression)
	}
	assert.False(t, Supported(format.CompressionLZO))
	assert.True(t, Supported(format.CompressionZstd))
}

func TestDecompressConcurrentZstd(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("pooled decoder reuse "), 128)
	src := zstdCompress(t, data)
	e := NewEngine()

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			out, err := e.Decompress(format.CompressionZstd, src, len(data))
			if err == nil && !bytes.Equal(out, data) {
				err = assert.AnError
			}
			done <- err
		}()
	}
	for i := 0; i < 16; i++ {
		require.NoError(t, <-done)
	}
}
