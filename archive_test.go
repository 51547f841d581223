package squashfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/squashfs/internal/format"
	"github.com/meigma/squashfs/internal/testarchive"
)

func buildImage(t *testing.T, b *testarchive.Builder) []byte {
	t.Helper()
	img, err := b.Build()
	require.NoError(t, err)
	return img
}

func openImage(t *testing.T, img []byte, opts ...Option) *Archive {
	t.Helper()
	a, err := Open(context.Background(), NewBytesSource(img), opts...)
	require.NoError(t, err)
	return a
}

// patternData generates incompressible-ish deterministic content.
func patternData(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i>>8)
	}
	return b
}

// statPath walks slash-separated segments from the root.
func statPath(t *testing.T, a *Archive, path string) Inode {
	t.Helper()
	ino := a.Root()
	for _, seg := range strings.Split(path, "/") {
		next, err := a.Lookup(context.Background(), ino, seg)
		require.NoError(t, err, "lookup %q", path)
		ino = next
	}
	return ino
}

// countingSource counts physical reads against the backing source.
type countingSource struct {
	ByteSource
	reads atomic.Int64
}

func (s *countingSource) ReadAt(p []byte, off int64) (int, error) {
	s.reads.Add(1)
	return s.ByteSource.ReadAt(p, off)
}

func TestOpenBasics(t *testing.T) {
	t.Parallel()

	img := buildImage(t, testarchive.New().
		File("hello.txt", []byte("hello world\n")).
		Dir("empty"))
	a := openImage(t, img)

	assert.True(t, a.Root().IsDir())
	assert.Equal(t, uint32(128<<10), a.BlockSize())
	assert.Equal(t, "gzip", a.Compression())
	assert.Equal(t, uint32(3), a.InodeCount())
	assert.Equal(t, a.InodeCount(), a.Root().Number)
}

func TestOpenRejectsBadImages(t *testing.T) {
	t.Parallel()

	img := buildImage(t, testarchive.New().File("f", []byte("data")))

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{
			name:   "truncated superblock",
			mutate: func(b []byte) []byte { return b[:50] },
			want:   ErrTruncated,
		},
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] ^= 0xFF
				return b
			},
			want: ErrBadMagic,
		},
		{
			name: "bad version",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[28:30], 3)
				return b
			},
			want: ErrUnsupportedVersion,
		},
		{
			name: "block size not a power of two",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[12:16], 100000)
				return b
			},
			want: ErrInconsistentBlockSize,
		},
		{
			name: "block log disagrees",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[22:24], 12)
				return b
			},
			want: ErrInconsistentBlockSize,
		},
		{
			name: "unsupported compression",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[20:22], uint16(format.CompressionLZO))
				return b
			},
			want: ErrUnsupportedCompression,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mutated := tt.mutate(bytes.Clone(img))
			_, err := Open(context.Background(), NewBytesSource(mutated))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTreeReconstruction(t *testing.T) {
	t.Parallel()

	files := map[string][]byte{
		"readme.md":            []byte("# readme\n"),
		"bin/tool":             patternData(10000),
		"bin/empty":            {},
		"share/doc/manual.txt": bytes.Repeat([]byte("lorem ipsum "), 2000),
		"share/doc/notes":      patternData(4096),
	}
	b := testarchive.New(testarchive.WithBlockSize(4096))
	for path, data := range files {
		b.File(path, data)
	}
	a := openImage(t, buildImage(t, b))

	for path, want := range files {
		ino := statPath(t, a, path)
		require.True(t, ino.IsRegular(), path)
		require.Equal(t, int64(len(want)), ino.Size, path)

		got, err := a.ReadFile(context.Background(), ino, 0, len(want)+10)
		require.NoError(t, err, path)
		assert.Equal(t, want, append([]byte{}, got...), path)
	}

	bin := statPath(t, a, "bin")
	entries, err := a.ReadDir(context.Background(), bin)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "empty", entries[0].Name)
	assert.Equal(t, "tool", entries[1].Name)
}

func TestReadDirStableOrder(t *testing.T) {
	t.Parallel()

	b := testarchive.New()
	for i := range 300 {
		b.File(fmt.Sprintf("d/file-%03d", i), []byte{byte(i)})
	}
	a := openImage(t, buildImage(t, b))
	dir := statPath(t, a, "d")

	first, err := a.ReadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, first, 300)
	for i, e := range first {
		assert.Equal(t, fmt.Sprintf("file-%03d", i), e.Name)
	}

	second, err := a.ReadDir(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEntriesPartialIteration(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().
		File("a", nil).File("b", nil).File("c", nil)))

	var got []string
	for entry, err := range a.Entries(context.Background(), a.Root()) {
		require.NoError(t, err)
		got = append(got, entry.Name)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEntriesOnNonDirectory(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().File("f", []byte("x"))))
	f := statPath(t, a, "f")

	_, err := a.ReadDir(context.Background(), f)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestLookupMissing(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().File("present", nil)))

	_, err := a.Lookup(context.Background(), a.Root(), "absent")
	require.ErrorIs(t, err, ErrNotExist)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadFileRanges(t *testing.T) {
	t.Parallel()

	content := patternData(10000) // 2 full 4KiB blocks plus a fragment tail
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("f", content)))
	ino := statPath(t, a, "f")
	ctx := context.Background()

	tests := []struct {
		name   string
		off    int64
		length int
		want   []byte
	}{
		{"whole file", 0, 10000, content},
		{"across block boundary", 4000, 200, content[4000:4200]},
		{"into fragment tail", 8000, 2000, content[8000:]},
		{"last byte", 9999, 1, content[9999:]},
		{"at end", 10000, 1, []byte{}},
		{"past end", 50000, 10, []byte{}},
		{"clamped", 9000, 5000, content[9000:]},
		{"zero length", 0, 0, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ReadFile(ctx, ino, tt.off, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, append([]byte{}, got...))
		})
	}

	_, err := a.ReadFile(ctx, ino, -1, 10)
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = a.ReadFile(ctx, ino, 0, -1)
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestReadFileIdempotent(t *testing.T) {
	t.Parallel()

	content := patternData(9000)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("f", content)))
	ino := statPath(t, a, "f")
	ctx := context.Background()

	first, err := a.ReadFile(ctx, ino, 0, len(content))
	require.NoError(t, err)
	fetches := a.DataCacheStats().Fetches

	second, err := a.ReadFile(ctx, ino, 0, len(content))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, fetches, a.DataCacheStats().Fetches, "repeat read must be served from cache")
	assert.Greater(t, a.DataCacheStats().Hits, uint64(0))
}

func TestConcurrentReadsCoalesce(t *testing.T) {
	t.Parallel()

	content := patternData(4096)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("f", content)))
	ino := statPath(t, a, "f")

	const readers = 16
	var wg sync.WaitGroup
	results := make([][]byte, readers)
	errs := make([]error, readers)
	for i := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = a.ReadFile(context.Background(), ino, 0, len(content))
		}()
	}
	wg.Wait()

	for i := range readers {
		require.NoError(t, errs[i])
		assert.Equal(t, content, results[i])
	}
	assert.Equal(t, uint64(1), a.DataCacheStats().Fetches,
		"concurrent misses on one block must coalesce into a single fetch")
}

func TestSparseBlocksReadAsZeros(t *testing.T) {
	t.Parallel()

	content := make([]byte, 8192) // first 4KiB block all zeros
	copy(content[4096:], patternData(4096))
	src := &countingSource{ByteSource: NewBytesSource(buildImage(t,
		testarchive.New(testarchive.WithBlockSize(4096)).File("f", content)))}

	a, err := Open(context.Background(), src)
	require.NoError(t, err)
	ino := statPath(t, a, "f")
	ctx := context.Background()

	before := src.reads.Load()
	got, err := a.ReadFile(ctx, ino, 0, 4096)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4096), got)
	assert.Equal(t, before, src.reads.Load(), "sparse block must not touch storage")

	got, err = a.ReadFile(ctx, ino, 0, 8192)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Greater(t, src.reads.Load(), before)
}

func TestSharedFragmentBlock(t *testing.T) {
	t.Parallel()

	alpha := bytes.Repeat([]byte("alpha"), 100)
	beta := bytes.Repeat([]byte("beta"), 100)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("alpha", alpha).
		File("beta", beta)))
	ctx := context.Background()

	gotAlpha, err := a.ReadFile(ctx, statPath(t, a, "alpha"), 0, len(alpha))
	require.NoError(t, err)
	gotBeta, err := a.ReadFile(ctx, statPath(t, a, "beta"), 0, len(beta))
	require.NoError(t, err)

	assert.Equal(t, alpha, gotAlpha)
	assert.Equal(t, beta, gotBeta)
	assert.Equal(t, uint64(1), a.DataCacheStats().Fetches,
		"both tails live in one shared fragment block")
}

func TestTailAsShortBlock(t *testing.T) {
	t.Parallel()

	content := patternData(5000)
	a := openImage(t, buildImage(t, testarchive.New(
		testarchive.WithBlockSize(4096), testarchive.WithoutFragments()).
		File("f", content)))

	got, err := a.ReadFile(context.Background(), statPath(t, a, "f"), 0, len(content))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestCompressionMatrix(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("squash me please "), 1000)
	for _, c := range []format.Compression{
		format.CompressionGzip,
		format.CompressionXZ,
		format.CompressionLZ4,
		format.CompressionZstd,
	} {
		t.Run(c.String(), func(t *testing.T) {
			t.Parallel()
			a := openImage(t, buildImage(t, testarchive.New(
				testarchive.WithBlockSize(4096),
				testarchive.WithCompression(c),
				testarchive.WithCompressorOptions()).
				File("data", content).
				Symlink("link", "data")))

			assert.Equal(t, c.String(), a.Compression())
			got, err := a.ReadFile(context.Background(), statPath(t, a, "data"), 0, len(content))
			require.NoError(t, err)
			assert.Equal(t, content, got)
		})
	}
}

func TestInodeMetadata(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().
		File("owned", []byte("x"),
			testarchive.Mode(0o640),
			testarchive.Owner(1000, 2000),
			testarchive.ModTime(1234567890)).
		Dir("sub", testarchive.Mode(0o700))))

	owned := statPath(t, a, "owned")
	assert.Equal(t, fs.FileMode(0o640), owned.Mode)
	assert.Equal(t, uint32(1000), owned.UID)
	assert.Equal(t, uint32(2000), owned.GID)
	assert.Equal(t, int64(1234567890), owned.ModTime.Unix())
	assert.Equal(t, uint32(1), owned.LinkCount)

	sub := statPath(t, a, "sub")
	assert.Equal(t, fs.ModeDir|0o700, sub.Mode)
	parent, ok := sub.ParentInode()
	require.True(t, ok)
	assert.Equal(t, a.Root().Number, parent)
}

func TestSpecialInodes(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().
		Symlink("link", "target/path").
		CharDevice("dev/null", 0x0103).
		BlockDevice("dev/sda", 0x0800).
		Fifo("pipe").
		Socket("sock")))
	ctx := context.Background()

	link := statPath(t, a, "link")
	require.True(t, link.IsSymlink())
	target, err := a.ReadLink(link)
	require.NoError(t, err)
	assert.Equal(t, "target/path", target)
	assert.Equal(t, int64(len("target/path")), link.Size)

	null := statPath(t, a, "dev/null")
	assert.Equal(t, fs.ModeDevice|fs.ModeCharDevice, null.Mode&fs.ModeType)
	dev, ok := null.Device()
	require.True(t, ok)
	assert.Equal(t, uint32(0x0103), dev)

	sda := statPath(t, a, "dev/sda")
	assert.Equal(t, fs.ModeDevice, sda.Mode&fs.ModeType)

	pipe := statPath(t, a, "pipe")
	assert.Equal(t, fs.ModeNamedPipe, pipe.Mode&fs.ModeType)

	sock := statPath(t, a, "sock")
	assert.Equal(t, fs.ModeSocket, sock.Mode&fs.ModeType)

	_, err = a.ReadLink(null)
	require.ErrorIs(t, err, ErrNotSymlink)
	_, err = a.ReadFile(ctx, link, 0, 10)
	require.ErrorIs(t, err, ErrNotRegularFile)
}

func TestExtendedInodeVariants(t *testing.T) {
	t.Parallel()

	content := patternData(6000)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		Dir("d", testarchive.Extended()).
		File("d/f", content, testarchive.Extended()).
		Symlink("d/l", "f", testarchive.Extended())))

	got, err := a.ReadFile(context.Background(), statPath(t, a, "d/f"), 0, len(content))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	target, err := a.ReadLink(statPath(t, a, "d/l"))
	require.NoError(t, err)
	assert.Equal(t, "f", target)
}

func TestInodeByNumber(t *testing.T) {
	t.Parallel()

	img := buildImage(t, testarchive.New().
		File("a", []byte("1")).
		File("b", []byte("2")).
		Dir("c"))
	a := openImage(t, img)
	ctx := context.Background()

	for num := uint32(1); num <= a.InodeCount(); num++ {
		ino, err := a.InodeByNumber(ctx, num)
		require.NoError(t, err)
		assert.Equal(t, num, ino.Number)
	}

	_, err := a.InodeByNumber(ctx, 0)
	require.ErrorIs(t, err, ErrNotExist)
	_, err = a.InodeByNumber(ctx, a.InodeCount()+1)
	require.ErrorIs(t, err, ErrNotExist)

	noExport := openImage(t, img, WithoutExportTable())
	_, err = noExport.InodeByNumber(ctx, 1)
	require.ErrorIs(t, err, ErrNoExportTable)
}

func TestArchiveWithoutExportTable(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithoutExport()).
		File("f", []byte("data"))))

	_, err := a.InodeByNumber(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoExportTable)
}

func TestCorruptMetadataBlock(t *testing.T) {
	t.Parallel()

	// Enough similar inodes that the inode table block is compressed.
	b := testarchive.New()
	for i := range 30 {
		b.File(fmt.Sprintf("f%02d", i), []byte("same content everywhere"))
	}
	img := buildImage(t, b)

	sb, err := format.DecodeSuperblock(img)
	require.NoError(t, err)
	hdr := binary.LittleEndian.Uint16(img[sb.InodeTable:])
	require.Zero(t, hdr&format.MetadataUncompressedFlag, "inode table should compress")

	img[sb.InodeTable+5] ^= 0xFF

	// Open stats the root inode through the corrupted block.
	_, err = Open(context.Background(), NewBytesSource(img))
	require.Error(t, err)
	var oe *OffsetError
	assert.ErrorAs(t, err, &oe)
}

func TestStatBogusRef(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().File("f", nil)))

	_, err := a.Stat(context.Background(), format.NewRef(0, 0x3FFF))
	require.Error(t, err)
}

func TestReadFileOnZeroInode(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().File("f", nil)))

	_, err := a.ReadFile(context.Background(), Inode{}, 0, 10)
	require.ErrorIs(t, err, ErrInvalidInode)
	_, err = a.ReadDir(context.Background(), Inode{})
	require.ErrorIs(t, err, ErrInvalidInode)
	_, err = a.ReadLink(Inode{})
	require.ErrorIs(t, err, ErrInvalidInode)
	_, err = a.OpenInode(context.Background(), Inode{})
	require.ErrorIs(t, err, ErrInvalidInode)
}

func TestDataCacheEviction(t *testing.T) {
	t.Parallel()

	content := patternData(3 * 4096)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("f", content)),
		WithDataCacheBytes(4096))
	ino := statPath(t, a, "f")

	got, err := a.ReadFile(context.Background(), ino, 0, len(content))
	require.NoError(t, err)
	assert.Equal(t, content, got)

	stats := a.DataCacheStats()
	assert.GreaterOrEqual(t, stats.Evictions, uint64(2))
	assert.LessOrEqual(t, stats.Bytes, int64(4096))
}

func TestFileAdapter(t *testing.T) {
	t.Parallel()

	content := patternData(10000)
	a := openImage(t, buildImage(t, testarchive.New(testarchive.WithBlockSize(4096)).
		File("f", content)))
	ino := statPath(t, a, "f")

	f, err := a.OpenInode(context.Background(), ino)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), f.Size())

	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	buf := make([]byte, 100)
	n, err := f.ReadAt(buf, int64(len(content)-40))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 40, n)
	assert.Equal(t, content[len(content)-40:], buf[:40])
}

func TestEmptyDirectoryListing(t *testing.T) {
	t.Parallel()

	a := openImage(t, buildImage(t, testarchive.New().Dir("empty")))

	entries, err := a.ReadDir(context.Background(), statPath(t, a, "empty"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
