package squashfs

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/squashfs/internal/blockcache"
	"github.com/meigma/squashfs/internal/compress"
	"github.com/meigma/squashfs/internal/format"
	"github.com/meigma/squashfs/internal/meta"
)

// CacheStats is a snapshot of one block cache's counters.
type CacheStats = blockcache.Stats

// Archive provides random access to one SquashFS image. All methods are
// safe for concurrent use; the archive is read-only after Open.
type Archive struct {
	src    ByteSource
	sb     *format.Superblock
	engine *compress.Engine
	meta   *meta.Store
	data   *blockcache.Cache

	frags  *fragmentTable
	ids    []uint32
	export *exportTable

	root   Inode
	logger *slog.Logger

	metaCacheBytes int64
	dataCacheBytes int64
	skipExport     bool
}

// Open validates the superblock and eagerly loads the bounded indirection
// tables (id, export, fragment). Any format violation here is fatal; later
// operations only ever fail individually.
func Open(ctx context.Context, src ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		src:            src,
		metaCacheBytes: DefaultMetadataCacheBytes,
		dataCacheBytes: DefaultDataCacheBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	hdr := make([]byte, format.SuperblockSize)
	if err := a.readAt(hdr, 0); err != nil {
		return nil, err
	}
	sb, err := format.DecodeSuperblock(hdr)
	if err != nil {
		return nil, err
	}
	if !compress.Supported(sb.Compression) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, sb.Compression)
	}
	a.sb = sb
	a.engine = compress.NewEngine()
	a.meta = meta.NewStore(src, a.engine, sb.Compression, blockcache.New(a.metaCacheBytes))
	a.data = blockcache.New(a.dataCacheBytes)

	if sb.HasFlag(format.FlagCompressorOptions) {
		if err := a.checkCompressorOptions(ctx); err != nil {
			return nil, err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.loadFragmentTable(gctx) })
	g.Go(func() error { return a.loadIDTable(gctx) })
	g.Go(func() error { return a.loadExportTable(gctx) })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	root, err := a.Stat(ctx, sb.RootInode)
	if err != nil {
		return nil, err
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("%w: root inode is not a directory", ErrCorrupt)
	}
	a.root = root

	a.log().Debug("archive opened",
		"inodes", sb.InodeCount,
		"block_size", sb.BlockSize,
		"compression", sb.Compression.String(),
		"fragments", sb.FragmentCount,
		"exportable", a.export != nil)
	return a, nil
}

// Root returns the root directory inode.
func (a *Archive) Root() Inode { return a.root }

// BlockSize returns the archive's data block size.
func (a *Archive) BlockSize() uint32 { return a.sb.BlockSize }

// InodeCount returns the number of inodes in the archive.
func (a *Archive) InodeCount() uint32 { return a.sb.InodeCount }

// Compression returns the archive's compression algorithm name.
func (a *Archive) Compression() string { return a.sb.Compression.String() }

// MetadataCacheStats returns counters for the metadata block cache.
func (a *Archive) MetadataCacheStats() CacheStats { return a.meta.Stats() }

// DataCacheStats returns counters for the data block cache.
func (a *Archive) DataCacheStats() CacheStats { return a.data.Stats() }

// Stat decodes the inode at ref. Errors are scoped to this call: a corrupt
// inode record does not poison the archive or its caches.
func (a *Archive) Stat(ctx context.Context, ref InodeRef) (Inode, error) {
	cur, err := meta.NewCursor(ctx, a.meta, int64(a.sb.InodeTable), ref)
	if err != nil {
		return Inode{}, err
	}
	raw, err := format.DecodeInode(cur, a.sb.BlockSize)
	if err != nil {
		return Inode{}, format.AtOffset(int64(a.sb.InodeTable)+ref.BlockStart(), err)
	}
	return a.buildInode(raw, ref)
}

// InodeByNumber resolves an inode number through the export table.
// Archives built without one return ErrNoExportTable.
func (a *Archive) InodeByNumber(ctx context.Context, number uint32) (Inode, error) {
	if a.export == nil {
		return Inode{}, ErrNoExportTable
	}
	if number < 1 || number > a.sb.InodeCount {
		return Inode{}, fmt.Errorf("%w: inode %d", ErrNotExist, number)
	}
	ref, err := a.export.lookup(ctx, a, number)
	if err != nil {
		return Inode{}, err
	}
	return a.Stat(ctx, ref)
}

// ReadLink returns the target of a symlink inode.
func (a *Archive) ReadLink(ino Inode) (string, error) {
	if ino.raw == nil {
		return "", ErrInvalidInode
	}
	if ino.raw.Symlink == nil {
		return "", ErrNotSymlink
	}
	return ino.raw.Symlink.Target, nil
}

func (a *Archive) buildInode(raw *format.Inode, ref InodeRef) (Inode, error) {
	uid, err := a.resolveID(raw.UIDIndex)
	if err != nil {
		return Inode{}, err
	}
	gid, err := a.resolveID(raw.GIDIndex)
	if err != nil {
		return Inode{}, err
	}
	return Inode{
		Number:    raw.Number,
		Ref:       ref,
		Mode:      modeOf(raw.Type, raw.Permissions),
		UID:       uid,
		GID:       gid,
		ModTime:   unixTime(raw.ModTime),
		Size:      sizeOf(raw),
		LinkCount: linkCountOf(raw),
		raw:       raw,
	}, nil
}

// checkCompressorOptions validates the optional compressor-options
// metadata block that follows the superblock.
func (a *Archive) checkCompressorOptions(ctx context.Context) error {
	data, _, err := a.meta.Block(ctx, format.SuperblockSize)
	if err != nil {
		return err
	}
	if want := a.sb.CompressorOptionsSize(); want >= 0 && len(data) != want {
		return format.AtOffset(format.SuperblockSize,
			fmt.Errorf("%w: compressor options block of %d bytes, want %d", ErrCorrupt, len(data), want))
	}
	return nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// readAt reads from the raw image, rejecting reads past its end.
func (a *Archive) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > a.src.Size() {
		return format.AtOffset(off, ErrTruncated)
	}
	if _, err := a.src.ReadAt(p, off); err != nil {
		return format.AtOffset(off, fmt.Errorf("%w: %v", ErrShortRead, err))
	}
	return nil
}
