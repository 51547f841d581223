package squashfs

import (
	"errors"

	"github.com/meigma/squashfs/internal/compress"
	"github.com/meigma/squashfs/internal/format"
)

// Format errors re-exported from internal/format. A format error during
// Open is fatal; one encountered by a later operation is scoped to that
// operation and never poisons the shared archive handle or its caches.
var (
	// ErrBadMagic is returned when the superblock magic does not match.
	ErrBadMagic = format.ErrBadMagic

	// ErrUnsupportedVersion is returned for archive versions other than 4.0.
	ErrUnsupportedVersion = format.ErrUnsupportedVersion

	// ErrInconsistentBlockSize is returned when the superblock block size is
	// invalid or disagrees with the block log.
	ErrInconsistentBlockSize = format.ErrInconsistentBlockSize

	// ErrUnknownInodeType is returned when an inode record carries an
	// unrecognized type code.
	ErrUnknownInodeType = format.ErrUnknownInodeType

	// ErrTruncated is returned when a structure extends past the end of
	// the archive.
	ErrTruncated = format.ErrTruncated

	// ErrCorrupt is returned when a decoded structure violates a format
	// invariant.
	ErrCorrupt = format.ErrCorrupt

	// ErrShortRead is returned when the storage backend delivers fewer
	// bytes than requested.
	ErrShortRead = format.ErrShortRead
)

// Decompression errors re-exported from internal/compress.
var (
	// ErrDecompression is returned when a compressed block fails to decode.
	ErrDecompression = compress.ErrDecompression

	// ErrOutputTooLarge is returned when a block decompresses past its
	// known uncompressed size.
	ErrOutputTooLarge = compress.ErrOutputTooLarge

	// ErrUnsupportedCompression is returned for compression algorithms the
	// engine does not handle.
	ErrUnsupportedCompression = compress.ErrUnsupportedCompression
)

// ErrNotExist is returned by Lookup and InodeByNumber for names or inode
// numbers not present in the archive. It matches fs.ErrNotExist under
// errors.Is; it is an expected outcome, not a sign of corruption.
var ErrNotExist = format.ErrNotExist

// Sentinel errors specific to the archive facade.
var (
	// ErrNotDirectory is returned when a directory operation is applied to
	// a non-directory inode.
	ErrNotDirectory = errors.New("squashfs: not a directory")

	// ErrNotRegularFile is returned when ReadFile is applied to a
	// non-file inode.
	ErrNotRegularFile = errors.New("squashfs: not a regular file")

	// ErrNotSymlink is returned when ReadLink is applied to a non-symlink.
	ErrNotSymlink = errors.New("squashfs: not a symlink")

	// ErrInvalidInode is returned when an operation receives a zero Inode
	// or one that was not produced by this archive.
	ErrInvalidInode = errors.New("squashfs: invalid inode")

	// ErrNoExportTable is returned by InodeByNumber when the archive was
	// built without an export table.
	ErrNoExportTable = errors.New("squashfs: archive has no export table")
)

// OffsetError attaches the archive offset that triggered an I/O,
// decompression, or format error. Retrieve it with errors.As.
type OffsetError = format.OffsetError
