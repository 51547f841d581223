package format

import (
	"errors"
	"fmt"
	"io/fs"
)

// Format errors. A format error during superblock parsing is fatal to
// opening the archive; encountered later it is scoped to the single
// operation that hit it.
var (
	// ErrBadMagic is returned when the superblock magic does not match.
	ErrBadMagic = errors.New("squashfs: bad magic")

	// ErrUnsupportedVersion is returned for archive versions other than 4.0.
	ErrUnsupportedVersion = errors.New("squashfs: unsupported version")

	// ErrInconsistentBlockSize is returned when the superblock block size is
	// not a power of two in range, or disagrees with the block log.
	ErrInconsistentBlockSize = errors.New("squashfs: inconsistent block size")

	// ErrUnknownInodeType is returned for unrecognized inode type codes.
	ErrUnknownInodeType = errors.New("squashfs: unknown inode type")

	// ErrTruncated is returned when a structure extends past the end of
	// the archive or of its enclosing block.
	ErrTruncated = errors.New("squashfs: truncated archive")

	// ErrCorrupt is returned when a decoded structure violates a format
	// invariant that is not covered by a more specific error.
	ErrCorrupt = errors.New("squashfs: corrupt structure")
)

// ErrNotExist is returned by lookups for names or inode numbers that are
// not present. It matches fs.ErrNotExist under errors.Is.
var ErrNotExist = fmt.Errorf("squashfs: %w", fs.ErrNotExist)

// ErrShortRead is returned when the storage backend delivers fewer bytes
// than requested, including reads past the end of the source.
var ErrShortRead = errors.New("squashfs: short read")

// OffsetError attaches the archive offset that triggered an error, for
// diagnosis of corrupt or truncated images.
type OffsetError struct {
	Offset int64
	Err    error
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("offset %#x: %v", e.Offset, e.Err)
}

func (e *OffsetError) Unwrap() error { return e.Err }

// AtOffset wraps err with the archive offset it was triggered at. A nil
// err stays nil; an err already carrying an offset is returned unchanged
// so the innermost location wins.
func AtOffset(off int64, err error) error {
	if err == nil {
		return nil
	}
	var oe *OffsetError
	if errors.As(err, &oe) {
		return err
	}
	return &OffsetError{Offset: off, Err: err}
}
