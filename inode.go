package squashfs

import (
	"io/fs"
	"time"

	"github.com/meigma/squashfs/internal/format"
)

// InodeRef is a 48-bit pointer to an inode record: the offset of its
// metadata block within the inode table plus the byte offset inside the
// decompressed block.
type InodeRef = format.Ref

// Inode is a fully decoded inode. Inodes are produced by Root, Lookup,
// Stat, and InodeByNumber of the archive they belong to; the zero value is
// not valid. Inode numbers are 1-based and dense up to the superblock's
// inode count.
type Inode struct {
	// Number is the archive-wide inode number.
	Number uint32

	// Ref locates the inode record in the inode table.
	Ref InodeRef

	// Mode holds the file type bits and permission bits.
	Mode fs.FileMode

	// UID and GID are the numeric owner ids, resolved through the archive
	// id table.
	UID uint32
	GID uint32

	// ModTime is the inode modification time.
	ModTime time.Time

	// Size is the file size for regular files, the listing byte length for
	// directories, and the target length for symlinks.
	Size int64

	// LinkCount is the hard link count.
	LinkCount uint32

	raw *format.Inode
}

// IsDir reports whether the inode is a directory.
func (i Inode) IsDir() bool { return i.Mode.IsDir() }

// IsRegular reports whether the inode is a regular file.
func (i Inode) IsRegular() bool { return i.Mode.IsRegular() }

// IsSymlink reports whether the inode is a symbolic link.
func (i Inode) IsSymlink() bool { return i.Mode&fs.ModeSymlink != 0 }

// ParentInode returns the parent directory's inode number, valid for
// directory inodes only. Parent links are numbers, not references; resolve
// them through the export table or by walking from the root.
func (i Inode) ParentInode() (uint32, bool) {
	if i.raw == nil || i.raw.Dir == nil {
		return 0, false
	}
	return i.raw.Dir.ParentInode, true
}

// SparseBytes returns the number of bytes saved by sparse blocks, recorded
// only on extended file inodes; basic file inodes report zero.
func (i Inode) SparseBytes() (uint64, bool) {
	if i.raw == nil || i.raw.File == nil {
		return 0, false
	}
	return i.raw.File.Sparse, true
}

// Device returns the packed device number of a block or character device
// inode.
func (i Inode) Device() (uint32, bool) {
	if i.raw == nil || i.raw.Device == nil {
		return 0, false
	}
	return i.raw.Device.Device, true
}

func modeOf(t format.InodeType, permissions uint16) fs.FileMode {
	mode := fs.FileMode(permissions & 0o777)
	switch t {
	case format.InodeBasicDir, format.InodeExtDir:
		mode |= fs.ModeDir
	case format.InodeBasicSymlink, format.InodeExtSymlink:
		mode |= fs.ModeSymlink
	case format.InodeBasicBlockDev, format.InodeExtBlockDev:
		mode |= fs.ModeDevice
	case format.InodeBasicCharDev, format.InodeExtCharDev:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case format.InodeBasicFifo, format.InodeExtFifo:
		mode |= fs.ModeNamedPipe
	case format.InodeBasicSocket, format.InodeExtSocket:
		mode |= fs.ModeSocket
	}
	return mode
}

func sizeOf(ino *format.Inode) int64 {
	switch {
	case ino.File != nil:
		return int64(ino.File.Size)
	case ino.Dir != nil:
		return ino.Dir.ListingSize()
	case ino.Symlink != nil:
		return int64(len(ino.Symlink.Target))
	default:
		return 0
	}
}

func unixTime(secs uint32) time.Time {
	return time.Unix(int64(secs), 0).UTC()
}

func linkCountOf(ino *format.Inode) uint32 {
	switch {
	case ino.File != nil:
		return ino.File.LinkCount
	case ino.Dir != nil:
		return ino.Dir.LinkCount
	case ino.Symlink != nil:
		return ino.Symlink.LinkCount
	case ino.Device != nil:
		return ino.Device.LinkCount
	case ino.IPC != nil:
		return ino.IPC.LinkCount
	default:
		return 0
	}
}
