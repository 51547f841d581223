package format

import (
	"encoding/binary"
	"fmt"
)

// DirHeaderSize is the fixed size of a directory listing group header.
const DirHeaderSize = 12

// MaxDirEntryName bounds directory entry names, per the format.
const MaxDirEntryName = 256

// DirHeader precedes each run of directory entries. Count is stored as the
// entry count minus one; InodeBase seeds the per-entry signed deltas.
type DirHeader struct {
	Count      uint32
	BlockStart uint32
	InodeBase  uint32
}

// Entries returns the number of entries following the header.
func (h DirHeader) Entries() int { return int(h.Count) + 1 }

// DecodeDirHeader parses a 12-byte directory group header.
func DecodeDirHeader(b []byte) (DirHeader, error) {
	if len(b) < DirHeaderSize {
		return DirHeader{}, ErrTruncated
	}
	h := DirHeader{
		Count:      binary.LittleEndian.Uint32(b[0:4]),
		BlockStart: binary.LittleEndian.Uint32(b[4:8]),
		InodeBase:  binary.LittleEndian.Uint32(b[8:12]),
	}
	if h.Count >= MetadataBlockSize {
		return DirHeader{}, fmt.Errorf("%w: directory group of %d entries", ErrCorrupt, h.Entries())
	}
	return h, nil
}

// DirEntry is one decoded directory entry with its group header applied:
// the inode number and metadata reference are absolute.
type DirEntry struct {
	Name        string
	Type        InodeType
	InodeNumber uint32
	Ref         Ref
}

// IsDir reports whether the entry names a directory.
func (e DirEntry) IsDir() bool { return e.Type.IsDir() }

// DecodeDirEntry reads one directory entry from r and resolves it against
// its group header.
func DecodeDirEntry(r ByteReader, h DirHeader) (DirEntry, error) {
	b, err := r.ReadExact(8)
	if err != nil {
		return DirEntry{}, err
	}
	offset := binary.LittleEndian.Uint16(b[0:2])
	delta := int16(binary.LittleEndian.Uint16(b[2:4]))
	typ := InodeType(binary.LittleEndian.Uint16(b[4:6]))
	nameSize := int(binary.LittleEndian.Uint16(b[6:8])) + 1
	if nameSize > MaxDirEntryName {
		return DirEntry{}, fmt.Errorf("%w: directory entry name of %d bytes", ErrCorrupt, nameSize)
	}
	name, err := r.ReadExact(nameSize)
	if err != nil {
		return DirEntry{}, err
	}
	num := int64(h.InodeBase) + int64(delta)
	if num < 1 {
		return DirEntry{}, fmt.Errorf("%w: directory entry inode number %d", ErrCorrupt, num)
	}
	return DirEntry{
		Name:        string(name),
		Type:        typ,
		InodeNumber: uint32(num),
		Ref:         NewRef(int64(h.BlockStart), offset),
	}, nil
}
