package format

import "encoding/binary"

// FragmentEntrySize is the fixed size of one fragment table record.
const FragmentEntrySize = 16

// FragmentsPerBlock is the number of fragment records packed into one
// metadata block of the fragment table.
const FragmentsPerBlock = MetadataBlockSize / FragmentEntrySize

// FragmentEntry locates one shared fragment block in the archive.
type FragmentEntry struct {
	Start uint64
	Size  BlockSize
	// trailing 4 bytes are reserved
}

// DecodeFragmentEntry parses a 16-byte fragment table record.
func DecodeFragmentEntry(b []byte) (FragmentEntry, error) {
	if len(b) < FragmentEntrySize {
		return FragmentEntry{}, ErrTruncated
	}
	return FragmentEntry{
		Start: binary.LittleEndian.Uint64(b[0:8]),
		Size:  BlockSize(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// IDsPerBlock is the number of 32-bit uid/gid records per metadata block
// of the id table.
const IDsPerBlock = MetadataBlockSize / 4

// RefsPerBlock is the number of 64-bit inode references per metadata block
// of the export table.
const RefsPerBlock = MetadataBlockSize / 8
