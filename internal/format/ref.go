package format

import "fmt"

// Ref is a 48-bit pointer into a chain of metadata blocks: the upper bits
// hold the offset of the block's 2-byte length header relative to the start
// of the owning table, the low 16 bits the byte offset inside the
// decompressed block.
type Ref uint64

// NewRef builds a Ref from a block offset and an in-block byte offset.
func NewRef(blockStart int64, offset uint16) Ref {
	return Ref(uint64(blockStart)<<16 | uint64(offset))
}

// BlockStart returns the metadata block offset relative to the table start.
func (r Ref) BlockStart() int64 { return int64(r >> 16) }

// Offset returns the byte offset inside the decompressed block.
func (r Ref) Offset() uint16 { return uint16(r & 0xFFFF) }

func (r Ref) String() string {
	return fmt.Sprintf("ref(%#x+%d)", r.BlockStart(), r.Offset())
}

// BlockSize is the recorded on-disk size of one data or fragment block.
// Bit 24 flags the block as stored uncompressed; the low 24 bits are the
// byte size. A value of zero denotes a sparse block.
type BlockSize uint32

// BlockUncompressed is the stored-uncompressed flag bit.
const BlockUncompressed = 1 << 24

// Compressed reports whether the block must run through the decompressor.
func (b BlockSize) Compressed() bool { return b&BlockUncompressed == 0 }

// Size returns the on-disk byte size of the block.
func (b BlockSize) Size() int64 { return int64(b & 0xFFFFFF) }

// Sparse reports whether the block has no stored bytes and reads as zeros.
func (b BlockSize) Sparse() bool { return b == 0 }

// MetadataHeader describes the 2-byte header that precedes every metadata
// block: low 15 bits are the payload size, the high bit flags the payload
// as stored uncompressed.
const (
	MetadataSizeMask         = 0x7FFF
	MetadataUncompressedFlag = 0x8000
)
