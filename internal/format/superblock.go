// Package format implements the on-disk SquashFS v4.0 layout: superblock,
// inode variants, directory listings, fragment records, and the shared
// error taxonomy. All multi-byte fields are little-endian.
//
// The reference for field layouts is the SquashFS binary format
// documentation at https://dr-emann.github.io/squashfs/squashfs.html.
package format

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Magic identifies a SquashFS image ("hsqs" little-endian).
const Magic = 0x73717368

// SuperblockSize is the fixed size of the on-disk superblock.
const SuperblockSize = 96

// MetadataBlockSize is the maximum decompressed size of a metadata block.
const MetadataBlockSize = 8192

const (
	// MinBlockSize and MaxBlockSize bound the data block size.
	MinBlockSize = 4 << 10
	MaxBlockSize = 1 << 20
)

// InvalidTable marks an optional table as absent in the superblock.
const InvalidTable = ^uint64(0)

// Compression identifies the compression algorithm of an archive.
type Compression uint16

const (
	CompressionGzip Compression = iota + 1
	CompressionLZMA
	CompressionLZO
	CompressionXZ
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionLZMA:
		return "lzma"
	case CompressionLZO:
		return "lzo"
	case CompressionXZ:
		return "xz"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint16(c))
	}
}

// Superblock flags.
const (
	FlagUncompressedInodes    = 0x0001
	FlagUncompressedData      = 0x0002
	FlagCheck                 = 0x0004
	FlagUncompressedFragments = 0x0008
	FlagNoFragments           = 0x0010
	FlagAlwaysFragments       = 0x0020
	FlagDuplicates            = 0x0040
	FlagExportable            = 0x0080
	FlagUncompressedXattrs    = 0x0100
	FlagNoXattrs              = 0x0200
	FlagCompressorOptions     = 0x0400
	FlagUncompressedIDs       = 0x0800
)

// Superblock is the fixed 96-byte header at offset 0 of every archive.
// It is immutable once decoded.
type Superblock struct {
	InodeCount     uint32
	ModTime        uint32
	BlockSize      uint32
	FragmentCount  uint32
	Compression    Compression
	BlockLog       uint16
	Flags          uint16
	IDCount        uint16
	VersionMajor   uint16
	VersionMinor   uint16
	RootInode      Ref
	BytesUsed      uint64
	IDTable        uint64
	XattrTable     uint64
	InodeTable     uint64
	DirectoryTable uint64
	FragmentTable  uint64
	ExportTable    uint64
}

// DecodeSuperblock parses and validates the superblock. The buffer must be
// at least SuperblockSize bytes.
func DecodeSuperblock(b []byte) (*Superblock, error) {
	if len(b) < SuperblockSize {
		return nil, &OffsetError{Offset: 0, Err: ErrTruncated}
	}
	if binary.LittleEndian.Uint32(b[0:4]) != Magic {
		return nil, &OffsetError{Offset: 0, Err: ErrBadMagic}
	}
	sb := &Superblock{
		InodeCount:     binary.LittleEndian.Uint32(b[4:8]),
		ModTime:        binary.LittleEndian.Uint32(b[8:12]),
		BlockSize:      binary.LittleEndian.Uint32(b[12:16]),
		FragmentCount:  binary.LittleEndian.Uint32(b[16:20]),
		Compression:    Compression(binary.LittleEndian.Uint16(b[20:22])),
		BlockLog:       binary.LittleEndian.Uint16(b[22:24]),
		Flags:          binary.LittleEndian.Uint16(b[24:26]),
		IDCount:        binary.LittleEndian.Uint16(b[26:28]),
		VersionMajor:   binary.LittleEndian.Uint16(b[28:30]),
		VersionMinor:   binary.LittleEndian.Uint16(b[30:32]),
		RootInode:      Ref(binary.LittleEndian.Uint64(b[32:40])),
		BytesUsed:      binary.LittleEndian.Uint64(b[40:48]),
		IDTable:        binary.LittleEndian.Uint64(b[48:56]),
		XattrTable:     binary.LittleEndian.Uint64(b[56:64]),
		InodeTable:     binary.LittleEndian.Uint64(b[64:72]),
		DirectoryTable: binary.LittleEndian.Uint64(b[72:80]),
		FragmentTable:  binary.LittleEndian.Uint64(b[80:88]),
		ExportTable:    binary.LittleEndian.Uint64(b[88:96]),
	}
	if sb.VersionMajor != 4 || sb.VersionMinor != 0 {
		return nil, &OffsetError{Offset: 28, Err: ErrUnsupportedVersion}
	}
	if err := sb.validateBlockSize(); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *Superblock) validateBlockSize() error {
	bs := sb.BlockSize
	if bs < MinBlockSize || bs > MaxBlockSize || bits.OnesCount32(bs) != 1 {
		return &OffsetError{Offset: 12, Err: ErrInconsistentBlockSize}
	}
	if uint32(1)<<sb.BlockLog != bs {
		return &OffsetError{Offset: 22, Err: ErrInconsistentBlockSize}
	}
	return nil
}

// HasFlag reports whether the given superblock flag is set.
func (sb *Superblock) HasFlag(flag uint16) bool {
	return sb.Flags&flag != 0
}

// CompressorOptionsSize returns the expected payload size of the optional
// compressor-options metadata block for the archive's algorithm, or -1 when
// the size is not fixed (unsupported algorithms are rejected elsewhere).
func (sb *Superblock) CompressorOptionsSize() int {
	switch sb.Compression {
	case CompressionGzip, CompressionXZ, CompressionLZ4:
		return 8
	case CompressionZstd:
		return 4
	default:
		return -1
	}
}
