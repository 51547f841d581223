package format

import (
	"encoding/binary"
	"fmt"
)

// InodeType is the on-disk inode type code.
type InodeType uint16

const (
	InodeBasicDir InodeType = iota + 1
	InodeBasicFile
	InodeBasicSymlink
	InodeBasicBlockDev
	InodeBasicCharDev
	InodeBasicFifo
	InodeBasicSocket
	InodeExtDir
	InodeExtFile
	InodeExtSymlink
	InodeExtBlockDev
	InodeExtCharDev
	InodeExtFifo
	InodeExtSocket
)

func (t InodeType) String() string {
	switch t {
	case InodeBasicDir, InodeExtDir:
		return "directory"
	case InodeBasicFile, InodeExtFile:
		return "file"
	case InodeBasicSymlink, InodeExtSymlink:
		return "symlink"
	case InodeBasicBlockDev, InodeExtBlockDev:
		return "block device"
	case InodeBasicCharDev, InodeExtCharDev:
		return "char device"
	case InodeBasicFifo, InodeExtFifo:
		return "fifo"
	case InodeBasicSocket, InodeExtSocket:
		return "socket"
	default:
		return fmt.Sprintf("inode type %d", uint16(t))
	}
}

// IsDir reports whether the type code is a directory variant.
func (t InodeType) IsDir() bool {
	return t == InodeBasicDir || t == InodeExtDir
}

// IsFile reports whether the type code is a regular file variant.
func (t InodeType) IsFile() bool {
	return t == InodeBasicFile || t == InodeExtFile
}

// IsSymlink reports whether the type code is a symlink variant.
func (t InodeType) IsSymlink() bool {
	return t == InodeBasicSymlink || t == InodeExtSymlink
}

// FragmentNone marks a file inode as having no tail fragment.
const FragmentNone = 0xFFFFFFFF

// InodeHeaderSize is the fixed size of the common inode header.
const InodeHeaderSize = 16

// InodeHeader is the 16-byte header shared by every inode variant.
type InodeHeader struct {
	Type        InodeType
	Permissions uint16
	UIDIndex    uint16
	GIDIndex    uint16
	ModTime     uint32
	Number      uint32
}

// ByteReader delivers exact-length reads from a metadata cursor. Decode
// functions consume precisely the bytes of the record they parse, leaving
// the reader positioned at the next record.
type ByteReader interface {
	ReadExact(n int) ([]byte, error)
}

// Inode is the decoded tagged union over all inode variants. Type selects
// which of the variant pointers is set; exactly one is non-nil.
type Inode struct {
	InodeHeader

	Dir     *DirInode
	File    *FileInode
	Symlink *SymlinkInode
	Device  *DeviceInode
	IPC     *IPCInode
}

// DirInode holds the directory variant fields. Size is the byte length
// field of the directory listing (which includes the format's implicit
// 3-byte "." and ".." accounting).
type DirInode struct {
	BlockStart  uint32
	BlockOffset uint16
	Size        uint32
	ParentInode uint32
	LinkCount   uint32
	IndexCount  uint16
	XattrIndex  uint32
}

// ListingRef returns the location of the listing in the directory table.
func (d *DirInode) ListingRef() Ref {
	return NewRef(int64(d.BlockStart), d.BlockOffset)
}

// ListingSize returns the number of listing bytes to consume, compensating
// for the 3 phantom bytes included in the stored size.
func (d *DirInode) ListingSize() int64 {
	if d.Size < 3 {
		return 0
	}
	return int64(d.Size) - 3
}

// FileInode holds the regular-file variant fields plus the trailing
// per-block size array.
type FileInode struct {
	BlocksStart    uint64
	Size           uint64
	Sparse         uint64
	LinkCount      uint32
	FragmentIndex  uint32
	FragmentOffset uint32
	XattrIndex     uint32
	BlockSizes     []BlockSize
}

// HasFragment reports whether the file's tail is packed into a shared
// fragment block.
func (f *FileInode) HasFragment() bool {
	return f.FragmentIndex != FragmentNone
}

// TailSize returns the byte length of the fragment tail, zero when the
// file has none.
func (f *FileInode) TailSize(blockSize uint32) int64 {
	if !f.HasFragment() {
		return 0
	}
	return int64(f.Size % uint64(blockSize))
}

// BlockCount returns the number of full data blocks: ceil(size/blockSize),
// minus one when the final partial block lives in a fragment.
func (f *FileInode) BlockCount(blockSize uint32) int {
	bs := uint64(blockSize)
	if f.HasFragment() {
		return int(f.Size / bs)
	}
	return int((f.Size + bs - 1) / bs)
}

// SymlinkInode holds the symlink variant fields.
type SymlinkInode struct {
	LinkCount  uint32
	Target     string
	XattrIndex uint32
}

// DeviceInode holds the block/char device variant fields. The device
// number packs major and minor in the kernel's legacy 16-bit encoding.
type DeviceInode struct {
	LinkCount  uint32
	Device     uint32
	XattrIndex uint32
}

// IPCInode holds the fifo/socket variant fields.
type IPCInode struct {
	LinkCount  uint32
	XattrIndex uint32
}

// DecodeInodeHeader parses the common 16-byte inode header.
func DecodeInodeHeader(b []byte) (InodeHeader, error) {
	if len(b) < InodeHeaderSize {
		return InodeHeader{}, ErrTruncated
	}
	return InodeHeader{
		Type:        InodeType(binary.LittleEndian.Uint16(b[0:2])),
		Permissions: binary.LittleEndian.Uint16(b[2:4]),
		UIDIndex:    binary.LittleEndian.Uint16(b[4:6]),
		GIDIndex:    binary.LittleEndian.Uint16(b[6:8]),
		ModTime:     binary.LittleEndian.Uint32(b[8:12]),
		Number:      binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// DecodeInode reads one complete inode record, header plus variant fields,
// from r. File variants additionally consume the trailing per-block size
// array, whose length derives from the file size and the archive block
// size. Unrecognized type codes fail with ErrUnknownInodeType; the reader
// position is then unspecified.
func DecodeInode(r ByteReader, blockSize uint32) (*Inode, error) {
	hb, err := r.ReadExact(InodeHeaderSize)
	if err != nil {
		return nil, err
	}
	header, err := DecodeInodeHeader(hb)
	if err != nil {
		return nil, err
	}
	ino := &Inode{InodeHeader: header}

	switch header.Type {
	case InodeBasicDir:
		err = ino.decodeBasicDir(r)
	case InodeExtDir:
		err = ino.decodeExtDir(r)
	case InodeBasicFile:
		err = ino.decodeBasicFile(r, blockSize)
	case InodeExtFile:
		err = ino.decodeExtFile(r, blockSize)
	case InodeBasicSymlink, InodeExtSymlink:
		err = ino.decodeSymlink(r, header.Type == InodeExtSymlink)
	case InodeBasicBlockDev, InodeBasicCharDev, InodeExtBlockDev, InodeExtCharDev:
		extended := header.Type == InodeExtBlockDev || header.Type == InodeExtCharDev
		err = ino.decodeDevice(r, extended)
	case InodeBasicFifo, InodeBasicSocket, InodeExtFifo, InodeExtSocket:
		extended := header.Type == InodeExtFifo || header.Type == InodeExtSocket
		err = ino.decodeIPC(r, extended)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownInodeType, uint16(header.Type))
	}
	if err != nil {
		return nil, err
	}
	return ino, nil
}

func (ino *Inode) decodeBasicDir(r ByteReader) error {
	b, err := r.ReadExact(16)
	if err != nil {
		return err
	}
	ino.Dir = &DirInode{
		BlockStart:  binary.LittleEndian.Uint32(b[0:4]),
		LinkCount:   binary.LittleEndian.Uint32(b[4:8]),
		Size:        uint32(binary.LittleEndian.Uint16(b[8:10])),
		BlockOffset: binary.LittleEndian.Uint16(b[10:12]),
		ParentInode: binary.LittleEndian.Uint32(b[12:16]),
	}
	return nil
}

func (ino *Inode) decodeExtDir(r ByteReader) error {
	b, err := r.ReadExact(24)
	if err != nil {
		return err
	}
	d := &DirInode{
		LinkCount:   binary.LittleEndian.Uint32(b[0:4]),
		Size:        binary.LittleEndian.Uint32(b[4:8]),
		BlockStart:  binary.LittleEndian.Uint32(b[8:12]),
		ParentInode: binary.LittleEndian.Uint32(b[12:16]),
		IndexCount:  binary.LittleEndian.Uint16(b[16:18]),
		BlockOffset: binary.LittleEndian.Uint16(b[18:20]),
		XattrIndex:  binary.LittleEndian.Uint32(b[20:24]),
	}
	// The directory index records are seek hints only; consume and drop.
	for i := 0; i < int(d.IndexCount); i++ {
		ib, err := r.ReadExact(12)
		if err != nil {
			return err
		}
		nameSize := int(binary.LittleEndian.Uint32(ib[8:12]))
		if _, err := r.ReadExact(nameSize + 1); err != nil {
			return err
		}
	}
	ino.Dir = d
	return nil
}

func (ino *Inode) decodeBasicFile(r ByteReader, blockSize uint32) error {
	b, err := r.ReadExact(16)
	if err != nil {
		return err
	}
	f := &FileInode{
		BlocksStart:    uint64(binary.LittleEndian.Uint32(b[0:4])),
		FragmentIndex:  binary.LittleEndian.Uint32(b[4:8]),
		FragmentOffset: binary.LittleEndian.Uint32(b[8:12]),
		Size:           uint64(binary.LittleEndian.Uint32(b[12:16])),
		LinkCount:      1,
	}
	if err := f.decodeBlockSizes(r, blockSize); err != nil {
		return err
	}
	ino.File = f
	return nil
}

func (ino *Inode) decodeExtFile(r ByteReader, blockSize uint32) error {
	b, err := r.ReadExact(40)
	if err != nil {
		return err
	}
	f := &FileInode{
		BlocksStart:    binary.LittleEndian.Uint64(b[0:8]),
		Size:           binary.LittleEndian.Uint64(b[8:16]),
		Sparse:         binary.LittleEndian.Uint64(b[16:24]),
		LinkCount:      binary.LittleEndian.Uint32(b[24:28]),
		FragmentIndex:  binary.LittleEndian.Uint32(b[28:32]),
		FragmentOffset: binary.LittleEndian.Uint32(b[32:36]),
		XattrIndex:     binary.LittleEndian.Uint32(b[36:40]),
	}
	if err := f.decodeBlockSizes(r, blockSize); err != nil {
		return err
	}
	ino.File = f
	return nil
}

func (f *FileInode) decodeBlockSizes(r ByteReader, blockSize uint32) error {
	n := f.BlockCount(blockSize)
	if n == 0 {
		return nil
	}
	b, err := r.ReadExact(4 * n)
	if err != nil {
		return err
	}
	f.BlockSizes = make([]BlockSize, n)
	for i := range f.BlockSizes {
		v := BlockSize(binary.LittleEndian.Uint32(b[4*i : 4*i+4]))
		if v.Size() > int64(blockSize) {
			return fmt.Errorf("%w: data block size %d exceeds block size %d", ErrCorrupt, v.Size(), blockSize)
		}
		f.BlockSizes[i] = v
	}
	return nil
}

func (ino *Inode) decodeSymlink(r ByteReader, extended bool) error {
	b, err := r.ReadExact(8)
	if err != nil {
		return err
	}
	s := &SymlinkInode{LinkCount: binary.LittleEndian.Uint32(b[0:4])}
	targetSize := int(binary.LittleEndian.Uint32(b[4:8]))
	target, err := r.ReadExact(targetSize)
	if err != nil {
		return err
	}
	s.Target = string(target)
	if extended {
		xb, err := r.ReadExact(4)
		if err != nil {
			return err
		}
		s.XattrIndex = binary.LittleEndian.Uint32(xb)
	}
	ino.Symlink = s
	return nil
}

func (ino *Inode) decodeDevice(r ByteReader, extended bool) error {
	n := 8
	if extended {
		n = 12
	}
	b, err := r.ReadExact(n)
	if err != nil {
		return err
	}
	d := &DeviceInode{
		LinkCount: binary.LittleEndian.Uint32(b[0:4]),
		Device:    binary.LittleEndian.Uint32(b[4:8]),
	}
	if extended {
		d.XattrIndex = binary.LittleEndian.Uint32(b[8:12])
	}
	ino.Device = d
	return nil
}

func (ino *Inode) decodeIPC(r ByteReader, extended bool) error {
	n := 4
	if extended {
		n = 8
	}
	b, err := r.ReadExact(n)
	if err != nil {
		return err
	}
	p := &IPCInode{LinkCount: binary.LittleEndian.Uint32(b[0:4])}
	if extended {
		p.XattrIndex = binary.LittleEndian.Uint32(b[4:8])
	}
	ino.IPC = p
	return nil
}
