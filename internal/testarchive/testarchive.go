// Package testarchive builds small SquashFS v4.0 images in memory so tests
// can exercise the reader against known trees without fixture files.
//
// The builder favors determinism over fidelity to any particular mksquashfs
// version: inode numbers are assigned bottom-up with the root last, tables
// are emitted in a fixed order, and timestamps default to a constant.
package testarchive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/meigma/squashfs/internal/format"
)

// DefaultModTime is the fixed timestamp stamped on every inode and the
// superblock unless overridden.
const DefaultModTime = 1700000000

// Builder accumulates a filesystem tree and serializes it with Build.
// Methods record the first error and Build reports it; this keeps test
// setup free of per-call error handling.
type Builder struct {
	blockSize   uint32
	compression format.Compression
	modTime     uint32
	noExport    bool
	noFragments bool
	compOptions bool

	root  *node
	nodes map[string]*node
	err   error
}

type node struct {
	name     string
	typ      format.InodeType
	perm     uint16
	uid      uint32
	gid      uint32
	modTime  uint32
	extended bool

	data   []byte
	target string
	device uint32

	parent   *node
	children []*node

	// assigned during Build
	number      uint32
	ref         format.Ref
	blocksStart uint64
	blockSizes  []format.BlockSize
	fragIndex   uint32
	fragOffset  uint32
}

// Option configures the Builder.
type Option func(*Builder)

// WithBlockSize sets the data block size (default 128 KiB).
func WithBlockSize(size uint32) Option {
	return func(b *Builder) { b.blockSize = size }
}

// WithCompression selects the compression algorithm (default gzip).
func WithCompression(c format.Compression) Option {
	return func(b *Builder) { b.compression = c }
}

// WithoutExport omits the export table.
func WithoutExport() Option {
	return func(b *Builder) { b.noExport = true }
}

// WithoutFragments stores file tails as short data blocks instead of
// packing them into shared fragment blocks.
func WithoutFragments() Option {
	return func(b *Builder) { b.noFragments = true }
}

// WithCompressorOptions emits the optional compressor-options metadata
// block after the superblock and sets the corresponding flag.
func WithCompressorOptions() Option {
	return func(b *Builder) { b.compOptions = true }
}

// NodeOption configures a single tree entry.
type NodeOption func(*node)

// Mode sets the permission bits (default 0644, directories 0755).
func Mode(perm uint16) NodeOption {
	return func(n *node) { n.perm = perm }
}

// Owner sets the uid and gid (default 0/0).
func Owner(uid, gid uint32) NodeOption {
	return func(n *node) { n.uid = uid; n.gid = gid }
}

// ModTime sets the inode timestamp.
func ModTime(t uint32) NodeOption {
	return func(n *node) { n.modTime = t }
}

// Extended serializes the entry with its extended inode variant.
func Extended() NodeOption {
	return func(n *node) { n.extended = true }
}

// New returns a Builder with an empty root directory.
func New(opts ...Option) *Builder {
	b := &Builder{
		blockSize:   128 << 10,
		compression: format.CompressionGzip,
		modTime:     DefaultModTime,
		nodes:       make(map[string]*node),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.root = &node{typ: format.InodeBasicDir, perm: 0o755, modTime: b.modTime}
	b.nodes[""] = b.root
	return b
}

// Dir adds a directory, creating missing parents.
func (b *Builder) Dir(path string, opts ...NodeOption) *Builder {
	b.add(path, format.InodeBasicDir, 0o755, opts)
	return b
}

// File adds a regular file with the given content.
func (b *Builder) File(path string, data []byte, opts ...NodeOption) *Builder {
	n := b.add(path, format.InodeBasicFile, 0o644, opts)
	if n != nil {
		n.data = data
	}
	return b
}

// Symlink adds a symbolic link.
func (b *Builder) Symlink(path, target string, opts ...NodeOption) *Builder {
	n := b.add(path, format.InodeBasicSymlink, 0o777, opts)
	if n != nil {
		n.target = target
	}
	return b
}

// CharDevice adds a character device with the packed device number.
func (b *Builder) CharDevice(path string, device uint32, opts ...NodeOption) *Builder {
	n := b.add(path, format.InodeBasicCharDev, 0o644, opts)
	if n != nil {
		n.device = device
	}
	return b
}

// BlockDevice adds a block device with the packed device number.
func (b *Builder) BlockDevice(path string, device uint32, opts ...NodeOption) *Builder {
	n := b.add(path, format.InodeBasicBlockDev, 0o644, opts)
	if n != nil {
		n.device = device
	}
	return b
}

// Fifo adds a named pipe.
func (b *Builder) Fifo(path string, opts ...NodeOption) *Builder {
	b.add(path, format.InodeBasicFifo, 0o644, opts)
	return b
}

// Socket adds a unix socket.
func (b *Builder) Socket(path string, opts ...NodeOption) *Builder {
	b.add(path, format.InodeBasicSocket, 0o644, opts)
	return b
}

func (b *Builder) add(path string, typ format.InodeType, perm uint16, opts []NodeOption) *node {
	if b.err != nil {
		return nil
	}
	path = strings.Trim(path, "/")
	if path == "" {
		b.err = fmt.Errorf("testarchive: empty path")
		return nil
	}
	if _, ok := b.nodes[path]; ok {
		b.err = fmt.Errorf("testarchive: duplicate path %q", path)
		return nil
	}
	parent := b.ensureDir(parentPath(path))
	if parent == nil {
		return nil
	}
	name := path[strings.LastIndexByte(path, '/')+1:]
	if len(name) > format.MaxDirEntryName {
		b.err = fmt.Errorf("testarchive: name %q too long", name)
		return nil
	}
	n := &node{name: name, typ: typ, perm: perm, modTime: b.modTime, parent: parent}
	for _, opt := range opts {
		opt(n)
	}
	parent.children = append(parent.children, n)
	b.nodes[path] = n
	return n
}

func (b *Builder) ensureDir(path string) *node {
	if n, ok := b.nodes[path]; ok {
		if n.typ != format.InodeBasicDir {
			b.err = fmt.Errorf("testarchive: %q is not a directory", path)
			return nil
		}
		return n
	}
	return b.add(path, format.InodeBasicDir, 0o755, nil)
}

func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return ""
}

// Build serializes the tree into a complete image.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	w := &imageWriter{
		b:    b,
		comp: newCompressor(b.compression),
	}
	return w.build()
}

// imageWriter holds the single-use serialization state of one Build call.
type imageWriter struct {
	b    *Builder
	comp compressor

	out bytes.Buffer

	order []*node // post-order, root last

	fragBuf     bytes.Buffer
	fragEntries []format.FragmentEntry
}

func (w *imageWriter) build() ([]byte, error) {
	w.out.Write(make([]byte, format.SuperblockSize))

	w.number(w.b.root)

	ids, idIndex := w.collectIDs()

	if w.b.compOptions {
		w.writeCompressorOptions()
	}
	if err := w.writeData(); err != nil {
		return nil, err
	}

	inodes := newMetaWriter(w.comp)
	dirs := newMetaWriter(w.comp)
	for _, n := range w.order {
		if err := w.writeInode(n, inodes, dirs, idIndex); err != nil {
			return nil, err
		}
	}
	inodes.flush()
	dirs.flush()

	inodeTable := w.out.Len()
	w.out.Write(inodes.out.Bytes())
	dirTable := w.out.Len()
	w.out.Write(dirs.out.Bytes())

	fragTable := w.writeFragmentTable()
	exportTable := w.writeExportTable()
	idTable := w.writeIDTable(ids)

	img := w.out.Bytes()
	w.writeSuperblock(img, superblockLayout{
		idCount:     uint16(len(ids)),
		inodeTable:  uint64(inodeTable),
		dirTable:    uint64(dirTable),
		fragTable:   fragTable,
		exportTable: exportTable,
		idTable:     idTable,
	})
	return img, nil
}

// number assigns inode numbers in post-order so every child is numbered
// before its parent and the root comes last.
func (w *imageWriter) number(n *node) {
	sort.Slice(n.children, func(i, j int) bool { return n.children[i].name < n.children[j].name })
	for _, c := range n.children {
		w.number(c)
	}
	n.number = uint32(len(w.order) + 1)
	w.order = append(w.order, n)
}

func (w *imageWriter) collectIDs() ([]uint32, map[uint32]uint16) {
	var ids []uint32
	index := make(map[uint32]uint16)
	for _, n := range w.order {
		for _, id := range []uint32{n.uid, n.gid} {
			if _, ok := index[id]; !ok {
				index[id] = uint16(len(ids))
				ids = append(ids, id)
			}
		}
	}
	return ids, index
}

// writeCompressorOptions emits the algorithm's options record. The format
// stores this block uncompressed regardless of the archive's algorithm.
func (w *imageWriter) writeCompressorOptions() {
	var payload []byte
	switch w.b.compression {
	case format.CompressionGzip:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], 9)  // level
		binary.LittleEndian.PutUint16(payload[4:6], 15) // window
	case format.CompressionXZ:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], w.b.blockSize) // dictionary
	case format.CompressionLZ4:
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], 1) // version
	case format.CompressionZstd:
		payload = make([]byte, 4)
		binary.LittleEndian.PutUint32(payload[0:4], 15) // level
	}
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(payload))|format.MetadataUncompressedFlag)
	w.out.Write(hdr[:])
	w.out.Write(payload)
}

// writeData lays out every file's full blocks and packs tails into shared
// fragment blocks.
func (w *imageWriter) writeData() error {
	bs := int(w.b.blockSize)
	for _, n := range w.order {
		if n.typ != format.InodeBasicFile {
			continue
		}
		n.fragIndex = format.FragmentNone
		n.blocksStart = uint64(w.out.Len())

		data := n.data
		tail := len(data) % bs
		full := data
		if tail > 0 && !w.b.noFragments {
			full = data[:len(data)-tail]
		}
		for off := 0; off < len(full); off += bs {
			chunk := full[off:min(off+bs, len(full))]
			n.blockSizes = append(n.blockSizes, w.writeDataBlock(chunk))
		}
		if tail > 0 && !w.b.noFragments {
			if w.fragBuf.Len()+tail > bs {
				w.flushFragment()
			}
			n.fragIndex = uint32(len(w.fragEntries))
			n.fragOffset = uint32(w.fragBuf.Len())
			w.fragBuf.Write(data[len(data)-tail:])
		}
	}
	w.flushFragment()
	return nil
}

// writeDataBlock stores one data block, compressed when that saves space,
// and returns its size word. All-zero blocks become sparse entries with no
// stored bytes.
func (w *imageWriter) writeDataBlock(chunk []byte) format.BlockSize {
	if allZero(chunk) {
		return 0
	}
	if c, ok := w.comp(chunk); ok {
		w.out.Write(c)
		return format.BlockSize(len(c))
	}
	w.out.Write(chunk)
	return format.BlockSize(len(chunk)) | format.BlockUncompressed
}

func (w *imageWriter) flushFragment() {
	if w.fragBuf.Len() == 0 {
		return
	}
	start := uint64(w.out.Len())
	size := w.writeDataBlock(w.fragBuf.Bytes())
	w.fragEntries = append(w.fragEntries, format.FragmentEntry{Start: start, Size: size})
	w.fragBuf.Reset()
}

func (w *imageWriter) writeInode(n *node, inodes, dirs *metaWriter, idIndex map[uint32]uint16) error {
	n.ref = inodes.ref()

	typ := n.typ
	if n.extended {
		typ += 7
	}

	var listing format.Ref
	var listingSize int64
	if n.typ == format.InodeBasicDir {
		listing = dirs.ref()
		var err error
		listingSize, err = w.writeListing(n, dirs)
		if err != nil {
			return err
		}
		if !n.extended && listingSize+3 > 0xFFFF {
			typ = format.InodeExtDir
		}
	}

	hdr := make([]byte, format.InodeHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(typ))
	binary.LittleEndian.PutUint16(hdr[2:4], n.perm&0o7777)
	binary.LittleEndian.PutUint16(hdr[4:6], idIndex[n.uid])
	binary.LittleEndian.PutUint16(hdr[6:8], idIndex[n.gid])
	binary.LittleEndian.PutUint32(hdr[8:12], n.modTime)
	binary.LittleEndian.PutUint32(hdr[12:16], n.number)
	inodes.write(hdr)

	switch typ {
	case format.InodeBasicDir:
		body := make([]byte, 16)
		binary.LittleEndian.PutUint32(body[0:4], uint32(listing.BlockStart()))
		binary.LittleEndian.PutUint32(body[4:8], w.dirLinkCount(n))
		binary.LittleEndian.PutUint16(body[8:10], uint16(listingSize+3))
		binary.LittleEndian.PutUint16(body[10:12], listing.Offset())
		binary.LittleEndian.PutUint32(body[12:16], w.parentNumber(n))
		inodes.write(body)
	case format.InodeExtDir:
		body := make([]byte, 24)
		binary.LittleEndian.PutUint32(body[0:4], w.dirLinkCount(n))
		binary.LittleEndian.PutUint32(body[4:8], uint32(listingSize+3))
		binary.LittleEndian.PutUint32(body[8:12], uint32(listing.BlockStart()))
		binary.LittleEndian.PutUint32(body[12:16], w.parentNumber(n))
		binary.LittleEndian.PutUint16(body[18:20], listing.Offset())
		binary.LittleEndian.PutUint32(body[20:24], format.FragmentNone)
		inodes.write(body)
	case format.InodeBasicFile:
		body := make([]byte, 16)
		binary.LittleEndian.PutUint32(body[0:4], uint32(n.blocksStart))
		binary.LittleEndian.PutUint32(body[4:8], n.fragIndex)
		binary.LittleEndian.PutUint32(body[8:12], n.fragOffset)
		binary.LittleEndian.PutUint32(body[12:16], uint32(len(n.data)))
		inodes.write(body)
		w.writeBlockSizes(n, inodes)
	case format.InodeExtFile:
		body := make([]byte, 40)
		binary.LittleEndian.PutUint64(body[0:8], n.blocksStart)
		binary.LittleEndian.PutUint64(body[8:16], uint64(len(n.data)))
		binary.LittleEndian.PutUint32(body[24:28], 1)
		binary.LittleEndian.PutUint32(body[28:32], n.fragIndex)
		binary.LittleEndian.PutUint32(body[32:36], n.fragOffset)
		binary.LittleEndian.PutUint32(body[36:40], format.FragmentNone)
		inodes.write(body)
		w.writeBlockSizes(n, inodes)
	case format.InodeBasicSymlink, format.InodeExtSymlink:
		body := make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], 1)
		binary.LittleEndian.PutUint32(body[4:8], uint32(len(n.target)))
		inodes.write(body)
		inodes.write([]byte(n.target))
		if typ == format.InodeExtSymlink {
			inodes.write(make([]byte, 4))
		}
	case format.InodeBasicBlockDev, format.InodeBasicCharDev:
		body := make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], 1)
		binary.LittleEndian.PutUint32(body[4:8], n.device)
		inodes.write(body)
	case format.InodeExtBlockDev, format.InodeExtCharDev:
		body := make([]byte, 12)
		binary.LittleEndian.PutUint32(body[0:4], 1)
		binary.LittleEndian.PutUint32(body[4:8], n.device)
		inodes.write(body)
	case format.InodeBasicFifo, format.InodeBasicSocket:
		body := make([]byte, 4)
		binary.LittleEndian.PutUint32(body[0:4], 1)
		inodes.write(body)
	case format.InodeExtFifo, format.InodeExtSocket:
		body := make([]byte, 8)
		binary.LittleEndian.PutUint32(body[0:4], 1)
		inodes.write(body)
	default:
		return fmt.Errorf("testarchive: inode type %d", typ)
	}
	return nil
}

func (w *imageWriter) writeBlockSizes(n *node, inodes *metaWriter) {
	buf := make([]byte, 4*len(n.blockSizes))
	for i, s := range n.blockSizes {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(s))
	}
	inodes.write(buf)
}

func (w *imageWriter) dirLinkCount(n *node) uint32 {
	count := uint32(2)
	for _, c := range n.children {
		if c.typ == format.InodeBasicDir {
			count++
		}
	}
	return count
}

// parentNumber follows the convention that the root's parent is one past
// the highest inode number.
func (w *imageWriter) parentNumber(n *node) uint32 {
	if n.parent == nil {
		return uint32(len(w.order)) + 1
	}
	return n.parent.number
}

// writeListing emits the directory's entry groups and returns the byte
// length written. Entries sharing an inode-table block go into one group;
// groups are capped at 256 entries per the format.
func (w *imageWriter) writeListing(n *node, dirs *metaWriter) (int64, error) {
	start := dirs.written
	i := 0
	for i < len(n.children) {
		base := n.children[i]
		j := i
		for j < len(n.children) && j-i < 256 &&
			n.children[j].ref.BlockStart() == base.ref.BlockStart() {
			delta := int64(n.children[j].number) - int64(base.number)
			if delta < -0x8000 || delta > 0x7FFF {
				break
			}
			j++
		}

		hdr := make([]byte, format.DirHeaderSize)
		binary.LittleEndian.PutUint32(hdr[0:4], uint32(j-i-1))
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(base.ref.BlockStart()))
		binary.LittleEndian.PutUint32(hdr[8:12], base.number)
		dirs.write(hdr)

		for ; i < j; i++ {
			c := n.children[i]
			entry := make([]byte, 8)
			binary.LittleEndian.PutUint16(entry[0:2], c.ref.Offset())
			binary.LittleEndian.PutUint16(entry[2:4], uint16(int16(int64(c.number)-int64(base.number))))
			binary.LittleEndian.PutUint16(entry[4:6], uint16(c.typ))
			binary.LittleEndian.PutUint16(entry[6:8], uint16(len(c.name)-1))
			dirs.write(entry)
			dirs.write([]byte(c.name))
		}
	}
	return dirs.written - start, nil
}

// writeFragmentTable writes the fragment records as metadata blocks
// followed by the block pointer array, returning the table offset.
func (w *imageWriter) writeFragmentTable() uint64 {
	if len(w.fragEntries) == 0 {
		return format.InvalidTable
	}
	buf := make([]byte, 0, len(w.fragEntries)*format.FragmentEntrySize)
	for _, e := range w.fragEntries {
		var rec [format.FragmentEntrySize]byte
		binary.LittleEndian.PutUint64(rec[0:8], e.Start)
		binary.LittleEndian.PutUint32(rec[8:12], uint32(e.Size))
		buf = append(buf, rec[:]...)
	}
	return w.writeIndirectTable(buf, format.FragmentsPerBlock*format.FragmentEntrySize)
}

func (w *imageWriter) writeExportTable() uint64 {
	if w.b.noExport {
		return format.InvalidTable
	}
	buf := make([]byte, 8*len(w.order))
	for _, n := range w.order {
		binary.LittleEndian.PutUint64(buf[8*(n.number-1):], uint64(n.ref))
	}
	return w.writeIndirectTable(buf, format.RefsPerBlock*8)
}

func (w *imageWriter) writeIDTable(ids []uint32) uint64 {
	buf := make([]byte, 4*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint32(buf[4*i:], id)
	}
	return w.writeIndirectTable(buf, format.IDsPerBlock*4)
}

// writeIndirectTable packs buf into metadata blocks of at most chunk bytes
// and appends the array of absolute block offsets, returning the offset of
// that pointer array.
func (w *imageWriter) writeIndirectTable(buf []byte, chunk int) uint64 {
	var starts []uint64
	for off := 0; off < len(buf); off += chunk {
		starts = append(starts, uint64(w.out.Len()))
		writeMetaBlock(&w.out, w.comp, buf[off:min(off+chunk, len(buf))])
	}
	table := uint64(w.out.Len())
	for _, s := range starts {
		var p [8]byte
		binary.LittleEndian.PutUint64(p[:], s)
		w.out.Write(p[:])
	}
	return table
}

type superblockLayout struct {
	idCount     uint16
	inodeTable  uint64
	dirTable    uint64
	fragTable   uint64
	exportTable uint64
	idTable     uint64
}

func (w *imageWriter) writeSuperblock(img []byte, l superblockLayout) {
	flags := uint16(format.FlagNoXattrs)
	if !w.b.noExport {
		flags |= format.FlagExportable
	}
	if len(w.fragEntries) == 0 {
		flags |= format.FlagNoFragments
	}
	if w.b.compOptions {
		flags |= format.FlagCompressorOptions
	}

	root := w.b.root
	binary.LittleEndian.PutUint32(img[0:4], format.Magic)
	binary.LittleEndian.PutUint32(img[4:8], uint32(len(w.order)))
	binary.LittleEndian.PutUint32(img[8:12], w.b.modTime)
	binary.LittleEndian.PutUint32(img[12:16], w.b.blockSize)
	binary.LittleEndian.PutUint32(img[16:20], uint32(len(w.fragEntries)))
	binary.LittleEndian.PutUint16(img[20:22], uint16(w.b.compression))
	binary.LittleEndian.PutUint16(img[22:24], blockLog(w.b.blockSize))
	binary.LittleEndian.PutUint16(img[24:26], flags)
	binary.LittleEndian.PutUint16(img[26:28], l.idCount)
	binary.LittleEndian.PutUint16(img[28:30], 4)
	binary.LittleEndian.PutUint16(img[30:32], 0)
	binary.LittleEndian.PutUint64(img[32:40], uint64(root.ref))
	binary.LittleEndian.PutUint64(img[40:48], uint64(len(img)))
	binary.LittleEndian.PutUint64(img[48:56], l.idTable)
	binary.LittleEndian.PutUint64(img[56:64], format.InvalidTable)
	binary.LittleEndian.PutUint64(img[64:72], l.inodeTable)
	binary.LittleEndian.PutUint64(img[72:80], l.dirTable)
	binary.LittleEndian.PutUint64(img[80:88], l.fragTable)
	binary.LittleEndian.PutUint64(img[88:96], l.exportTable)
}

func blockLog(bs uint32) uint16 {
	var log uint16
	for 1<<(log+1) <= bs {
		log++
	}
	return log
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// metaWriter encodes a stream of metadata blocks: records accumulate in a
// pending buffer that is sealed into one length-prefixed block whenever it
// reaches the 8 KiB decompressed limit.
type metaWriter struct {
	comp    compressor
	out     bytes.Buffer
	pending bytes.Buffer
	written int64
}

func newMetaWriter(comp compressor) *metaWriter {
	return &metaWriter{comp: comp}
}

// ref returns the reference a reader would use for the next byte written.
func (w *metaWriter) ref() format.Ref {
	return format.NewRef(int64(w.out.Len()), uint16(w.pending.Len()))
}

func (w *metaWriter) write(p []byte) {
	for len(p) > 0 {
		room := format.MetadataBlockSize - w.pending.Len()
		if room == 0 {
			w.flush()
			continue
		}
		n := min(room, len(p))
		w.pending.Write(p[:n])
		w.written += int64(n)
		p = p[n:]
	}
}

func (w *metaWriter) flush() {
	if w.pending.Len() == 0 {
		return
	}
	writeMetaBlock(&w.out, w.comp, w.pending.Bytes())
	w.pending.Reset()
}

// writeMetaBlock emits one metadata block: 2-byte header then the payload,
// compressed when that saves space and stored with the uncompressed flag
// otherwise.
func writeMetaBlock(dst *bytes.Buffer, comp compressor, data []byte) {
	var hdr [2]byte
	if c, ok := comp(data); ok {
		binary.LittleEndian.PutUint16(hdr[:], uint16(len(c)))
		dst.Write(hdr[:])
		dst.Write(c)
		return
	}
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(data))|format.MetadataUncompressedFlag)
	dst.Write(hdr[:])
	dst.Write(data)
}

// compressor compresses src, reporting false when the result would not be
// smaller than the input.
type compressor func(src []byte) ([]byte, bool)

func newCompressor(c format.Compression) compressor {
	switch c {
	case format.CompressionGzip:
		return zlibCompress
	case format.CompressionXZ:
		return xzCompress
	case format.CompressionLZ4:
		return lz4Compress
	case format.CompressionZstd:
		zw, _ := zstd.NewWriter(nil)
		return func(src []byte) ([]byte, bool) {
			out := zw.EncodeAll(src, nil)
			return out, len(out) < len(src)
		}
	default:
		// Unsupported algorithms store everything raw; useful for
		// crafting images the reader must reject.
		return func([]byte) ([]byte, bool) { return nil, false }
	}
}

func zlibCompress(src []byte) ([]byte, bool) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, false
	}
	if err := zw.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), buf.Len() < len(src)
}

func xzCompress(src []byte) ([]byte, bool) {
	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, false
	}
	if _, err := xw.Write(src); err != nil {
		return nil, false
	}
	if err := xw.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), buf.Len() < len(src)
}

func lz4Compress(src []byte) ([]byte, bool) {
	dst := make([]byte, len(src))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil || n == 0 || n >= len(src) {
		return nil, false
	}
	return dst[:n], true
}
