package squashfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/squashfs/internal/blockcache"
	"github.com/meigma/squashfs/internal/format"
)

// ReadFile returns up to length bytes of the file at offset off. The
// request is clamped to the file size: reads starting at or past the end
// return an empty slice, a partially out-of-range read returns the bytes
// that exist. Content is assembled block by block through the data cache;
// sparse blocks synthesize zeros with no storage access, and a tail packed
// into a shared fragment block is sliced out of the (cached) fragment.
func (a *Archive) ReadFile(ctx context.Context, ino Inode, off int64, length int) ([]byte, error) {
	if ino.raw == nil {
		return nil, ErrInvalidInode
	}
	f := ino.raw.File
	if f == nil {
		return nil, ErrNotRegularFile
	}
	if off < 0 || length < 0 {
		return nil, fmt.Errorf("squashfs: read at %d for %d: %w", off, length, fs.ErrInvalid)
	}

	size := int64(f.Size)
	if off >= size || length == 0 {
		return []byte{}, nil
	}
	end := off + int64(length)
	if end > size {
		end = size
	}

	bs := int64(a.sb.BlockSize)
	firstBlock := off / bs
	lastBlock := (end - 1) / bs

	// Absolute offset of the first needed block: blocks are stored back to
	// back from BlocksStart, so it is the cumulative sum of the on-disk
	// sizes of the blocks before it.
	blockPos := int64(f.BlocksStart)
	for i := int64(0); i < firstBlock && i < int64(len(f.BlockSizes)); i++ {
		blockPos += f.BlockSizes[i].Size()
	}

	out := make([]byte, 0, end-off)
	for i := firstBlock; i <= lastBlock; i++ {
		blockEnd := (i + 1) * bs
		if blockEnd > size {
			blockEnd = size
		}
		blockLen := blockEnd - i*bs

		lo := max(off, i*bs) - i*bs
		hi := min(end, blockEnd) - i*bs

		var data []byte
		switch {
		case i < int64(len(f.BlockSizes)):
			bsize := f.BlockSizes[i]
			if bsize.Sparse() {
				out = append(out, make([]byte, hi-lo)...)
				blockPos += bsize.Size()
				continue
			}
			var err error
			data, err = a.dataBlock(ctx, blockPos, bsize)
			if err != nil {
				return nil, err
			}
			if int64(len(data)) < hi {
				return nil, format.AtOffset(blockPos,
					fmt.Errorf("%w: data block of %d bytes, want %d", ErrCorrupt, len(data), blockLen))
			}
			blockPos += bsize.Size()

		case f.HasFragment():
			var err error
			data, err = a.fragmentTail(ctx, f)
			if err != nil {
				return nil, err
			}
			if int64(len(data)) < hi {
				return nil, fmt.Errorf("%w: fragment tail of %d bytes, want %d", ErrCorrupt, len(data), blockLen)
			}

		default:
			return nil, fmt.Errorf("%w: file block %d has no storage", ErrCorrupt, i)
		}
		out = append(out, data[lo:hi]...)
	}
	return out, nil
}

// fragmentTail resolves and fetches the shared fragment block holding the
// file's tail and slices out this file's sub-range. Two files sharing one
// fragment block extract disjoint ranges of the same cached bytes.
func (a *Archive) fragmentTail(ctx context.Context, f *format.FileInode) ([]byte, error) {
	entry, err := a.frags.resolve(ctx, a, f.FragmentIndex)
	if err != nil {
		return nil, err
	}
	block, err := a.dataBlock(ctx, int64(entry.Start), entry.Size)
	if err != nil {
		return nil, err
	}
	tail := f.TailSize(a.sb.BlockSize)
	lo := int64(f.FragmentOffset)
	if lo+tail > int64(len(block)) {
		return nil, format.AtOffset(int64(entry.Start),
			fmt.Errorf("%w: fragment slice %d+%d past block of %d bytes", ErrCorrupt, lo, tail, len(block)))
	}
	return block[lo : lo+tail], nil
}

// dataBlock fetches one data or fragment block through the data cache,
// reading and decompressing on a miss. The returned slice is shared cache
// memory and must not be modified.
func (a *Archive) dataBlock(ctx context.Context, start int64, bsize format.BlockSize) ([]byte, error) {
	b, err := a.data.Get(ctx, start, func(ctx context.Context) (blockcache.Block, error) {
		raw := make([]byte, bsize.Size())
		if err := a.readAt(raw, start); err != nil {
			return blockcache.Block{}, err
		}
		data := raw
		if bsize.Compressed() {
			var err error
			data, err = a.engine.Decompress(a.sb.Compression, raw, int(a.sb.BlockSize))
			if err != nil {
				return blockcache.Block{}, format.AtOffset(start, err)
			}
		}
		return blockcache.Block{Data: data}, nil
	})
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

// File adapts one regular-file inode to io.ReaderAt and io.Reader,
// carrying the context of the operation that opened it.
type File struct {
	a   *Archive
	ino Inode
	ctx context.Context
	pos int64
}

// OpenInode returns a File reading the regular file ino.
func (a *Archive) OpenInode(ctx context.Context, ino Inode) (*File, error) {
	if ino.raw == nil {
		return nil, ErrInvalidInode
	}
	if ino.raw.File == nil {
		return nil, ErrNotRegularFile
	}
	return &File{a: a, ino: ino, ctx: ctx}, nil
}

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.ino.Size }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	data, err := f.a.ReadFile(f.ctx, f.ino, off, len(p))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.pos >= f.ino.Size {
		return 0, io.EOF
	}
	n, err := f.ReadAt(p, f.pos)
	f.pos += int64(n)
	if err == io.EOF && f.pos < f.ino.Size {
		err = nil
	}
	return n, err
}
