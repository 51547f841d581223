package squashfs

import (
	"context"
	"io/fs"
	"iter"

	"github.com/meigma/squashfs/internal/format"
	"github.com/meigma/squashfs/internal/meta"
)

// DirEntry is one entry of a directory listing.
type DirEntry struct {
	// Name is the entry name, never "." or "..".
	Name string

	// Mode carries the entry's file type bits only; permissions live on
	// the inode.
	Mode fs.FileMode

	// InodeNumber is the absolute inode number of the target.
	InodeNumber uint32

	// Ref locates the target's inode record; pass it to Stat.
	Ref InodeRef
}

// IsDir reports whether the entry names a directory.
func (e DirEntry) IsDir() bool { return e.Mode.IsDir() }

// Entries returns the directory's entries in on-disk order as a lazy
// sequence. The sequence is restartable: ranging over it again re-decodes
// the listing and yields the identical entries. Iteration stops at the
// first decode error, yielded as the final element.
func (a *Archive) Entries(ctx context.Context, dir Inode) iter.Seq2[DirEntry, error] {
	return func(yield func(DirEntry, error) bool) {
		if dir.raw == nil {
			yield(DirEntry{}, ErrInvalidInode)
			return
		}
		d := dir.raw.Dir
		if d == nil {
			yield(DirEntry{}, ErrNotDirectory)
			return
		}
		limit := d.ListingSize()
		if limit == 0 {
			return
		}
		cur, err := meta.NewCursor(ctx, a.meta, int64(a.sb.DirectoryTable), d.ListingRef())
		if err != nil {
			yield(DirEntry{}, err)
			return
		}
		for cur.Consumed()+format.DirHeaderSize <= limit {
			hb, err := cur.ReadExact(format.DirHeaderSize)
			if err != nil {
				yield(DirEntry{}, err)
				return
			}
			header, err := format.DecodeDirHeader(hb)
			if err != nil {
				yield(DirEntry{}, err)
				return
			}
			for i := 0; i < header.Entries(); i++ {
				raw, err := format.DecodeDirEntry(cur, header)
				if err != nil {
					yield(DirEntry{}, err)
					return
				}
				entry := DirEntry{
					Name:        raw.Name,
					Mode:        modeOf(raw.Type, 0) & fs.ModeType,
					InodeNumber: raw.InodeNumber,
					Ref:         raw.Ref,
				}
				if !yield(entry, nil) {
					return
				}
			}
		}
	}
}

// ReadDir returns all entries of dir in on-disk order. Successive calls on
// an unmodified archive return the same entries in the same order.
func (a *Archive) ReadDir(ctx context.Context, dir Inode) ([]DirEntry, error) {
	var entries []DirEntry
	for entry, err := range a.Entries(ctx, dir) {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Lookup finds the named entry in dir and decodes its inode. A missing
// name returns ErrNotExist.
func (a *Archive) Lookup(ctx context.Context, dir Inode, name string) (Inode, error) {
	for entry, err := range a.Entries(ctx, dir) {
		if err != nil {
			return Inode{}, err
		}
		if entry.Name == name {
			return a.Stat(ctx, entry.Ref)
		}
	}
	return Inode{}, ErrNotExist
}
