package squashfs

import (
	"context"
	"fmt"

	"github.com/meigma/squashfs/internal/format"
)

// fragmentTable resolves fragment indices to shared fragment block
// locations. Fragment records are packed into metadata blocks behind an
// array of block pointers; the pointer array is loaded eagerly at Open,
// the record blocks go through the metadata cache on demand.
type fragmentTable struct {
	count uint32
	ptrs  []int64
}

func (a *Archive) loadFragmentTable(_ context.Context) error {
	count := a.sb.FragmentCount
	if count == 0 || !tablePresent(a.sb.FragmentTable) {
		a.frags = &fragmentTable{}
		return nil
	}
	ptrs, err := a.readTablePointers(a.sb.FragmentTable, int(count), format.FragmentsPerBlock)
	if err != nil {
		return err
	}
	a.frags = &fragmentTable{count: count, ptrs: ptrs}
	return nil
}

// resolve returns the location record of fragment index.
func (f *fragmentTable) resolve(ctx context.Context, a *Archive, index uint32) (format.FragmentEntry, error) {
	if index >= f.count {
		return format.FragmentEntry{}, fmt.Errorf("%w: fragment index %d of %d", ErrCorrupt, index, f.count)
	}
	blockIdx := int(index) / format.FragmentsPerBlock
	data, _, err := a.meta.Block(ctx, f.ptrs[blockIdx])
	if err != nil {
		return format.FragmentEntry{}, err
	}
	off := (int(index) % format.FragmentsPerBlock) * format.FragmentEntrySize
	if off+format.FragmentEntrySize > len(data) {
		return format.FragmentEntry{}, format.AtOffset(f.ptrs[blockIdx],
			fmt.Errorf("%w: fragment block short of index %d", ErrTruncated, index))
	}
	entry, err := format.DecodeFragmentEntry(data[off:])
	if err != nil {
		return format.FragmentEntry{}, err
	}
	if entry.Size.Size() > int64(a.sb.BlockSize) {
		return format.FragmentEntry{}, fmt.Errorf("%w: fragment %d of %d bytes", ErrCorrupt, index, entry.Size.Size())
	}
	return entry, nil
}
