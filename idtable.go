package squashfs

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/meigma/squashfs/internal/format"
)

// loadIDTable eagerly reads the uid/gid table: a flat array of 32-bit ids
// packed into metadata blocks behind an array of block pointers. Inode
// headers store 16-bit indices into it. The table is bounded by the
// superblock's 16-bit id count, so keeping it fully in memory is cheap.
func (a *Archive) loadIDTable(ctx context.Context) error {
	count := int(a.sb.IDCount)
	if count == 0 || !tablePresent(a.sb.IDTable) {
		return nil
	}
	ptrs, err := a.readTablePointers(a.sb.IDTable, count, format.IDsPerBlock)
	if err != nil {
		return err
	}

	ids := make([]uint32, 0, count)
	for _, ptr := range ptrs {
		data, _, err := a.meta.Block(ctx, ptr)
		if err != nil {
			return err
		}
		for i := 0; i+4 <= len(data) && len(ids) < count; i += 4 {
			ids = append(ids, binary.LittleEndian.Uint32(data[i:i+4]))
		}
	}
	if len(ids) != count {
		return format.AtOffset(int64(a.sb.IDTable),
			fmt.Errorf("%w: id table holds %d of %d ids", ErrTruncated, len(ids), count))
	}
	a.ids = ids
	return nil
}

// resolveID maps an inode header's id index to a numeric uid/gid.
func (a *Archive) resolveID(index uint16) (uint32, error) {
	if int(index) >= len(a.ids) {
		return 0, fmt.Errorf("%w: id index %d of %d", ErrCorrupt, index, len(a.ids))
	}
	return a.ids[index], nil
}

// exportTable maps inode numbers to inode references. References are
// fetched lazily per lookup through the metadata cache; only the bounded
// block pointer array is held in memory.
type exportTable struct {
	ptrs []int64
}

func (a *Archive) loadExportTable(_ context.Context) error {
	if a.skipExport || !tablePresent(a.sb.ExportTable) {
		return nil
	}
	count := int(a.sb.InodeCount)
	if count == 0 {
		return nil
	}
	ptrs, err := a.readTablePointers(a.sb.ExportTable, count, format.RefsPerBlock)
	if err != nil {
		return err
	}
	a.export = &exportTable{ptrs: ptrs}
	return nil
}

func (e *exportTable) lookup(ctx context.Context, a *Archive, number uint32) (InodeRef, error) {
	idx := int(number - 1)
	blockIdx := idx / format.RefsPerBlock
	if blockIdx >= len(e.ptrs) {
		return 0, fmt.Errorf("%w: inode %d past export table", ErrCorrupt, number)
	}
	data, _, err := a.meta.Block(ctx, e.ptrs[blockIdx])
	if err != nil {
		return 0, err
	}
	off := (idx % format.RefsPerBlock) * 8
	if off+8 > len(data) {
		return 0, format.AtOffset(e.ptrs[blockIdx],
			fmt.Errorf("%w: export block short of inode %d", ErrTruncated, number))
	}
	return InodeRef(binary.LittleEndian.Uint64(data[off : off+8])), nil
}

// readTablePointers reads the pointer array of a two-level indirection
// table: ceil(count/perBlock) absolute offsets of metadata blocks.
func (a *Archive) readTablePointers(start uint64, count, perBlock int) ([]int64, error) {
	n := (count + perBlock - 1) / perBlock
	buf := make([]byte, 8*n)
	if err := a.readAt(buf, int64(start)); err != nil {
		return nil, err
	}
	ptrs := make([]int64, n)
	for i := range ptrs {
		ptrs[i] = int64(binary.LittleEndian.Uint64(buf[8*i : 8*i+8]))
	}
	return ptrs, nil
}

// tablePresent reports whether an optional table offset names a real
// table. Absent tables are marked with all-ones (and zero can never be a
// table, that is the superblock).
func tablePresent(start uint64) bool {
	return start != 0 && start != format.InvalidTable
}
