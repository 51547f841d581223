package meta

import (
	"context"
	"encoding/binary"

	"github.com/meigma/squashfs/internal/format"
)

// Cursor is a forward-only reader over a chain of metadata blocks. It is
// bound to the context of the operation that created it and resolves
// successor blocks through the store's cache as it advances. Cursors are
// cheap; callers re-read a record by creating a fresh cursor from its Ref.
type Cursor struct {
	ctx   context.Context
	store *Store

	block    []byte
	pos      int
	nextOff  int64
	consumed int64
}

// NewCursor opens a cursor at ref within the table starting at tableStart.
// The first block is fetched eagerly so an out-of-range in-block offset
// fails here rather than on first read.
func NewCursor(ctx context.Context, store *Store, tableStart int64, ref format.Ref) (*Cursor, error) {
	abs := tableStart + ref.BlockStart()
	data, next, err := store.Block(ctx, abs)
	if err != nil {
		return nil, err
	}
	if int(ref.Offset()) > len(data) {
		return nil, format.AtOffset(abs, format.ErrCorrupt)
	}
	return &Cursor{
		ctx:     ctx,
		store:   store,
		block:   data,
		pos:     int(ref.Offset()),
		nextOff: next,
	}, nil
}

// Consumed returns the number of bytes delivered so far.
func (c *Cursor) Consumed() int64 { return c.consumed }

// ReadExact returns the next n bytes, advancing across block boundaries as
// needed. The returned slice aliases cache memory when the read does not
// span blocks and must not be modified.
func (c *Cursor) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, format.ErrCorrupt
	}
	// Fast path: the whole read sits inside the current block.
	if c.pos+n <= len(c.block) {
		b := c.block[c.pos : c.pos+n]
		c.pos += n
		c.consumed += int64(n)
		return b, nil
	}

	out := make([]byte, n)
	filled := 0
	for filled < n {
		if c.pos == len(c.block) {
			if err := c.advance(); err != nil {
				return nil, err
			}
		}
		m := copy(out[filled:], c.block[c.pos:])
		c.pos += m
		filled += m
	}
	c.consumed += int64(n)
	return out, nil
}

// Skip discards the next n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.ReadExact(n)
	return err
}

// Uint16 reads a little-endian 16-bit integer.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.ReadExact(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian 32-bit integer.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.ReadExact(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian 64-bit integer.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.ReadExact(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *Cursor) advance() error {
	data, next, err := c.store.Block(c.ctx, c.nextOff)
	if err != nil {
		return err
	}
	c.block = data
	c.pos = 0
	c.nextOff = next
	return nil
}
