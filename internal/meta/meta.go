// Package meta reads the metadata side of an archive: fetching and caching
// decompressed metadata blocks, and cursoring across block chains to decode
// inode, directory, and fragment records.
package meta

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/squashfs/internal/blockcache"
	"github.com/meigma/squashfs/internal/compress"
	"github.com/meigma/squashfs/internal/format"
)

// ByteSource is the slice of the storage backend the metadata path needs.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Store fetches metadata blocks through a shared cache. On a miss it reads
// the block's 2-byte length header and payload from storage, decompresses
// as flagged, and memoizes both the bytes and the absolute offset of the
// next block in the chain (the format stores only each block's length, so
// chain traversal must decode lengths as it goes).
type Store struct {
	src         ByteSource
	engine      *compress.Engine
	compression format.Compression
	cache       *blockcache.Cache
}

// NewStore creates a metadata block store over src. All blocks are
// decompressed with the archive's single compression algorithm.
func NewStore(src ByteSource, engine *compress.Engine, compression format.Compression, cache *blockcache.Cache) *Store {
	return &Store{
		src:         src,
		engine:      engine,
		compression: compression,
		cache:       cache,
	}
}

// Stats returns the block cache counters.
func (s *Store) Stats() blockcache.Stats { return s.cache.Stats() }

// Block returns the decompressed metadata block whose 2-byte header sits
// at absolute offset off, plus the absolute offset of the next block in
// the chain. Concurrent misses on one offset coalesce into a single read
// and decompression.
func (s *Store) Block(ctx context.Context, off int64) (data []byte, next int64, err error) {
	b, err := s.cache.Get(ctx, off, func(ctx context.Context) (blockcache.Block, error) {
		return s.fetch(ctx, off)
	})
	if err != nil {
		return nil, 0, err
	}
	return b.Data, b.Next, nil
}

func (s *Store) fetch(_ context.Context, off int64) (blockcache.Block, error) {
	var hdr [2]byte
	if err := s.readAt(hdr[:], off); err != nil {
		return blockcache.Block{}, err
	}
	h := binary.LittleEndian.Uint16(hdr[:])
	size := int(h & format.MetadataSizeMask)
	stored := h&format.MetadataUncompressedFlag != 0
	if size == 0 || size > format.MetadataBlockSize {
		return blockcache.Block{}, format.AtOffset(off, fmt.Errorf("%w: metadata block of %d bytes", format.ErrCorrupt, size))
	}

	payload := make([]byte, size)
	if err := s.readAt(payload, off+2); err != nil {
		return blockcache.Block{}, err
	}

	data := payload
	if !stored {
		var err error
		data, err = s.engine.Decompress(s.compression, payload, format.MetadataBlockSize)
		if err != nil {
			return blockcache.Block{}, format.AtOffset(off, err)
		}
	} else if len(data) > format.MetadataBlockSize {
		return blockcache.Block{}, format.AtOffset(off, fmt.Errorf("%w: stored metadata block of %d bytes", format.ErrCorrupt, len(data)))
	}

	return blockcache.Block{Data: data, Next: off + 2 + int64(size)}, nil
}

func (s *Store) readAt(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > s.src.Size() {
		return format.AtOffset(off, format.ErrTruncated)
	}
	if _, err := s.src.ReadAt(p, off); err != nil {
		return format.AtOffset(off, fmt.Errorf("%w: %v", format.ErrShortRead, err))
	}
	return nil
}
