// Package blockcache provides a bounded, recency-evicting cache of
// decompressed blocks keyed by archive offset, shared by the metadata and
// data paths. Concurrent misses on one offset coalesce into a single fetch
// via singleflight; every waiter observes the same completed result, and a
// waiter abandoning its wait detaches without aborting the shared fetch.
package blockcache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// Block is a cached decompressed block. Next is the absolute archive
// offset of the successor block in a metadata chain, computed from the
// block's on-disk length; the data path leaves it zero.
type Block struct {
	Data []byte
	Next int64
}

// FetchFunc reads and decompresses the block at the cache key's offset.
// It runs at most once per in-flight key regardless of waiter count.
type FetchFunc func(ctx context.Context) (Block, error)

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Fetches   uint64
	Evictions uint64
	Blocks    int
	Bytes     int64
}

// Cache is safe for concurrent use. The zero value is not usable; use New.
type Cache struct {
	group singleflight.Group

	mu       sync.Mutex
	ll       *list.List
	index    map[int64]*list.Element
	bytes    int64
	maxBytes int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	fetches   atomic.Uint64
	evictions atomic.Uint64
}

type cacheEntry struct {
	key   int64
	block Block
}

// New creates a cache bounded to maxBytes of decompressed block data.
// maxBytes <= 0 disables eviction.
func New(maxBytes int64) *Cache {
	return &Cache{
		ll:       list.New(),
		index:    make(map[int64]*list.Element),
		maxBytes: maxBytes,
	}
}

// Get returns the block at off, fetching it at most once across all
// concurrent callers on a miss. The returned Block's Data is shared and
// must be treated as immutable. Cancelling ctx abandons the wait without
// interrupting the fetch other waiters may still be attached to.
func (c *Cache) Get(ctx context.Context, off int64, fetch FetchFunc) (Block, error) {
	if b, ok := c.lookup(off); ok {
		c.hits.Add(1)
		return b, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(strconv.FormatInt(off, 16), func() (any, error) {
		// Double-check: the block may have landed between the miss and
		// this flight winning the key.
		if b, ok := c.lookup(off); ok {
			return b, nil
		}
		c.fetches.Add(1)
		b, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return Block{}, err
		}
		c.insert(off, b)
		return b, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Block{}, res.Err
		}
		return res.Val.(Block), nil
	case <-ctx.Done():
		return Block{}, ctx.Err()
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	blocks, bytes := c.ll.Len(), c.bytes
	c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Fetches:   c.fetches.Load(),
		Evictions: c.evictions.Load(),
		Blocks:    blocks,
		Bytes:     bytes,
	}
}

func (c *Cache) lookup(key int64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[key]
	if !ok {
		return Block{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).block, true
}

func (c *Cache) insert(key int64, b Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[key]; ok {
		return
	}
	c.index[key] = c.ll.PushFront(&cacheEntry{key: key, block: b})
	c.bytes += int64(len(b.Data))
	if c.maxBytes <= 0 {
		return
	}
	// Never evict the entry just inserted, even if it alone exceeds the
	// budget; callers hold a reference to it anyway.
	for c.bytes > c.maxBytes && c.ll.Len() > 1 {
		el := c.ll.Back()
		ent := el.Value.(*cacheEntry)
		c.ll.Remove(el)
		delete(c.index, ent.key)
		c.bytes -= int64(len(ent.block.Data))
		c.evictions.Add(1)
	}
}
