// Package squashfs decodes read-only SquashFS v4.0 filesystem images,
// exposing random access to the directory tree and file contents over a
// pluggable random-access byte source.
//
// An [Archive] is safe to share across unboundedly many concurrent callers:
// the two block caches are the only mutable state and are internally
// synchronized, with concurrent misses on one block coalescing into a
// single read and decompression.
//
// # Quick Start
//
// Open an image file and read a file out of it:
//
//	src, err := squashfs.OpenFileSource("rootfs.squashfs")
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	a, err := squashfs.Open(ctx, src)
//	if err != nil {
//	    return err
//	}
//	etc, err := a.Lookup(ctx, a.Root(), "etc")
//	if err != nil {
//	    return err
//	}
//	hosts, err := a.Lookup(ctx, etc, "hosts")
//	if err != nil {
//	    return err
//	}
//	content, err := a.ReadFile(ctx, hosts, 0, int(hosts.Size))
//
// # Sources
//
// The archive reads through the [ByteSource] interface. [OpenFileSource]
// serves a local file, [NewBytesSource] an in-memory image,
// [OpenMmapSource] a memory-mapped file on unix, and [NewReaderPoolSource]
// fronts backends whose handles cannot seek concurrently with a bounded
// handle pool.
//
// # Caching
//
// Decompressed metadata and data blocks are cached separately in bounded
// LRU caches; tune the budgets with [WithMetadataCacheBytes] and
// [WithDataCacheBytes], and observe them with
// [Archive.MetadataCacheStats] and [Archive.DataCacheStats].
package squashfs
