package squashfs

import "log/slog"

// Default byte budgets for the two block caches. Metadata blocks are at
// most 8KiB decompressed; data blocks run up to the archive block size and
// dominate memory, so they get the larger budget.
const (
	DefaultMetadataCacheBytes = 8 << 20
	DefaultDataCacheBytes     = 64 << 20
)

// Option configures an Archive.
type Option func(*Archive)

// WithMetadataCacheBytes bounds the decompressed metadata block cache.
// Values <= 0 disable eviction.
func WithMetadataCacheBytes(n int64) Option {
	return func(a *Archive) {
		a.metaCacheBytes = n
	}
}

// WithDataCacheBytes bounds the decompressed data block cache.
// Values <= 0 disable eviction.
func WithDataCacheBytes(n int64) Option {
	return func(a *Archive) {
		a.dataCacheBytes = n
	}
}

// WithLogger sets a logger for debug events (cache activity, table loads).
// The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithoutExportTable skips loading the export table even when the archive
// has one; InodeByNumber then returns ErrNoExportTable.
func WithoutExportTable() Option {
	return func(a *Archive) {
		a.skipExport = true
	}
}
