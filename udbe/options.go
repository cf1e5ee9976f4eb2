// Package udbe is the facade over the MultiIndex and HeapFile storage
// engines: it wires blockio.Device, block.Layer, and blockcache.Cache
// together per caller-supplied options, the way the teacher's vecgo
// sibling wires its own options struct before constructing a store.
package udbe

import "log/slog"

// options collects every optional knob a caller can set via With*
// functions before a MultiIndex or HeapFile is opened or created.
type options struct {
	logger        *slog.Logger
	cacheBytes    int64
	nodeBatch     int
	leafBatch     int
	holesTableCap int
}

func defaultOptions() *options {
	return &options{
		logger:        slog.New(slog.DiscardHandler),
		cacheBytes:    0,
		nodeBatch:     0, // 0 defers to multiindex.defaultBatchSize
		leafBatch:     0,
		holesTableCap: 64,
	}
}

// Option configures a MultiIndex or HeapFile open/create call.
type Option func(*options)

// WithLogger routes this engine's structured log output through l
// instead of discarding it.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBlockCache enables a read-through cache of checksum-verified
// blocks, budgeted to roughly maxBytes.
func WithBlockCache(maxBytes int64) Option {
	return func(o *options) { o.cacheBytes = maxBytes }
}

// WithNodeBatch sets how many B+tree node blocks are pre-allocated at
// once when an index's free node chain runs dry. Only meaningful for
// CreateIndex; has no effect on an index opened from an existing file.
func WithNodeBatch(n int) Option {
	return func(o *options) { o.nodeBatch = n }
}

// WithLeafBatch sets how many leaf blocks are pre-allocated at once.
func WithLeafBatch(n int) Option {
	return func(o *options) { o.leafBatch = n }
}

// WithHolesTableSize sets how many hole records a HeapFile's holes
// tables hold. Only meaningful for CreateHeap.
func WithHolesTableSize(n int) Option {
	return func(o *options) { o.holesTableCap = n }
}

func apply(opts []Option) *options {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}
	return o
}
