// Package blockcache is an optional read-through cache of decoded,
// checksum-verified block bytes, keyed by file position.
//
// It exists so the block layer never re-reads and re-verifies a hot node
// or leaf on every tree descent. The teacher's go.mod names
// github.com/dgraph-io/ristretto/v2 as a direct dependency but the
// retrieved subset of the teacher repo never imports it — this package
// gives it the job the teacher's hand-rolled, slice-based LRU
// (storage_engine/bufferpool) was doing less efficiently.
package blockcache

import "github.com/dgraph-io/ristretto/v2"

// Cache maps a block's file position to its raw bytes. Implementations
// must be safe for concurrent use; Get must never return bytes the caller
// is allowed to mutate in place (callers get a private copy).
type Cache interface {
	Get(pos uint64) ([]byte, bool)
	Set(pos uint64, data []byte)
	Del(pos uint64)
	Close()
}

// noop is the zero-value cache used when a caller does not opt into
// caching; every Get misses, every Set/Del is a no-op.
type noop struct{}

func (noop) Get(uint64) ([]byte, bool) { return nil, false }
func (noop) Set(uint64, []byte)        {}
func (noop) Del(uint64)                {}
func (noop) Close()                    {}

// None returns a Cache that never retains anything.
func None() Cache { return noop{} }

// ristrettoCache adapts a *ristretto.Cache to the Cache interface. Entries
// are costed by their byte length so MaxCost behaves like a byte budget.
type ristrettoCache struct {
	c *ristretto.Cache[uint64, []byte]
}

// New returns a Cache backed by ristretto, budgeted to roughly maxBytes of
// cached block data. A maxBytes of 0 disables caching (returns None()).
func New(maxBytes int64) (Cache, error) {
	if maxBytes <= 0 {
		return None(), nil
	}
	c, err := ristretto.NewCache(&ristretto.Config[uint64, []byte]{
		NumCounters: maxBytes / 64 * 10, // ~10 counters per expected block-sized entry
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &ristrettoCache{c: c}, nil
}

func (r *ristrettoCache) Get(pos uint64) ([]byte, bool) {
	data, ok := r.c.Get(pos)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (r *ristrettoCache) Set(pos uint64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	r.c.Set(pos, cp, int64(len(cp)))
}

func (r *ristrettoCache) Del(pos uint64) {
	r.c.Del(pos)
}

func (r *ristrettoCache) Close() {
	r.c.Close()
}
