// Package block is the Block Layer: fixed-size block read/write with an
// XOR checksum, on top of a blockio.Device. Buffer sizes are owned by the
// caller (derived from an index's key_size/max_items or the heap's
// holes_table_size), this package only stamps, verifies, and ferries
// bytes.
package block

import (
	"fmt"

	"udbe/blockcache"
	"udbe/blockio"
)

// Layer reads and writes fixed-size, checksummed blocks through a
// blockio.Device, optionally consulting a blockcache.Cache first.
type Layer struct {
	dev   *blockio.Device
	cache blockcache.Cache
}

// New wraps dev with a block layer. cache may be blockcache.None().
func New(dev *blockio.Device, cache blockcache.Cache) *Layer {
	if cache == nil {
		cache = blockcache.None()
	}
	return &Layer{dev: dev, cache: cache}
}

// Device returns the underlying block device, for callers (MultiIndex
// header, HeapFile header) that need raw, unchecksummed access to a fixed
// region such as the file header.
func (l *Layer) Device() *blockio.Device {
	return l.dev
}

// ReadBlock reads size bytes at pos and verifies its checksum. The
// returned slice is the caller's own copy and safe to mutate.
func (l *Layer) ReadBlock(pos int64, size int) ([]byte, error) {
	if cached, ok := l.cache.Get(uint64(pos)); ok && len(cached) == size {
		return cached, nil
	}

	buf := make([]byte, size)
	n, err := l.dev.Read(buf, pos)
	if err != nil {
		return nil, fmt.Errorf("block: read block at %d: %w", pos, err)
	}
	if n < size {
		return nil, fmt.Errorf("block: short read at %d: got %d of %d bytes", pos, n, size)
	}
	if !Verify(buf) {
		return nil, fmt.Errorf("block: %w at position %d", blockio.ErrCorrupt, pos)
	}
	l.cache.Set(uint64(pos), buf)
	return buf, nil
}

// WriteBlock stamps buf's checksum and writes it at pos, invalidating any
// cached copy so a future ReadBlock never serves a stale decode.
func (l *Layer) WriteBlock(pos int64, buf []byte) error {
	Stamp(buf)
	if _, err := l.dev.Write(buf, pos); err != nil {
		return fmt.Errorf("block: write block at %d: %w", pos, err)
	}
	l.cache.Del(uint64(pos))
	return nil
}

// Append writes buf (with its checksum stamped) at the current end of the
// file and returns the position it was written at.
func (l *Layer) Append(buf []byte) (int64, error) {
	pos, err := l.dev.Size()
	if err != nil {
		return 0, fmt.Errorf("block: append: %w", err)
	}
	if err := l.WriteBlock(pos, buf); err != nil {
		return 0, err
	}
	return pos, nil
}
