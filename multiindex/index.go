package multiindex

import (
	"fmt"

	"udbe/keycodec"
)

// Index is one named B+tree within a MultiIndex file: its static shape
// (IndexInfo) plus the comparator derived from it. All block I/O is
// delegated to the owning MultiIndex's shared block.Layer — an Index
// itself holds no file handle.
type Index struct {
	mi      *MultiIndex
	infoPos int64 // file offset of this index's IndexInfo slot, for Flush
	info    IndexInfo
	cmp     keycodec.Comparator
	label   string
	cur     int64 // cursor leaf position; 0 means BOF (before first entry)
}

func (ix *Index) nodeSize() int { return nodeBlockSize(int(ix.info.KeySize), int(ix.info.MaxItems)) }
func (ix *Index) leafSize() int { return leafBlockSize(int(ix.info.KeySize)) }

// KeyType reports this index's key type.
func (ix *Index) KeyType() keycodec.Type { return ix.info.KeyType }

// KeySize reports this index's fixed key width in bytes.
func (ix *Index) KeySize() int { return int(ix.info.KeySize) }

// IsUnique reports whether duplicate keys are rejected on Insert.
func (ix *Index) IsUnique() bool { return ix.info.Attrs.Has(AttrUnique) }

// CanDelete reports whether Delete is permitted on this index.
func (ix *Index) CanDelete() bool { return ix.info.Attrs.Has(AttrAllowDelete) }

// Label returns the index's name, or "" if it was created without one.
func (ix *Index) Label() string { return ix.label }

// Height reports the number of internal-node levels above the leaf chain.
func (ix *Index) Height() int { return int(ix.info.Height) }

func (ix *Index) readNode(pos int64) (*node, error) {
	buf, err := ix.mi.bl.ReadBlock(pos, ix.nodeSize())
	if err != nil {
		return nil, fmt.Errorf("multiindex: read node at %d: %w", pos, err)
	}
	return decodeNode(buf, int(ix.info.MaxItems), int(ix.info.KeySize)), nil
}

func (ix *Index) writeNode(pos int64, n *node) error {
	if err := ix.mi.bl.WriteBlock(pos, encodeNode(n)); err != nil {
		return fmt.Errorf("multiindex: write node at %d: %w", pos, err)
	}
	return nil
}

func (ix *Index) readLeaf(pos int64) (*leaf, error) {
	buf, err := ix.mi.bl.ReadBlock(pos, ix.leafSize())
	if err != nil {
		return nil, fmt.Errorf("multiindex: read leaf at %d: %w", pos, err)
	}
	return decodeLeaf(buf, int(ix.info.KeySize)), nil
}

func (ix *Index) writeLeaf(pos int64, l *leaf) error {
	if err := ix.mi.bl.WriteBlock(pos, encodeLeaf(l)); err != nil {
		return fmt.Errorf("multiindex: write leaf at %d: %w", pos, err)
	}
	return nil
}

// countEntries walks the leaf chain and counts live entries, leaving the
// index's own cursor untouched.
func (ix *Index) countEntries() (int, error) {
	n := 0
	pos := ix.info.FirstLeaf
	for pos != ix.info.LastLeaf {
		l, err := ix.readLeaf(pos)
		if err != nil {
			return 0, err
		}
		n++
		pos = l.NextLeaf
	}
	return n, nil
}

// flush persists this index's mutable IndexInfo slot. Node/leaf writes are
// already durable by the time WriteBlock returns (spec.md §5: every block
// write syncs), so Flush only needs to cover the info header's root,
// height, free-chain heads, and first-leaf position.
func (ix *Index) flush() error {
	if err := ix.mi.bl.Device().Flush(); err != nil {
		return err
	}
	return writeIndexInfoAt(ix.mi, ix.infoPos, ix.info)
}
