package multiindex

import "encoding/binary"

// nodeItem is one (separator key, child pointer) pair inside an internal
// node. The key is the largest key reachable through Child.
type nodeItem struct {
	Key   []byte
	Child int64
}

// node is an internal B+tree index page: a checksummed block holding up
// to maxItems sorted items plus links to its horizontal neighbors at the
// same height (used only for diagnostic walks; descent never follows
// them).
//
// Items is sized maxItems+2, two slots wider than what is ever persisted:
// slot 0 is unused padding (1-based indexing) and slot maxItems+1 is a
// transient staging slot so insertItem can place an overflowing item
// before splitNode immediately drains it back under the limit. Only
// slots 1..maxItems are ever written to disk (spec.md §6's node block
// layout has no padding slot).
type node struct {
	NumUsed  int // items[1..NumUsed] are live
	NextNode int64
	PrevNode int64
	Items    []nodeItem
	max      int
	keySize  int
}

func newNode(maxItems, keySize int) *node {
	items := make([]nodeItem, maxItems+2)
	for i := range items {
		items[i].Key = make([]byte, keySize)
	}
	return &node{NextNode: noPos, PrevNode: noPos, Items: items, max: maxItems, keySize: keySize}
}

func (n *node) maxItems() int { return n.max }

func encodeNode(n *node) []byte {
	buf := make([]byte, nodeBlockSize(n.keySize, n.maxItems()))
	binary.LittleEndian.PutUint16(buf[1:3], uint16(n.NumUsed))
	binary.LittleEndian.PutUint64(buf[3:11], uint64(n.NextNode))
	binary.LittleEndian.PutUint64(buf[11:19], uint64(n.PrevNode))

	itemSize := nodeItemSize(n.keySize)
	for i := 1; i <= n.max; i++ {
		off := NodeHeaderSize + (i-1)*itemSize
		it := n.Items[i]
		copy(buf[off:off+n.keySize], it.Key)
		binary.LittleEndian.PutUint64(buf[off+n.keySize:off+itemSize], uint64(it.Child))
	}
	return buf
}

func decodeNode(buf []byte, maxItems, keySize int) *node {
	n := newNode(maxItems, keySize)
	n.NumUsed = int(binary.LittleEndian.Uint16(buf[1:3]))
	n.NextNode = int64(binary.LittleEndian.Uint64(buf[3:11]))
	n.PrevNode = int64(binary.LittleEndian.Uint64(buf[11:19]))

	itemSize := nodeItemSize(keySize)
	for i := 1; i <= maxItems; i++ {
		off := NodeHeaderSize + (i-1)*itemSize
		copy(n.Items[i].Key, buf[off:off+keySize])
		n.Items[i].Child = int64(binary.LittleEndian.Uint64(buf[off+keySize : off+itemSize]))
	}
	return n
}
