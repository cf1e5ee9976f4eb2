package multiindex

import "encoding/binary"

// leaf is one entry in the horizontally-linked leaf chain: a single
// sorted key, the data-file offset it maps to, and links to its
// neighbors. The chain's rightmost element is always the EOF sentinel
// (spec.md §4.4.6): its key is keycodec's per-type maximum, its DataPos
// is noPos, and NextLeaf is noPos.
type leaf struct {
	NextLeaf int64
	PrevLeaf int64
	DataPos  int64
	Key      []byte
}

func newLeaf(keySize int) *leaf {
	return &leaf{NextLeaf: noPos, PrevLeaf: noPos, DataPos: noPos, Key: make([]byte, keySize)}
}

func encodeLeaf(l *leaf) []byte {
	buf := make([]byte, leafBlockSize(len(l.Key)))
	binary.LittleEndian.PutUint64(buf[1:9], uint64(l.NextLeaf))
	binary.LittleEndian.PutUint64(buf[9:17], uint64(l.PrevLeaf))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(l.DataPos))
	copy(buf[LeafHeaderSize:], l.Key)
	return buf
}

func decodeLeaf(buf []byte, keySize int) *leaf {
	l := newLeaf(keySize)
	l.NextLeaf = int64(binary.LittleEndian.Uint64(buf[1:9]))
	l.PrevLeaf = int64(binary.LittleEndian.Uint64(buf[9:17]))
	l.DataPos = int64(binary.LittleEndian.Uint64(buf[17:25]))
	copy(l.Key, buf[LeafHeaderSize:])
	return l
}

// isEOF reports whether l is the tree's sentinel tail leaf.
func (l *leaf) isEOF() bool { return l.NextLeaf == noPos }
