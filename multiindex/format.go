// Package multiindex implements the MultiIndex storage engine: a
// free-list-backed B+tree engine plus the container that lets several
// named indexes share one file and switch between them.
//
// Block layouts are byte-packed and little-endian throughout, grounded on
// the teacher's node_to_index_page.go (storage_engine/access/indexfile_manager/bplustree),
// which hand-encodes every field with encoding/binary rather than mirroring
// a native struct over the wire.
package multiindex

import (
	"encoding/binary"
	"fmt"

	"udbe/keycodec"
)

// IndexAttribute is a bitmask carried in IndexInfo.Attrs.
type IndexAttribute uint16

const (
	AttrUnique      IndexAttribute = 1 << 0 // duplicate keys rejected on insert
	AttrAllowDelete IndexAttribute = 1 << 1 // Delete is permitted on this index
)

func (a IndexAttribute) Has(flag IndexAttribute) bool { return a&flag != 0 }

// noPos is the wire-format "nil" sentinel for every *_pos field: free-list
// and leaf/node chain links, and the EOF sentinel leaf's data_pos
// (spec.md §3). Block position 0 is always the file header, so it could
// have doubled as a nil marker, but the spec's own on-disk contract uses
// -1 and every tool reading this format expects that.
const noPos int64 = -1

// FileHeaderSize is the on-disk size of FileHeader: chk(1) + num_indexes(2).
const FileHeaderSize = 3

// FileHeader sits at offset 0 of a MultiIndex file.
type FileHeader struct {
	NumIndexes uint16
}

func encodeFileHeader(h FileHeader) []byte {
	buf := make([]byte, FileHeaderSize)
	binary.LittleEndian.PutUint16(buf[1:3], h.NumIndexes)
	return buf
}

func decodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) != FileHeaderSize {
		return FileHeader{}, fmt.Errorf("multiindex: file header must be %d bytes, got %d", FileHeaderSize, len(buf))
	}
	return FileHeader{NumIndexes: binary.LittleEndian.Uint16(buf[1:3])}, nil
}

// coreIndexInfoSize is the on-disk size of the spec's original
// IndexInfo fields: 67 bytes.
const coreIndexInfoSize = 67

// labelSize is the width of the EXPANSION label field appended after the
// core 67 bytes, so IndexByName survives a close/reopen without
// disturbing the original layout any existing tooling might parse.
const labelSize = 16

// IndexInfoSize is the on-disk size of one IndexInfo record, core fields
// plus the appended label.
const IndexInfoSize = coreIndexInfoSize + labelSize

// IndexInfo describes one index's static shape and mutable tree state. It
// is stored in a fixed-size slot following the FileHeader, one slot per
// index, in creation order.
type IndexInfo struct {
	Attrs       IndexAttribute
	KeyType     keycodec.Type
	KeySize     uint16
	MaxItems    uint16 // fan-out of an internal node
	NodeBatch   int64  // number of node blocks pre-created per batch
	LeafBatch   int64  // number of leaf blocks pre-created per batch
	FreeNode    int64  // head of the free node chain, noPos if empty
	FreeLeaf    int64  // head of the free leaf chain, noPos if empty
	Height      uint16 // number of internal-node levels above the leaf chain
	Root        int64  // position of the root node (height is always >= 1)
	FirstLeaf   int64  // position of the leftmost leaf (BOF sentinel side)
	LastLeaf    int64  // position of the EOF sentinel leaf
	Label       [16]byte // EXPANSION: NUL-terminated name, used by IndexByName; zero value degrades to positional access only
}

func encodeIndexInfo(info IndexInfo) []byte {
	buf := make([]byte, IndexInfoSize)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(info.Attrs))
	binary.LittleEndian.PutUint16(buf[3:5], uint16(info.KeyType))
	binary.LittleEndian.PutUint16(buf[5:7], info.KeySize)
	binary.LittleEndian.PutUint16(buf[7:9], info.MaxItems)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(info.NodeBatch))
	binary.LittleEndian.PutUint64(buf[17:25], uint64(info.LeafBatch))
	binary.LittleEndian.PutUint64(buf[25:33], uint64(info.FreeNode))
	binary.LittleEndian.PutUint64(buf[33:41], uint64(info.FreeLeaf))
	binary.LittleEndian.PutUint16(buf[41:43], info.Height)
	binary.LittleEndian.PutUint64(buf[43:51], uint64(info.Root))
	binary.LittleEndian.PutUint64(buf[51:59], uint64(info.FirstLeaf))
	binary.LittleEndian.PutUint64(buf[59:67], uint64(info.LastLeaf))
	copy(buf[coreIndexInfoSize:], info.Label[:])
	return buf
}

func decodeIndexInfo(buf []byte) (IndexInfo, error) {
	if len(buf) != IndexInfoSize {
		return IndexInfo{}, fmt.Errorf("multiindex: index info must be %d bytes, got %d", IndexInfoSize, len(buf))
	}
	return IndexInfo{
		Attrs:     IndexAttribute(binary.LittleEndian.Uint16(buf[1:3])),
		KeyType:   keycodec.Type(binary.LittleEndian.Uint16(buf[3:5])),
		KeySize:   binary.LittleEndian.Uint16(buf[5:7]),
		MaxItems:  binary.LittleEndian.Uint16(buf[7:9]),
		NodeBatch: int64(binary.LittleEndian.Uint64(buf[9:17])),
		LeafBatch: int64(binary.LittleEndian.Uint64(buf[17:25])),
		FreeNode:  int64(binary.LittleEndian.Uint64(buf[25:33])),
		FreeLeaf:  int64(binary.LittleEndian.Uint64(buf[33:41])),
		Height:    binary.LittleEndian.Uint16(buf[41:43]),
		Root:      int64(binary.LittleEndian.Uint64(buf[43:51])),
		FirstLeaf: int64(binary.LittleEndian.Uint64(buf[51:59])),
		LastLeaf:  int64(binary.LittleEndian.Uint64(buf[59:67])),
		Label:     [16]byte(buf[coreIndexInfoSize:IndexInfoSize]),
	}, nil
}

// NodeHeaderSize is the fixed part of a Node block: chk(1)+numused(2)+nextnode(8)+prevnode(8).
const NodeHeaderSize = 19

// nodeItemSize returns the size of one node item: key_size bytes plus an
// 8-byte child pointer.
func nodeItemSize(keySize int) int { return keySize + 8 }

// nodeBlockSize returns the total on-disk size of a node with room for
// maxItems items: spec.md §6's node_header + max_items × (key_size + 8).
// Items are addressed 1-based in memory (node.go keeps an extra unused
// slot 0 for that), but only items 1..maxItems are ever persisted.
func nodeBlockSize(keySize, maxItems int) int {
	return NodeHeaderSize + maxItems*nodeItemSize(keySize)
}

// LeafHeaderSize is the fixed part of a Leaf block: chk(1)+nextleaf(8)+prevleaf(8)+datapos(8).
const LeafHeaderSize = 25

// leafBlockSize returns the total on-disk size of a leaf holding one key
// of keySize bytes.
func leafBlockSize(keySize int) int { return LeafHeaderSize + keySize }
