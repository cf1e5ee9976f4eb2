package multiindex

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"udbe/block"
	"udbe/keycodec"
)

// defaultBatchSize is how many node or leaf blocks a free-list allocator
// pre-creates at EOF when its free chain runs dry (spec.md §4.3).
const defaultBatchSize = 16

// MultiIndex is a file holding one or more independently-typed B+tree
// indexes, with a single "active" index selected at a time (spec.md §6)
// through SetActiveIndex and read back with Active. Cursor and mutation
// calls are methods on *Index and act on that index whether or not it is
// the active one.
type MultiIndex struct {
	bl      *block.Layer
	header  FileHeader
	indexes []*Index
	active  int // index into indexes, -1 if none selected
}

// IndexSpec describes the index CreateIndex should add to the file.
type IndexSpec struct {
	KeyType       keycodec.Type
	KeySize       int
	MaxItems      int // internal node fan-out; must be >= 3
	Unique        bool
	AllowDelete   bool
	Label         string // EXPANSION: optional name for IndexByName
	NodeBatchSize int    // 0 uses defaultBatchSize
	LeafBatchSize int    // 0 uses defaultBatchSize
}

// CreateFile initializes a brand-new, empty MultiIndex file on bl. bl must
// point at a zero-length device.
func CreateFile(bl *block.Layer) (*MultiIndex, error) {
	mi := &MultiIndex{bl: bl, header: FileHeader{NumIndexes: 0}, active: -1}
	if err := mi.writeHeader(); err != nil {
		return nil, err
	}
	return mi, nil
}

// OpenFile reads an existing MultiIndex file's header and every index's
// IndexInfo slot.
func OpenFile(bl *block.Layer) (*MultiIndex, error) {
	buf, err := bl.ReadBlock(0, FileHeaderSize)
	if err != nil {
		return nil, fmt.Errorf("multiindex: read file header: %w", err)
	}
	hdr, err := decodeFileHeader(buf)
	if err != nil {
		return nil, err
	}

	mi := &MultiIndex{bl: bl, header: hdr, active: -1}
	for i := 0; i < int(hdr.NumIndexes); i++ {
		pos := indexInfoPos(i)
		ibuf, err := bl.ReadBlock(pos, IndexInfoSize)
		if err != nil {
			return nil, fmt.Errorf("multiindex: read index info %d: %w", i, err)
		}
		info, err := decodeIndexInfo(ibuf)
		if err != nil {
			return nil, err
		}
		cmp, err := keycodec.NewComparator(info.KeyType, int(info.KeySize))
		if err != nil {
			return nil, fmt.Errorf("multiindex: index %d: %w", i, err)
		}
		mi.indexes = append(mi.indexes, &Index{
			mi:      mi,
			infoPos: pos,
			info:    info,
			cmp:     cmp,
			label:   labelFromBytes(info.Label),
		})
	}
	if len(mi.indexes) > 0 {
		mi.active = 0
	}
	return mi, nil
}

func indexInfoPos(ordinal int) int64 {
	return FileHeaderSize + int64(ordinal)*IndexInfoSize
}

func (mi *MultiIndex) writeHeader() error {
	return mi.bl.WriteBlock(0, encodeFileHeader(mi.header))
}

func writeIndexInfoAt(mi *MultiIndex, pos int64, info IndexInfo) error {
	return mi.bl.WriteBlock(pos, encodeIndexInfo(info))
}

func labelFromBytes(b [16]byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:])
}

func labelToBytes(s string) [16]byte {
	var out [16]byte
	copy(out[:], s) // truncates silently past 16 bytes; a 16-byte label has no NUL
	return out
}

// CreateIndex appends a new, empty index to the file and makes it the
// active index. The new index's tree starts at height 1: a single-item
// root node addressing the lone EOF sentinel leaf.
func (mi *MultiIndex) CreateIndex(spec IndexSpec) (*Index, error) {
	if spec.MaxItems < 3 {
		return nil, fmt.Errorf("multiindex: max_items must be >= 3, got %d", spec.MaxItems)
	}
	cmp, err := keycodec.NewComparator(spec.KeyType, spec.KeySize)
	if err != nil {
		return nil, err
	}

	nodeBatch := spec.NodeBatchSize
	if nodeBatch <= 0 {
		nodeBatch = defaultBatchSize
	}
	leafBatch := spec.LeafBatchSize
	if leafBatch <= 0 {
		leafBatch = defaultBatchSize
	}

	var attrs IndexAttribute
	if spec.Unique {
		attrs |= AttrUnique
	}
	if spec.AllowDelete {
		attrs |= AttrAllowDelete
	}

	ordinal := len(mi.indexes)
	info := IndexInfo{
		Attrs:     attrs,
		KeyType:   spec.KeyType,
		KeySize:   uint16(spec.KeySize),
		MaxItems:  uint16(spec.MaxItems),
		NodeBatch: int64(nodeBatch),
		LeafBatch: int64(leafBatch),
		FreeNode:  noPos,
		FreeLeaf:  noPos,
		Height:    0,
		Label:     labelToBytes(spec.Label),
	}

	ix := &Index{mi: mi, infoPos: indexInfoPos(ordinal), info: info, cmp: cmp, label: spec.Label}

	// Write the IndexInfo slot before allocating any block, so the first
	// leaf and node batches are appended after it instead of over it.
	if err := writeIndexInfoAt(mi, ix.infoPos, ix.info); err != nil {
		return nil, err
	}

	// An empty tree is one EOF sentinel leaf addressed by a single-item
	// root node, so descent (locate) never has to special-case height 0.
	eofPos, eof, err := ix.allocLeaf()
	if err != nil {
		return nil, err
	}
	copy(eof.Key, cmp.EOFSentinel())
	if err := ix.writeLeaf(eofPos, eof); err != nil {
		return nil, err
	}
	ix.info.FirstLeaf = eofPos
	ix.info.LastLeaf = eofPos

	rootPos, root, err := ix.allocNode()
	if err != nil {
		return nil, err
	}
	copy(root.Items[1].Key, eof.Key)
	root.Items[1].Child = eofPos
	root.NumUsed = 1
	if err := ix.writeNode(rootPos, root); err != nil {
		return nil, err
	}
	ix.info.Root = rootPos
	ix.info.Height = 1

	if err := writeIndexInfoAt(mi, ix.infoPos, ix.info); err != nil {
		return nil, err
	}

	mi.indexes = append(mi.indexes, ix)
	mi.header.NumIndexes++
	if err := mi.writeHeader(); err != nil {
		return nil, err
	}
	mi.active = ordinal
	return ix, nil
}

// NumIndexes reports how many indexes this file holds.
func (mi *MultiIndex) NumIndexes() int { return len(mi.indexes) }

// SetActiveIndex selects the index at the given 1-based ordinal, matching
// spec.md §6's 1-indexed index numbering.
func (mi *MultiIndex) SetActiveIndex(ordinal int) error {
	if ordinal < 1 || ordinal > len(mi.indexes) {
		return fmt.Errorf("%w: ordinal %d, have %d indexes", ErrIndexNotFound, ordinal, len(mi.indexes))
	}
	mi.active = ordinal - 1
	return nil
}

// IndexByName selects the index whose Label matches name, an EXPANSION
// convenience over the spec's purely ordinal SetActiveIndex. It returns
// ErrIndexNotFound if no index carries that label (including files
// written before labels existed, whose Label is all zero bytes).
func (mi *MultiIndex) IndexByName(name string) (*Index, error) {
	for _, ix := range mi.indexes {
		if ix.label == name && name != "" {
			return ix, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrIndexNotFound, name)
}

// Active returns the currently active index, or ErrNoActiveIndex if none
// has been selected (an empty file, or CreateIndex/SetActiveIndex never
// called).
func (mi *MultiIndex) Active() (*Index, error) {
	if mi.active < 0 {
		return nil, ErrNoActiveIndex
	}
	return mi.indexes[mi.active], nil
}

// Index returns the index at the given 1-based ordinal without changing
// which index is active.
func (mi *MultiIndex) Index(ordinal int) (*Index, error) {
	if ordinal < 1 || ordinal > len(mi.indexes) {
		return nil, fmt.Errorf("%w: ordinal %d, have %d indexes", ErrIndexNotFound, ordinal, len(mi.indexes))
	}
	return mi.indexes[ordinal-1], nil
}

// FlushIndex persists the active index's mutable header fields (root,
// height, free-chain heads, first-leaf position).
func (mi *MultiIndex) FlushIndex() error {
	ix, err := mi.Active()
	if err != nil {
		return err
	}
	return ix.flush()
}

// FlushFile persists every index's header plus the file header itself.
func (mi *MultiIndex) FlushFile() error {
	for _, ix := range mi.indexes {
		if err := ix.flush(); err != nil {
			return err
		}
	}
	return mi.writeHeader()
}

// Stats summarizes the file's overall shape: how many indexes it holds,
// each one's live entry count, and the on-disk size, grounded on the
// same running-counts diagnostic style as heap.Stats.
type Stats struct {
	NumIndexes int
	Entries    []int // Entries[i] is the live leaf count of index i+1
	FileBytes  int64
}

// String renders Stats using human-readable byte counts (go-humanize),
// matching heap.Stats.String's formatting.
func (s Stats) String() string {
	total := 0
	for _, n := range s.Entries {
		total += n
	}
	return fmt.Sprintf("%d index(es), %s entries total, %s on disk",
		s.NumIndexes, humanize.Comma(int64(total)), humanize.Bytes(uint64(s.FileBytes)))
}

// Stats walks every index's leaf chain to count its live entries and
// reports the file's current size.
func (mi *MultiIndex) Stats() (Stats, error) {
	s := Stats{NumIndexes: len(mi.indexes), Entries: make([]int, len(mi.indexes))}
	for i, ix := range mi.indexes {
		n, err := ix.countEntries()
		if err != nil {
			return Stats{}, err
		}
		s.Entries[i] = n
	}
	fileBytes, err := mi.bl.Device().Size()
	if err != nil {
		return Stats{}, err
	}
	s.FileBytes = fileBytes
	return s, nil
}

// Close flushes every index and releases the underlying device.
func (mi *MultiIndex) Close() error {
	if err := mi.FlushFile(); err != nil {
		return err
	}
	return mi.bl.Device().Close()
}
