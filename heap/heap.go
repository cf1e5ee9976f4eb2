// Package heap implements the HeapFile storage engine: a variable-length
// record space with first-fit reuse of deleted extents tracked by a
// chain of fixed-size "holes tables" (spec.md §4.6). There is no
// compaction and no coalescing of adjacent holes — a freed extent stays
// exactly the size it was freed at until some future AllocateSpace
// matches it.
package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/dustin/go-humanize"

	"udbe/block"
)

// HeaderSize is the on-disk size of the file header: chk(1) +
// first_holes_table_pos(8) + holes_table_size(2).
const HeaderSize = 11

// holeRecordSize is the on-disk size of one (position, size) record in a
// holes table.
const holeRecordSize = 16

// holesTableHeaderSize is chk(1) + num_used(2) + next_table_pos(8).
const holesTableHeaderSize = 11

// noTable is the wire-format "nil" sentinel for next_table_pos (spec.md
// §3's blanket rule: a position of -1 means nil for every *_pos field).
const noTable int64 = -1

// File is an open HeapFile.
type File struct {
	bl           *block.Layer
	firstTable   int64
	tableSize    int // records per holes table
	tableBlock   int // bytes per holes table block
}

// CreateFile initializes a brand-new, empty HeapFile on bl, whose holes
// tables will each hold tableSize hole records.
func CreateFile(bl *block.Layer, tableSize int) (*File, error) {
	if tableSize <= 0 {
		return nil, fmt.Errorf("heap: holes table size must be positive, got %d", tableSize)
	}
	f := &File{bl: bl, firstTable: noTable, tableSize: tableSize, tableBlock: holesTableBlockSize(tableSize)}

	// Write the header first so it occupies offset 0 and the first holes
	// table is appended after it.
	if err := f.writeHeader(); err != nil {
		return nil, err
	}
	firstTablePos, err := f.appendBlankTable(noTable)
	if err != nil {
		return nil, err
	}
	f.firstTable = firstTablePos
	if err := f.writeHeader(); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile opens an existing HeapFile.
func OpenFile(bl *block.Layer) (*File, error) {
	buf, err := bl.ReadBlock(0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("heap: read header: %w", err)
	}
	firstTable := int64(binary.LittleEndian.Uint64(buf[1:9]))
	tableSize := int(binary.LittleEndian.Uint16(buf[9:11]))
	return &File{bl: bl, firstTable: firstTable, tableSize: tableSize, tableBlock: holesTableBlockSize(tableSize)}, nil
}

func holesTableBlockSize(tableSize int) int {
	return holesTableHeaderSize + tableSize*holeRecordSize
}

func (f *File) writeHeader() error {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[1:9], uint64(f.firstTable))
	binary.LittleEndian.PutUint16(buf[9:11], uint16(f.tableSize))
	return f.bl.WriteBlock(0, buf)
}

type holeRecord struct {
	Pos  int64
	Size int64
}

type holesTable struct {
	NumUsed       int
	NextTablePos  int64
	Records       []holeRecord
}

func blankHolesTable(tableSize int) *holesTable {
	return &holesTable{NextTablePos: noTable, Records: make([]holeRecord, tableSize)}
}

func encodeHolesTable(t *holesTable, tableSize int) []byte {
	buf := make([]byte, holesTableBlockSize(tableSize))
	binary.LittleEndian.PutUint16(buf[1:3], uint16(t.NumUsed))
	binary.LittleEndian.PutUint64(buf[3:11], uint64(t.NextTablePos))
	for i := 0; i < tableSize; i++ {
		off := holesTableHeaderSize + i*holeRecordSize
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(t.Records[i].Pos))
		binary.LittleEndian.PutUint64(buf[off+8:off+16], uint64(t.Records[i].Size))
	}
	return buf
}

func decodeHolesTable(buf []byte, tableSize int) *holesTable {
	t := blankHolesTable(tableSize)
	t.NumUsed = int(binary.LittleEndian.Uint16(buf[1:3]))
	t.NextTablePos = int64(binary.LittleEndian.Uint64(buf[3:11]))
	for i := 0; i < tableSize; i++ {
		off := holesTableHeaderSize + i*holeRecordSize
		t.Records[i].Pos = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		t.Records[i].Size = int64(binary.LittleEndian.Uint64(buf[off+8 : off+16]))
	}
	return t
}

func (f *File) readTable(pos int64) (*holesTable, error) {
	buf, err := f.bl.ReadBlock(pos, f.tableBlock)
	if err != nil {
		return nil, fmt.Errorf("heap: read holes table at %d: %w", pos, err)
	}
	return decodeHolesTable(buf, f.tableSize), nil
}

func (f *File) writeTable(pos int64, t *holesTable) error {
	if err := f.bl.WriteBlock(pos, encodeHolesTable(t, f.tableSize)); err != nil {
		return fmt.Errorf("heap: write holes table at %d: %w", pos, err)
	}
	return nil
}

// appendBlankTable writes a new, empty holes table at EOF linked from
// nextOf (noTable means it is the first table, written at CreateFile
// time).
func (f *File) appendBlankTable(nextOf int64) (int64, error) {
	pos, err := f.bl.Append(encodeHolesTable(blankHolesTable(f.tableSize), f.tableSize))
	if err != nil {
		return 0, fmt.Errorf("heap: append holes table: %w", err)
	}
	if nextOf != noTable {
		prev, err := f.readTable(nextOf)
		if err != nil {
			return 0, err
		}
		prev.NextTablePos = pos
		if err := f.writeTable(nextOf, prev); err != nil {
			return 0, err
		}
	}
	return pos, nil
}

// AllocateSpace returns a position with room for at least size bytes,
// via first-fit reuse of a recorded hole. If the matched hole is larger
// than needed, it shrinks in place (spec.md §4.6: the leftover stays a
// hole, it is never split into a separate smaller record). If no hole
// fits, space is appended at EOF.
func (f *File) AllocateSpace(size int64) (int64, error) {
	if size <= 0 {
		return 0, fmt.Errorf("heap: allocate size must be positive, got %d", size)
	}

	tablePos := f.firstTable
	for tablePos != noTable {
		t, err := f.readTable(tablePos)
		if err != nil {
			return 0, err
		}
		for i := 0; i < t.NumUsed; i++ {
			if t.Records[i].Size >= size {
				pos := t.Records[i].Pos
				if t.Records[i].Size > size {
					t.Records[i].Pos += size
					t.Records[i].Size -= size
				} else {
					f.removeRecord(t, i)
				}
				if err := f.writeTable(tablePos, t); err != nil {
					return 0, err
				}
				return pos, nil
			}
		}
		tablePos = t.NextTablePos
	}

	pos, err := f.bl.Device().Size()
	if err != nil {
		return 0, fmt.Errorf("heap: allocate at eof: %w", err)
	}
	if _, err := f.bl.Device().Write(make([]byte, size), pos); err != nil {
		return 0, fmt.Errorf("heap: extend file for allocation: %w", err)
	}
	return pos, nil
}

// removeRecord deletes records[i] by swapping in the last used record,
// matching the order-doesn't-matter scan AllocateSpace already does.
func (f *File) removeRecord(t *holesTable, i int) {
	last := t.NumUsed - 1
	t.Records[i] = t.Records[last]
	t.Records[last] = holeRecord{}
	t.NumUsed--
}

// FreeSpace records pos/size as a reusable hole, appending it to the
// first holes table with a free slot, or a brand-new table at the end of
// the chain if every existing table is full. Adjacent holes are never
// merged (spec.md's no-coalescing non-goal).
func (f *File) FreeSpace(pos, size int64) error {
	if size <= 0 {
		return fmt.Errorf("heap: free size must be positive, got %d", size)
	}

	tablePos := f.firstTable
	var lastPos int64
	for tablePos != noTable {
		t, err := f.readTable(tablePos)
		if err != nil {
			return err
		}
		if t.NumUsed < f.tableSize {
			t.Records[t.NumUsed] = holeRecord{Pos: pos, Size: size}
			t.NumUsed++
			return f.writeTable(tablePos, t)
		}
		lastPos = tablePos
		tablePos = t.NextTablePos
	}

	newPos, err := f.appendBlankTable(lastPos)
	if err != nil {
		return err
	}
	t, err := f.readTable(newPos)
	if err != nil {
		return err
	}
	t.Records[0] = holeRecord{Pos: pos, Size: size}
	t.NumUsed = 1
	return f.writeTable(newPos, t)
}

// Stats summarizes the current hole inventory, grounded on the teacher's
// bufferpool diagnostics style of reporting simple running counts.
type Stats struct {
	NumTables    int
	NumHoles     int
	FreeBytes    int64
	FileBytes    int64
}

// String renders Stats using human-readable byte counts (go-humanize),
// in the spirit of the teacher's own diagnostic log lines.
func (s Stats) String() string {
	return fmt.Sprintf("%d holes across %d tables, %s free of %s total",
		s.NumHoles, s.NumTables, humanize.Bytes(uint64(s.FreeBytes)), humanize.Bytes(uint64(s.FileBytes)))
}

// Stats walks the holes-table chain and reports current utilization.
func (f *File) Stats() (Stats, error) {
	var s Stats
	tablePos := f.firstTable
	for tablePos != noTable {
		t, err := f.readTable(tablePos)
		if err != nil {
			return Stats{}, err
		}
		s.NumTables++
		for i := 0; i < t.NumUsed; i++ {
			s.NumHoles++
			s.FreeBytes += t.Records[i].Size
		}
		tablePos = t.NextTablePos
	}
	fileBytes, err := f.bl.Device().Size()
	if err != nil {
		return Stats{}, err
	}
	s.FileBytes = fileBytes
	return s, nil
}

// Utilization returns the fraction of the file's bytes that are not
// currently recorded as free holes, in [0,1].
func (s Stats) Utilization() float64 {
	if s.FileBytes == 0 {
		return 1
	}
	return 1 - float64(s.FreeBytes)/float64(s.FileBytes)
}

// Close flushes and releases the underlying device.
func (f *File) Close() error {
	if err := f.bl.Device().Flush(); err != nil {
		return err
	}
	return f.bl.Device().Close()
}
