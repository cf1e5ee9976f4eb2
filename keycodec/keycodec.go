// Package keycodec implements the total-order comparator and EOF-sentinel
// generation for the 7 key types a MultiIndex can carry.
package keycodec

import "fmt"

// Type identifies one of the 7 supported key encodings. The numeric values
// are persisted on disk in IndexInfo.KeyType — do not renumber.
type Type uint16

const (
	OpaqueMSBFirst Type = iota // memcmp from byte 0 upward
	OpaqueLSBFirst             // compare from byte key_size-1 downward (big-endian-in-buffer numbers)
	Int16                      // native signed 16-bit
	Int32                      // native signed 32-bit
	String                     // NUL-terminated, byte-wise (C collation)
	Bool                       // false < true
	Byte                       // unsigned byte compare
)

func (t Type) String() string {
	switch t {
	case OpaqueMSBFirst:
		return "OPAQUE_MSB_FIRST"
	case OpaqueLSBFirst:
		return "OPAQUE_LSB_FIRST"
	case Int16:
		return "INT16"
	case Int32:
		return "INT32"
	case String:
		return "STRING"
	case Bool:
		return "BOOL"
	case Byte:
		return "BYTE"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// FixedSize reports the on-disk width a key of this type must have, or 0
// if the type is sized by the index's own key_size (opaque blocks and
// strings).
func (t Type) FixedSize() int {
	switch t {
	case Int16:
		return 2
	case Int32:
		return 4
	case Bool, Byte:
		return 1
	default:
		return 0
	}
}

// Comparator is a total order over fixed-width key buffers of the size an
// index was created with.
type Comparator struct {
	typ     Type
	keySize int
}

// NewComparator builds a Comparator for typ over keys of keySize bytes.
// keySize is ignored (but still validated for the fixed-width types) for
// Int16/Int32/Bool/Byte, whose width is intrinsic to the type.
func NewComparator(typ Type, keySize int) (Comparator, error) {
	if fixed := typ.FixedSize(); fixed != 0 && fixed != keySize {
		return Comparator{}, fmt.Errorf("keycodec: key type %s requires key_size %d, got %d", typ, fixed, keySize)
	}
	if keySize <= 0 {
		return Comparator{}, fmt.Errorf("keycodec: key_size must be positive, got %d", keySize)
	}
	return Comparator{typ: typ, keySize: keySize}, nil
}

// Type returns the key type this comparator was built for.
func (c Comparator) Type() Type { return c.typ }

// KeySize returns the fixed byte width this comparator operates on.
func (c Comparator) KeySize() int { return c.keySize }

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b. Both a and b must be exactly KeySize() bytes.
func (c Comparator) Compare(a, b []byte) int {
	switch c.typ {
	case OpaqueMSBFirst:
		return compareBytesMSBFirst(a, b)
	case String:
		return compareStringNulTerminated(a, b)
	case OpaqueLSBFirst:
		return compareBytesLSBFirst(a, b)
	case Int16:
		return compareInt16(a, b)
	case Int32:
		return compareInt32(a, b)
	case Bool:
		return compareByteValue(a[0], b[0])
	case Byte:
		return compareByteValue(a[0], b[0])
	default:
		panic(fmt.Sprintf("keycodec: unknown key type %d", c.typ))
	}
}

func compareBytesMSBFirst(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// compareStringNulTerminated mirrors C's strcmp: it stops at the first
// NUL byte rather than scanning the whole key_size buffer, so whatever
// garbage a caller leaves past the terminator never affects ordering.
func compareStringNulTerminated(a, b []byte) int {
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
		if a[i] == 0 {
			return 0
		}
	}
	return 0
}

func compareBytesLSBFirst(a, b []byte) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func compareByteValue(a, b byte) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt16(a, b []byte) int {
	av := int16(uint16(a[0]) | uint16(a[1])<<8)
	bv := int16(uint16(b[0]) | uint16(b[1])<<8)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

func compareInt32(a, b []byte) int {
	av := int32(uint32(a[0]) | uint32(a[1])<<8 | uint32(a[2])<<16 | uint32(a[3])<<24)
	bv := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}

// EOFSentinel returns the per-type bit pattern used as the tree's
// "infinity" key: the rightmost leaf's stored key, which must compare
// strictly greater than any ordinary key of this type and size.
//
// It starts from all-0xFF bytes and then adjusts the pattern per type so
// the comparator's notion of "maximum" agrees with it (spec.md §4.2).
// For OpaqueLSBFirst the cleared bit sits in byte 0, which that type
// compares last, so a key whose other bytes are all 0xFF and whose byte 0
// is 0x80 or above compares greater than the sentinel.
func (c Comparator) EOFSentinel() []byte {
	buf := make([]byte, c.keySize)
	for i := range buf {
		buf[i] = 0xFF
	}
	switch c.typ {
	case String:
		buf[len(buf)-1] = 0x00 // NUL terminator preserved
	case OpaqueLSBFirst:
		buf[0] &^= 0x80 // clear high bit of byte 0
	case Int16, Int32:
		buf[len(buf)-1] &^= 0x80 // clear the sign bit, held in byte key_size-1 (little-endian)
	}
	return buf
}
