// Package blockio is the Block Device layer: random-access byte I/O at
// explicit 64-bit offsets over a single open file handle, guarded by one
// mutex per device.
//
// Grounded on the teacher's storage_engine/disk_manager (os.File +
// ReadAt/WriteAt at explicit offsets, one mutex per file) but scoped down
// to a single file per Device — this engine never multiplexes several
// logical files behind one handle the way the teacher's global page-ID
// space does.
package blockio

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Origin selects the reference point for Seek, mirroring io.Seeker's
// whence values without importing them as magic numbers at call sites.
type Origin int

const (
	SeekStart   Origin = iota // relative to the beginning of the file
	SeekCurrent               // relative to the current cursor
	SeekEnd                   // relative to the end of the file
)

// Device owns one *os.File and serializes every operation on it behind mu.
//
// Public methods take the lock and never call another public method while
// holding it; any internal call from one public method into the logic of
// another goes through the unexported *Locked helper instead. That is how
// this type gets the re-entrancy spec.md §9 asks for without a recursive
// mutex type, which Go's standard library does not provide.
type Device struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	cursor int64
	closed bool
	lastErr error
}

// OpenNew creates path, truncating it if it already exists, and returns a
// Device ready for use.
func OpenNew(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockio: open_new %s: %w", path, err)
	}
	return &Device{file: f, path: path}, nil
}

// OpenExisting opens an already-existing file at path for read/write.
func OpenExisting(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("blockio: open_existing %s: %w", path, err)
	}
	return &Device{file: f, path: path}, nil
}

// Path returns the file path this device was opened with.
func (d *Device) Path() string {
	return d.path
}

// Read fills buf (up to len(buf) bytes) starting at pos and returns the
// number of bytes actually read. Short reads at EOF are not an error, to
// match the contract in spec.md §4.1.
func (d *Device) Read(buf []byte, pos int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readLocked(buf, pos)
}

func (d *Device) readLocked(buf []byte, pos int64) (int, error) {
	if d.closed {
		return 0, d.fail(ErrClosed)
	}
	if pos < 0 {
		return 0, d.fail(fmt.Errorf("%w: negative read position %d", ErrInvalidArgument, pos))
	}
	n, err := d.file.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return n, d.fail(fmt.Errorf("blockio: read at %d: %w", pos, err))
	}
	// io.EOF with n < len(buf) is a short read, not a failure.
	return n, nil
}

// Write writes buf at pos, extending the file if pos+len(buf) is past the
// current end. Every write flushes before returning (spec.md §5).
func (d *Device) Write(buf []byte, pos int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeLocked(buf, pos)
}

func (d *Device) writeLocked(buf []byte, pos int64) (int, error) {
	if d.closed {
		return 0, d.fail(ErrClosed)
	}
	if pos < 0 {
		return 0, d.fail(fmt.Errorf("%w: negative write position %d", ErrInvalidArgument, pos))
	}
	n, err := d.file.WriteAt(buf, pos)
	if err != nil {
		return n, d.fail(fmt.Errorf("blockio: write at %d: %w", pos, err))
	}
	if err := d.file.Sync(); err != nil {
		return n, d.fail(fmt.Errorf("blockio: sync after write at %d: %w", pos, err))
	}
	return n, nil
}

// Seek repositions the device's internal cursor, used only by callers that
// want sequential-style access (e.g. a dump tool walking the file
// linearly); ReadAt/WriteAt-style callers such as the block layer always
// pass an explicit position and never touch the cursor.
func (d *Device) Seek(pos int64, origin Origin) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, d.fail(ErrClosed)
	}

	sz, err := d.sizeLocked()
	if err != nil {
		return 0, err
	}

	var newPos int64
	switch origin {
	case SeekStart:
		newPos = pos
	case SeekCurrent:
		newPos = d.cursor + pos
	case SeekEnd:
		newPos = sz + pos
	default:
		return 0, d.fail(fmt.Errorf("%w: unknown seek origin %d", ErrInvalidArgument, origin))
	}
	if newPos < 0 {
		return 0, d.fail(fmt.Errorf("%w: seek before start of file", ErrOutOfRange))
	}
	d.cursor = newPos
	return newPos, nil
}

// Size returns the current file size in bytes.
func (d *Device) Size() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sizeLocked()
}

func (d *Device) sizeLocked() (int64, error) {
	if d.closed {
		return 0, d.fail(ErrClosed)
	}
	fi, err := d.file.Stat()
	if err != nil {
		return 0, d.fail(fmt.Errorf("blockio: stat %s: %w", d.path, err))
	}
	return fi.Size(), nil
}

// Flush syncs any OS-buffered data to stable storage. Write already
// flushes per call, so Flush is mainly useful after a batch of Writes on a
// device configured to skip the per-write sync (none are, today — kept for
// symmetry with the C++ original's explicit flush() call).
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return d.fail(ErrClosed)
	}
	if err := d.file.Sync(); err != nil {
		return d.fail(fmt.Errorf("blockio: flush: %w", err))
	}
	return nil
}

// Close flushes and releases the underlying file handle. Safe to call more
// than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("blockio: close %s: %w", d.path, err)
	}
	return nil
}

// LastError returns the most recent failure recorded by this device, for
// callers that prefer polling a field over checking every return value.
func (d *Device) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Device) fail(err error) error {
	d.lastErr = err
	return err
}
