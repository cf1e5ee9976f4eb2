package blockio

import "errors"

// Error kinds surfaced by the block device and the layers built on top of
// it. Callers that prefer errors.Is over inspecting LastError() can match
// on these directly.
var (
	ErrClosed          = errors.New("blockio: device is closed")
	ErrCorrupt         = errors.New("blockio: checksum mismatch, block is corrupt")
	ErrInvalidArgument = errors.New("blockio: invalid argument")
	ErrOutOfRange      = errors.New("blockio: position out of range")
)
