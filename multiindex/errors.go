package multiindex

import "errors"

var (
	// ErrNotFound is returned by Find when no entry matches the given key.
	ErrNotFound = errors.New("multiindex: key not found")
	// ErrDuplicateKey is returned by Insert on a unique index when the key
	// already exists.
	ErrDuplicateKey = errors.New("multiindex: duplicate key on unique index")
	// ErrDeleteNotAllowed is returned by Delete when the active index was
	// not created with AttrAllowDelete.
	ErrDeleteNotAllowed = errors.New("multiindex: index does not allow delete")
	// ErrNoActiveIndex is returned by Active and FlushIndex when no index
	// is selected.
	ErrNoActiveIndex = errors.New("multiindex: no active index selected")
	// ErrIndexNotFound is returned by IndexByName/SetActiveIndex for an
	// unknown name or out-of-range ordinal.
	ErrIndexNotFound = errors.New("multiindex: index not found")
	// ErrKeySize is returned when a caller passes a key buffer whose length
	// does not match the active index's KeySize.
	ErrKeySize = errors.New("multiindex: key has wrong size for this index")
)
