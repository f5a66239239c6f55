// Package quire provides an embedded, append-only key-value store.
//
// A database is a directory of fixed-capacity segment files. Records are
// written once and superseded by appending a newer version; deleted
// records are overwritten in place with gap markers and their space is
// tracked by a per-segment free list until a compaction relocates the
// survivors and retires the segment.
package quire

import "errors"

// Sentinel errors returned by store operations.
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrKeyTooLarge is returned when a key exceeds MaxKeySize bytes.
	ErrKeyTooLarge = errors.New("key exceeds maximum size")

	// ErrEmptyKey is returned for zero-length keys. A zero keysize on
	// disk marks a gap, so empty keys cannot be represented.
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrEmptyValue is returned when attempting to store an empty value.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrValueTooLarge is returned when a value exceeds MaxValueSize bytes.
	ErrValueTooLarge = errors.New("value exceeds maximum size")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrLocked is returned when another process holds the database lock.
	ErrLocked = errors.New("database is locked by another process")

	// ErrAllocate is returned when a free list has no extent large
	// enough for a request. The file pool recovers internally by
	// creating a new segment; the error escapes only when the request
	// cannot fit in an empty segment.
	ErrAllocate = errors.New("allocate failed")

	// ErrDoubleFree is returned when releasing an extent whose start
	// offset is already free. Indicates corruption; fatal.
	ErrDoubleFree = errors.New("extent already free")

	// ErrInvalidFileID is returned when a segment id is not registered
	// with the file pool. Fatal.
	ErrInvalidFileID = errors.New("unknown segment id")

	// ErrInvalidKey is returned when the in-memory index points at a
	// location that does not decode to a matching record. Indicates a
	// crash-recovery gap; must be surfaced.
	ErrInvalidKey = errors.New("key in index but not on disk")

	// ErrClock is returned when the clock cannot produce a usable
	// timestamp after retrying.
	ErrClock = errors.New("clock failed")

	// ErrShortRead is returned when a record or page is truncated.
	ErrShortRead = errors.New("short read")

	// ErrSizeOverflow is returned when a decoded size field exceeds its
	// containing segment or page.
	ErrSizeOverflow = errors.New("size overflow")

	// ErrCorruptManifest is returned when the MANIFEST cannot be parsed
	// or conflicts with the requested configuration.
	ErrCorruptManifest = errors.New("corrupt manifest")

	// ErrDecompress is returned when a stored value fails to decompress.
	ErrDecompress = errors.New("decompress failed")
)
