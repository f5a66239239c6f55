// Point lookups.
package quire

import (
	"bytes"
	"fmt"
)

// Get returns the current value for key, or ErrNotFound. The bloom
// filter answers definite misses before the index map is consulted;
// hits read the record back from its segment and verify that the key
// on disk matches the one requested — a mismatch means the in-memory
// index points at a slot the disk does not corroborate and surfaces
// as ErrInvalidKey.
func (s *Store) Get(key []byte) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if !s.bloom.Contains(keyHash(key, s.alg)) {
		return nil, ErrNotFound
	}
	loc, ok := s.index[string(key)]
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := s.readLocation(key, loc)
	if err != nil {
		return nil, err
	}

	if s.compress {
		value, err := unpackValue(rec.Value)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), value...), nil
	}
	return append([]byte(nil), rec.Value...), nil
}

// readLocation reads the record at loc and verifies it carries key.
// Falls back to the staged image when the slot has not been written
// to disk yet. The handle is released unconditionally.
func (s *Store) readLocation(key []byte, loc location) (*Record, error) {
	if rec := s.writer.stagedAt(loc.fileid, loc.offset); rec != nil {
		if !bytes.Equal(rec.Key, key) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
		return rec, nil
	}

	f, err := s.pool.acquire(loc.fileid)
	if err != nil {
		return nil, err
	}
	rec, err := readRecordAt(f, int64(loc.offset))
	s.pool.release(loc.fileid, f)
	if err != nil {
		return nil, err
	}
	if rec == nil || !bytes.Equal(rec.Key, key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return rec, nil
}
