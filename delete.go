// Record deletion by in-place tombstoning.
//
// A delete does not move any bytes: the record's slot is overwritten
// with zeros of the same allocation size, turning it into a gap that
// scanners skip, and the extent goes back to the segment's free list
// for reuse. The removed value is returned to the caller.
package quire

// Remove deletes a key and returns its last value, or ErrNotFound.
func (s *Store) Remove(key []byte, writeNow, syncNow bool) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.removeLocked(key, writeNow, syncNow)
}

// removeLocked performs one remove under the write lock.
func (s *Store) removeLocked(key []byte, writeNow, syncNow bool) ([]byte, error) {
	loc, ok := s.index[string(key)]
	if !ok {
		return nil, ErrNotFound
	}

	rec, err := s.gapLocked(key, loc)
	if err != nil {
		return nil, err
	}

	if writeNow {
		if err := s.flushLocked(syncNow); err != nil {
			return nil, err
		}
	}

	delete(s.index, string(key))

	if s.compress {
		value, err := unpackValue(rec.Value)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), value...), nil
	}
	return append([]byte(nil), rec.Value...), nil
}
