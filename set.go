// Record creation and update using append-then-blank.
//
// An update never rewrites in place: the new version is appended at a
// freshly allocated offset first, and only then is the old record
// overwritten with a gap marker and its extent returned to the free
// list. Appending first keeps the old extent out of the allocator
// while the new record is placed, so the superseded slot survives as
// an interior hole for the compactor instead of being immediately
// reused at the same offset.
//
// The writeNow and syncNow flags form the durability ladder: staged
// only (ephemeral), written (visible to other processes), written and
// fsynced (crash-safe).
package quire

// Set creates or updates a key. When the key already exists its old
// record is gap-marked and reclaimed, so every live key owns exactly
// one slot.
func (s *Store) Set(key, value []byte, writeNow, syncNow bool) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.setLocked(key, value, writeNow, syncNow)
}

// SetAll stages every pair and flushes once, so segments are written
// and synced one time each regardless of how many pairs land in them.
// All inputs are validated before any state changes.
func (s *Store) SetAll(pairs []Pair, writeNow, syncNow bool) error {
	for _, p := range pairs {
		if err := validateKey(p.Key); err != nil {
			return err
		}
		if err := validateValue(p.Value); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, p := range pairs {
		if err := s.setLocked(p.Key, p.Value, false, false); err != nil {
			return err
		}
	}
	if writeNow {
		return s.flushLocked(syncNow)
	}
	return nil
}

// setLocked performs one set under the write lock.
func (s *Store) setLocked(key, value []byte, writeNow, syncNow bool) error {
	old, hadOld := s.index[string(key)]

	stored := value
	if s.compress {
		stored = packValue(value)
		if err := validateValue(stored); err != nil {
			return err
		}
	}

	ts, err := s.clk.now()
	if err != nil {
		return err
	}
	rec := &Record{Key: key, Value: stored, Timestamp: ts}

	fileid, off, err := s.writer.reserve(rec)
	if err != nil {
		return err
	}
	s.writer.stage(fileid, off, rec)

	// Retire the previous version.
	if hadOld {
		if _, err := s.gapLocked(key, old); err != nil {
			return err
		}
	}

	if writeNow {
		if err := s.flushLocked(syncNow); err != nil {
			return err
		}
	}

	s.index[string(key)] = location{fileid: fileid, offset: off, stamp: ts}
	s.dirty[fileid] = struct{}{}
	s.bloom.Add(keyHash(key, s.alg))
	return nil
}

// gapLocked overwrites the record at loc with a zero gap marker of the
// same allocation size, frees the extent, and marks the segment dirty.
// Returns the record that occupied the slot.
func (s *Store) gapLocked(key []byte, loc location) (*Record, error) {
	rec, err := s.readLocation(key, loc)
	if err != nil {
		return nil, err
	}
	s.writer.stageGap(loc.fileid, loc.offset, rec.alloc())
	if err := s.writer.release(rec, loc.fileid, loc.offset); err != nil {
		return nil, err
	}
	s.dirty[loc.fileid] = struct{}{}
	return rec, nil
}

// flushLocked writes staged batches out, index sidecars first so that
// recovery can always see every durable record.
func (s *Store) flushLocked(sync bool) error {
	if err := s.writer.flushIndex(sync); err != nil {
		return err
	}
	return s.writer.flushRecords(sync)
}
