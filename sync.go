// Durability barrier.
package quire

import (
	"errors"
	"slices"
)

// SyncAll makes every write issued so far durable: staged batches are
// flushed (index sidecars synced first) and each segment touched since
// the last barrier is fsynced. When SyncAll returns nil, every Set and
// Remove that returned before the call survives power loss.
func (s *Store) SyncAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.writer.hasPending() {
		if err := s.writer.flushIndex(true); err != nil {
			return err
		}
		if err := s.writer.flushRecords(false); err != nil {
			return err
		}
	}
	return s.syncDirty()
}

// syncDirty forces every segment in the dirty set and clears it.
// Segments retired by compaction since they were marked are skipped.
func (s *Store) syncDirty() error {
	fileids := make([]uint64, 0, len(s.dirty))
	for fileid := range s.dirty {
		fileids = append(fileids, fileid)
	}
	slices.Sort(fileids)

	for _, fileid := range fileids {
		f, err := s.pool.acquire(fileid)
		if errors.Is(err, ErrInvalidFileID) {
			delete(s.dirty, fileid)
			continue
		}
		if err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			s.pool.release(fileid, f)
			return err
		}
		s.pool.release(fileid, f)
		delete(s.dirty, fileid)
	}
	return nil
}
