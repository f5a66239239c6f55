// Segment compaction: relocate survivors, retire the segment.
//
// A segment accumulates gaps as records are deleted or superseded.
// Once the live fraction of a non-active segment drops below the
// requested ratio, the compactor streams its remaining records into
// the current active segment through the ordinary write path and
// unlinks the original files.
//
// The ordering is the crash-safety contract, mirrored from the write
// path: the candidate's index sidecar is unlinked before any data
// moves, so recovery never trusts an index whose data may disappear;
// the relocated records are index-flushed and data-flushed with fsync
// before the candidate's data file is unlinked, which is the commit
// point. A crash before the commit point loses only the relocation —
// the source segment is still intact and replayable from its data.
package quire

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultCompactionRatio is used when Compact is given a ratio of zero
// or less: segments less than three-quarters live are reclaimed.
const DefaultCompactionRatio = 0.75

// Compact relocates live records out of every under-utilised non-active
// segment and deletes the originals. Candidates are processed in
// ascending fileid order; an error aborts between segments, never
// within one once its index flush has begun.
func (s *Store) Compact(ratio float64) error {
	if ratio <= 0 {
		ratio = DefaultCompactionRatio
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Candidates are judged and scanned from disk, so anything still
	// staged has to be written first.
	if s.writer.hasPending() {
		if err := s.flushLocked(true); err != nil {
			return err
		}
	}

	for _, fileid := range s.pool.candidates(ratio) {
		if err := s.compactSegment(fileid); err != nil {
			return fmt.Errorf("compact %d: %w", fileid, err)
		}
	}
	return nil
}

// compactSegment relocates one segment's live records and retires it.
// Called with the write lock held.
func (s *Store) compactSegment(fileid uint64) error {
	s.log.Info("compacting segment", zap.Uint64("fileid", fileid))

	if err := s.pool.remove(fileid, false); err != nil {
		return err
	}

	used, f, err := s.pool.acquireUsed(fileid)
	if err != nil {
		return err
	}
	found, err := scanRecords(f, int64(used))
	s.pool.release(fileid, f)
	if err != nil {
		return err
	}

	// A non-gap record whose location is no longer current belongs to
	// a superseded version recovered from a crash; it is dropped here
	// rather than relocated.
	type move struct {
		key string
		loc location
	}
	var moves []move
	for _, lr := range found {
		cur, ok := s.index[string(lr.rec.Key)]
		if !ok || cur.fileid != fileid || cur.offset != uint32(lr.off) {
			continue
		}
		wfid, woff, err := s.writer.reserve(lr.rec)
		if err != nil {
			return err
		}
		s.writer.stage(wfid, woff, lr.rec)
		s.dirty[wfid] = struct{}{}
		moves = append(moves, move{
			key: string(lr.rec.Key),
			loc: location{fileid: wfid, offset: woff, stamp: lr.rec.Timestamp},
		})
	}

	if err := s.writer.flushIndex(true); err != nil {
		return err
	}
	if err := s.writer.flushRecords(true); err != nil {
		return err
	}

	// Commit point: the survivors are durable in their new homes.
	if err := s.pool.remove(fileid, true); err != nil {
		return err
	}
	delete(s.dirty, fileid)

	for _, m := range moves {
		s.index[m.key] = m.loc
	}

	s.log.Info("segment compacted",
		zap.Uint64("fileid", fileid),
		zap.Int("relocated", len(moves)))
	return nil
}
