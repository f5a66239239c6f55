// Write-behind staging of record images, batched per segment.
//
// The recordWriter holds encoded record images keyed by owning fileid
// until a flush. Grouping by segment means a flush touches each segment
// file once per staged record at most, and lets several logical writes
// share one handle acquisition and one fsync.
//
// Flush ordering is the crash-recovery contract: flushIndex runs before
// flushRecords. An index entry pointing at an unwritten data region is
// harmless — the record reader sees zeros or a short read and drops the
// slot — but a data record with no index entry is invisible to recovery
// and leaks its extent forever.
package quire

import "fmt"

// staged is one pending positional write: the encoded record image and
// the sidecar entry describing it. Gap markers stage an all-zero image
// with a dead entry.
type staged struct {
	off   uint32
	image []byte
	entry indexEntry
}

type recordWriter struct {
	pool    *filePool
	pending map[uint64][]staged
	indexed map[uint64]bool // fileids whose pending entries are already in the sidecar
}

func newRecordWriter(pool *filePool) *recordWriter {
	return &recordWriter{
		pool:    pool,
		pending: make(map[uint64][]staged),
		indexed: make(map[uint64]bool),
	}
}

// reserve allocates space for the record and returns its location.
func (w *recordWriter) reserve(rec *Record) (uint64, uint32, error) {
	return w.pool.request(uint32(rec.alloc()))
}

// release returns the record's extent to its segment's free list.
// Used by delete to reclaim a slot that was overwritten with a gap.
func (w *recordWriter) release(rec *Record, fileid uint64, off uint32) error {
	return w.pool.free(fileid, off, uint32(rec.alloc()))
}

// stage queues the record image for writing at (fileid, off). Images
// are flushed in staging order within a segment.
func (w *recordWriter) stage(fileid uint64, off uint32, rec *Record) {
	w.pending[fileid] = append(w.pending[fileid], staged{
		off:   off,
		image: rec.encode(),
		entry: indexEntry{
			keysize:   uint16(len(rec.Key)),
			valuesize: uint32(len(rec.Value)),
			offset:    off,
			timestamp: rec.Timestamp,
		},
	})
	delete(w.indexed, fileid)
}

// stageGap queues an all-zero image of the given allocation size,
// turning the slot at (fileid, off) into a gap marker.
func (w *recordWriter) stageGap(fileid uint64, off uint32, alloc int) {
	w.pending[fileid] = append(w.pending[fileid], staged{
		off:   off,
		image: make([]byte, alloc),
		entry: indexEntry{offset: off},
	})
	delete(w.indexed, fileid)
}

// flushIndex appends one sidecar entry per staged image. Must run
// before flushRecords; see the package comment. A retry appends
// nothing for a fileid whose entries are already in the sidecar, unless
// something new was staged for it since: then its whole pending batch
// is appended again.
func (w *recordWriter) flushIndex(sync bool) error {
	for fileid, batch := range w.pending {
		if w.indexed[fileid] {
			continue
		}
		entries := make([]indexEntry, len(batch))
		for i, s := range batch {
			entries[i] = s.entry
		}
		if err := appendIndexEntries(w.pool.indexPath(fileid), entries, sync); err != nil {
			return fmt.Errorf("flush index %d: %w", fileid, err)
		}
		w.indexed[fileid] = true
	}
	return nil
}

// flushRecords drains every staged batch, writing images at their
// reserved offsets. On error the failed batch and all undrained
// batches stay staged for retry.
func (w *recordWriter) flushRecords(sync bool) error {
	for fileid, batch := range w.pending {
		f, err := w.pool.acquire(fileid)
		if err != nil {
			return fmt.Errorf("flush records %d: %w", fileid, err)
		}
		for _, s := range batch {
			if _, err := f.WriteAt(s.image, int64(s.off)); err != nil {
				w.pool.release(fileid, f)
				return fmt.Errorf("flush records %d: %w", fileid, err)
			}
		}
		if sync {
			if err := f.Sync(); err != nil {
				w.pool.release(fileid, f)
				return fmt.Errorf("flush records %d: %w", fileid, err)
			}
		}
		w.pool.release(fileid, f)
		delete(w.pending, fileid)
		delete(w.indexed, fileid)
	}
	return nil
}

// stagedAt returns the most recently staged record at the given
// location, or nil when nothing is staged there or the staged image is
// a gap. Lets reads and deletes observe writes that have not reached
// the disk yet.
func (w *recordWriter) stagedAt(fileid uint64, off uint32) *Record {
	batch := w.pending[fileid]
	for i := len(batch) - 1; i >= 0; i-- {
		if batch[i].off == off {
			rec, _ := decodeRecord(batch[i].image)
			return rec
		}
	}
	return nil
}

// hasPending reports whether any writes are staged.
func (w *recordWriter) hasPending() bool {
	return len(w.pending) > 0
}
