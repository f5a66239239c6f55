// Record writer tests: staging, flush ordering, batch drains.
package quire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestWriterStageAndFlush stages two records in one segment and
// verifies that flushRecords lands each image at its reserved offset
// and that flushIndex appended one matching sidecar entry per record.
func TestWriterStageAndFlush(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	a := &Record{Key: []byte("a"), Value: []byte("1"), Timestamp: 1}
	b := &Record{Key: []byte("bb"), Value: []byte("22"), Timestamp: 2}

	afid, aoff, err := w.reserve(a)
	require.NoError(t, err)
	w.stage(afid, aoff, a)
	bfid, boff, err := w.reserve(b)
	require.NoError(t, err)
	w.stage(bfid, boff, b)
	require.Equal(t, afid, bfid, "both records fit the active segment")

	require.NoError(t, w.flushIndex(true))
	require.NoError(t, w.flushRecords(true))
	require.False(t, w.hasPending())

	f, err := p.acquire(afid)
	require.NoError(t, err)
	defer p.release(afid, f)

	got, err := readRecordAt(f, int64(aoff))
	require.NoError(t, err)
	require.True(t, bytes.Equal(got.Value, []byte("1")))
	got, err = readRecordAt(f, int64(boff))
	require.NoError(t, err)
	require.True(t, bytes.Equal(got.Value, []byte("22")))

	entries, err := readIndexEntries(p.indexPath(afid))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, indexEntry{keysize: 1, valuesize: 1, offset: aoff, timestamp: 1}, entries[0])
	require.Equal(t, indexEntry{keysize: 2, valuesize: 2, offset: boff, timestamp: 2}, entries[1])
}

// TestWriterStageGap verifies that a staged gap zeroes the slot's
// whole allocation on flush and appends a dead sidecar entry, so both
// scanners and recovery treat the slot as unused.
func TestWriterStageGap(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	rec := &Record{Key: []byte("key"), Value: bytes.Repeat([]byte("v"), 40), Timestamp: 5}
	fid, off, err := w.reserve(rec)
	require.NoError(t, err)
	w.stage(fid, off, rec)
	require.NoError(t, w.flushIndex(false))
	require.NoError(t, w.flushRecords(false))

	w.stageGap(fid, off, rec.alloc())
	require.NoError(t, w.flushIndex(false))
	require.NoError(t, w.flushRecords(false))

	f, err := p.acquire(fid)
	require.NoError(t, err)
	defer p.release(fid, f)

	got, err := readRecordAt(f, int64(off))
	require.NoError(t, err)
	require.Nil(t, got, "slot must read back as a gap")

	blob := make([]byte, rec.alloc())
	_, err = f.ReadAt(blob, int64(off))
	require.NoError(t, err)
	require.Equal(t, make([]byte, rec.alloc()), blob, "whole allocation must be zeroed")

	entries, err := readIndexEntries(p.indexPath(fid))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.False(t, entries[1].live())
}

// TestWriterStagedAt verifies that staged records are observable
// before they reach disk, and that a staged gap shadows the record it
// tombstones.
func TestWriterStagedAt(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	rec := &Record{Key: []byte("k"), Value: []byte("v"), Timestamp: 9}
	fid, off, err := w.reserve(rec)
	require.NoError(t, err)
	w.stage(fid, off, rec)

	got := w.stagedAt(fid, off)
	require.NotNil(t, got)
	require.True(t, bytes.Equal(got.Key, []byte("k")))
	require.Nil(t, w.stagedAt(fid, off+16))

	w.stageGap(fid, off, rec.alloc())
	require.Nil(t, w.stagedAt(fid, off), "gap must shadow the staged record")
}

// TestWriterInsertionOrder stages a record, tombstones it, and stages
// a replacement at the same offset. The flush must apply images in
// staging order so the replacement survives.
func TestWriterInsertionOrder(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	old := &Record{Key: []byte("k"), Value: []byte("old"), Timestamp: 1}
	fid, off, err := w.reserve(old)
	require.NoError(t, err)
	w.stage(fid, off, old)
	w.stageGap(fid, off, old.alloc())

	// Reuse the extent the way a delete-then-set sequence would.
	require.NoError(t, p.free(fid, off, uint32(old.alloc())))
	nw := &Record{Key: []byte("k"), Value: []byte("new"), Timestamp: 2}
	fid2, off2, err := w.reserve(nw)
	require.NoError(t, err)
	require.Equal(t, fid, fid2)
	require.Equal(t, off, off2, "first fit must reuse the freed slot")
	w.stage(fid2, off2, nw)

	require.NoError(t, w.flushIndex(false))
	require.NoError(t, w.flushRecords(false))

	f, err := p.acquire(fid)
	require.NoError(t, err)
	defer p.release(fid, f)
	got, err := readRecordAt(f, int64(off))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, bytes.Equal(got.Value, []byte("new")))
}

// TestWriterFlushIndexIdempotent verifies that calling flushIndex
// twice without an intervening flushRecords does not duplicate sidecar
// entries — the retry path after a failed data flush depends on it.
func TestWriterFlushIndexIdempotent(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	rec := &Record{Key: []byte("k"), Value: []byte("v"), Timestamp: 1}
	fid, off, err := w.reserve(rec)
	require.NoError(t, err)
	w.stage(fid, off, rec)

	require.NoError(t, w.flushIndex(false))
	require.NoError(t, w.flushIndex(false))

	entries, err := readIndexEntries(p.indexPath(fid))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

// TestWriterMultiSegmentFlush stages records across two segments and
// verifies one flush drains both batches.
func TestWriterMultiSegmentFlush(t *testing.T) {
	p, _ := testPool(t)
	w := newRecordWriter(p)

	a := &Record{Key: []byte("a"), Value: []byte("1"), Timestamp: 1}
	afid, aoff, err := w.reserve(a)
	require.NoError(t, err)
	w.stage(afid, aoff, a)

	p.mu.Lock()
	_, err = p.mint()
	p.mu.Unlock()
	require.NoError(t, err)

	b := &Record{Key: []byte("b"), Value: []byte("2"), Timestamp: 2}
	bfid, boff, err := w.reserve(b)
	require.NoError(t, err)
	require.NotEqual(t, afid, bfid)
	w.stage(bfid, boff, b)

	require.NoError(t, w.flushIndex(true))
	require.NoError(t, w.flushRecords(true))
	require.False(t, w.hasPending())

	for _, probe := range []struct {
		fid uint64
		off uint32
		val string
	}{{afid, aoff, "1"}, {bfid, boff, "2"}} {
		f, err := p.acquire(probe.fid)
		require.NoError(t, err)
		got, err := readRecordAt(f, int64(probe.off))
		p.release(probe.fid, f)
		require.NoError(t, err)
		require.True(t, bytes.Equal(got.Value, []byte(probe.val)))
	}
}
