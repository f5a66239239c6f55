// Capacity edge cases: segment birth at the 32 MiB boundary.
package quire

import (
	"bytes"
	"errors"
	"testing"
)

// TestSegmentBirthOnFull fills the active segment to within one slot
// of its capacity and verifies that the next set is served by a brand
// new segment: strictly greater fileid, record at offset 0, and the
// old segment untouched. This is the allocator's only growth path, so
// a failure here would wedge every writer at 32 MiB.
func TestSegmentBirthOnFull(t *testing.T) {
	s, _ := testStore(t, Config{})
	first := s.pool.active

	// Seven 4 MiB allocations plus one of 4 MiB − 16 leave exactly
	// 16 bytes of tail — too small for any further record.
	const fullAlloc = 4 << 20
	for i := range 7 {
		value := make([]byte, fullAlloc-recordHeaderSize-1)
		if err := s.Set([]byte{byte('a' + i)}, value, true, false); err != nil {
			t.Fatal(err)
		}
	}
	value := make([]byte, fullAlloc-16-recordHeaderSize-1)
	if err := s.Set([]byte("h"), value, true, false); err != nil {
		t.Fatal(err)
	}

	s.pool.mu.Lock()
	tail := s.pool.segments[first].free.freeSize()
	s.pool.mu.Unlock()
	if tail != 16 {
		t.Fatalf("remaining tail = %d, want 16", tail)
	}
	if s.pool.active != first {
		t.Fatalf("active segment changed prematurely")
	}

	z := make([]byte, 48)
	for i := range z {
		z[i] = byte(i)
	}
	if err := s.Set([]byte("z"), z, true, true); err != nil {
		t.Fatal(err)
	}

	loc := s.index["z"]
	if loc.fileid <= first {
		t.Errorf("new fileid %d not greater than previous active %d", loc.fileid, first)
	}
	if loc.offset != 0 {
		t.Errorf("record offset in new segment = %d, want 0", loc.offset)
	}
	if s.pool.active != loc.fileid {
		t.Errorf("active = %d, want %d", s.pool.active, loc.fileid)
	}

	got, err := s.Get([]byte("z"))
	if err != nil || !bytes.Equal(got, z) {
		t.Errorf("Get z after birth failed: %v", err)
	}
	if got, err := s.Get([]byte("a")); err != nil || len(got) != fullAlloc-recordHeaderSize-1 {
		t.Errorf("record in old segment unreadable: %v", err)
	}
}

// TestRecordLargerThanSegment verifies that a record that cannot fit
// even an empty segment is rejected with ErrAllocate rather than
// spinning through endless segment births.
func TestRecordLargerThanSegment(t *testing.T) {
	s, _ := testStore(t, Config{})

	value := make([]byte, SegmentSize)
	err := s.Set([]byte("k"), value, false, false)
	if !errors.Is(err, ErrAllocate) {
		t.Fatalf("oversized set = %v, want ErrAllocate", err)
	}

	// The store keeps working afterwards.
	if err := s.Set([]byte("k"), []byte("v"), true, true); err != nil {
		t.Fatal(err)
	}
	if got, err := s.Get([]byte("k")); err != nil || !bytes.Equal(got, []byte("v")) {
		t.Errorf("Get = %q, %v", got, err)
	}
}
