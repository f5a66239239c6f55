// Low-level record reads from segment files.
//
// readRecordAt serves point lookups; scanRecords streams a segment for
// compaction and for recovery of a segment whose index sidecar is
// missing. Both handle gap markers: a header
// whose keysize is 0 marks a dead slot. Because dead slots are zeroed
// over their whole allocation, a scanner that advances past the keysize
// field and re-seeks to the next 16-byte boundary always lands either on
// a live header or on more zeros, so gaps of any width are skipped in
// 16-byte steps without knowing their original length.
package quire

import (
	"encoding/binary"
	"io"
	"os"
)

// readRecordAt reads and decodes a single record image at off. Returns
// (nil, nil) when the slot is a gap. The returned record owns its
// buffers.
func readRecordAt(f *os.File, off int64) (*Record, error) {
	var hdr [recordHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], off); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}
	keysize := int(binary.LittleEndian.Uint16(hdr[0:2]))
	if keysize == 0 {
		return nil, nil
	}
	valuesize := int(binary.LittleEndian.Uint32(hdr[2:6]))
	if int64(keysize)+int64(valuesize) > SegmentSize {
		return nil, ErrSizeOverflow
	}

	body := make([]byte, keysize+valuesize)
	if _, err := f.ReadAt(body, off+recordHeaderSize); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}
	return &Record{
		Key:       body[:keysize],
		Value:     body[keysize:],
		Timestamp: binary.LittleEndian.Uint64(hdr[6:14]),
	}, nil
}

// located pairs a record with the offset of its slot in the segment.
type located struct {
	off int64
	rec *Record
}

// scanRecords reads every live record in [0, limit), skipping gaps.
// The cursor always sits on a 16-byte boundary: live records advance by
// their allocation size, gaps advance to the next boundary.
func scanRecords(f *os.File, limit int64) ([]located, error) {
	var out []located
	off := int64(0)
	for off+recordHeaderSize <= limit {
		rec, err := readRecordAt(f, off)
		if err == ErrShortRead {
			// Truncated tail; everything before it is intact.
			break
		}
		if err != nil {
			return nil, err
		}
		if rec == nil {
			off = int64(roundup(int(off)+2, recordAlign))
			continue
		}
		out = append(out, located{off: off, rec: rec})
		off += int64(rec.alloc())
	}
	return out, nil
}
