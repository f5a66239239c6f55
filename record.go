// Record format and size arithmetic.
//
// Every record in a segment file is a little-endian binary image:
//
//	offset 0  : u16 keysize   (0 marks a gap; see read.go)
//	offset 2  : u32 valuesize
//	offset 6  : u64 timestamp
//	offset 14 : keysize bytes of key, then valuesize bytes of value
//	          : zero padding up to the next 16-byte boundary
//
// The padded length is the record's allocation size — the unit the free
// list hands out and reclaims. A deleted record is overwritten in place
// with zeros of the same allocation size, so the keysize field of the
// dead slot reads 0 and scanners treat it as a gap.
package quire

import "encoding/binary"

// Size limits fixed by the on-disk field widths.
const (
	MaxKeySize   = 1<<16 - 1 // u16 keysize
	MaxValueSize = 1<<32 - 1 // u32 valuesize
)

// recordHeaderSize is the fixed prefix before the key bytes.
const recordHeaderSize = 2 + 4 + 8

// recordAlign is the allocation granularity within a segment. Records
// are padded to this boundary, which is why a gap scanner can re-seek
// to the next boundary after a zero keysize and land on a header.
const recordAlign = 16

// Record is one key-value pair as persisted in a segment. Key and Value
// reference caller memory on the write path and owned buffers on the
// read path; the store copies before returning them to clients.
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp uint64
}

// size returns the unpadded byte length of the record image.
func (r *Record) size() int {
	return recordHeaderSize + len(r.Key) + len(r.Value)
}

// alloc returns the allocation size: the image padded to recordAlign.
func (r *Record) alloc() int {
	return roundup(r.size(), recordAlign)
}

// roundup rounds size up to the next multiple of base.
func roundup(size, base int) int {
	return (size + base - 1) / base * base
}

// encode renders the record as an alloc-sized buffer, padding included.
func (r *Record) encode() []byte {
	buf := make([]byte, r.alloc())
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(r.Key)))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(r.Value)))
	binary.LittleEndian.PutUint64(buf[6:14], r.Timestamp)
	copy(buf[recordHeaderSize:], r.Key)
	copy(buf[recordHeaderSize+len(r.Key):], r.Value)
	return buf
}

// decodeRecord parses a record image. The buffer must hold at least the
// header and the key and value bytes it announces; padding may be
// absent. A zero keysize decodes to a gap (nil, nil).
func decodeRecord(buf []byte) (*Record, error) {
	if len(buf) < recordHeaderSize {
		return nil, ErrShortRead
	}
	keysize := int(binary.LittleEndian.Uint16(buf[0:2]))
	valuesize := int(binary.LittleEndian.Uint32(buf[2:6]))
	if keysize == 0 {
		return nil, nil
	}
	if recordHeaderSize+keysize+valuesize > len(buf) {
		return nil, ErrShortRead
	}
	r := &Record{
		Key:       buf[recordHeaderSize : recordHeaderSize+keysize],
		Value:     buf[recordHeaderSize+keysize : recordHeaderSize+keysize+valuesize],
		Timestamp: binary.LittleEndian.Uint64(buf[6:14]),
	}
	return r, nil
}
