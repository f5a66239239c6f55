// Index sidecar format and access.
//
// Each segment <fileid>.data has a sidecar <fileid>.index holding one
// fixed 18-byte entry per staged record, packed with no padding:
//
//	u16 keysize | u32 valuesize | u32 offset | u64 timestamp
//
// Entries are append-only and never rewritten. The sidecar's reader is
// cold-start recovery, which replays entries to rebuild the in-memory
// key index and the per-segment free lists. The compactor does not read
// it: it unlinks the sidecar first and scans the data file. An entry
// with zero keysize or zero valuesize is an unused slot (a staged gap
// marker) and is skipped by recovery.
package quire

import (
	"encoding/binary"
	"os"
)

// indexEntrySize is the packed on-disk width of one entry.
const indexEntrySize = 18

// indexEntry mirrors one sidecar slot.
type indexEntry struct {
	keysize   uint16
	valuesize uint32
	offset    uint32
	timestamp uint64
}

// live reports whether the entry describes a record rather than an
// unused slot.
func (e indexEntry) live() bool {
	return e.keysize != 0 && e.valuesize != 0
}

// alloc returns the allocation size of the record the entry describes.
func (e indexEntry) alloc() uint32 {
	return uint32(roundup(recordHeaderSize+int(e.keysize)+int(e.valuesize), recordAlign))
}

func (e indexEntry) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], e.keysize)
	binary.LittleEndian.PutUint32(buf[2:6], e.valuesize)
	binary.LittleEndian.PutUint32(buf[6:10], e.offset)
	binary.LittleEndian.PutUint64(buf[10:18], e.timestamp)
}

func decodeIndexEntry(buf []byte) (indexEntry, error) {
	if len(buf) < indexEntrySize {
		return indexEntry{}, ErrShortRead
	}
	return indexEntry{
		keysize:   binary.LittleEndian.Uint16(buf[0:2]),
		valuesize: binary.LittleEndian.Uint32(buf[2:6]),
		offset:    binary.LittleEndian.Uint32(buf[6:10]),
		timestamp: binary.LittleEndian.Uint64(buf[10:18]),
	}, nil
}

// appendIndexEntries writes entries to the end of path, creating the
// file if needed, optionally forcing durability before returning.
func appendIndexEntries(path string, entries []indexEntry, sync bool) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, len(entries)*indexEntrySize)
	for i, e := range entries {
		e.encode(buf[i*indexEntrySize:])
	}
	if _, err := f.Write(buf); err != nil {
		return err
	}
	if sync {
		return f.Sync()
	}
	return nil
}

// readIndexEntries returns every entry of the sidecar at path in file
// order. A missing sidecar yields nil (an existing empty one yields an
// empty, non-nil slice); recovery then replays the segment from its
// data file. A truncated final
// entry is dropped — it belongs to a write that never completed.
func readIndexEntries(path string) ([]indexEntry, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	n := len(blob) / indexEntrySize
	out := make([]indexEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := decodeIndexEntry(blob[i*indexEntrySize:])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
