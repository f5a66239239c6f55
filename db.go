// Core store type and lifecycle operations.
//
// Store is the top-level key-value engine. It owns the in-memory key
// index (the only authority on which records are live), the file pool,
// and the write-behind record writer. A single writer thread mutates
// the store; any number of readers may run concurrently under the
// read lock.
package quire

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Config holds store configuration options. The hash algorithm and
// compression flag are fixed when the database is created and recorded
// in its MANIFEST; passing conflicting non-zero values on reopen fails.
type Config struct {
	HashAlgorithm int         // 1=xxHash3, 2=FNV1a, 3=Blake2b (default 1)
	Compress      bool        // zstd-frame values on disk
	Logger        *zap.Logger // defaults to zap.NewNop()
}

// location is the in-memory index entry: where a key's current record
// lives and the timestamp it was written with.
type location struct {
	fileid uint64
	offset uint32
	stamp  uint64
}

// Pair is one key-value input to SetAll.
type Pair struct {
	Key   []byte
	Value []byte
}

// Store represents an open database directory.
type Store struct {
	dir      string
	alg      int
	compress bool
	clk      clock
	pool     *filePool
	writer   *recordWriter
	lock     *fileLock
	log      *zap.Logger

	mu     sync.RWMutex // guards everything below plus writer staging
	index  map[string]location
	dirty  map[uint64]struct{}
	bloom  *bloom
	closed bool
}

// Open opens or creates a database directory. The directory is locked
// against other processes for the lifetime of the store, and the
// in-memory key index is rebuilt by replaying every segment's index
// sidecar in ascending fileid order.
func Open(dir string, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	dirLock, err := acquireDirLock(dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:   dir,
		lock:  dirLock,
		log:   logger,
		index: make(map[string]location),
		dirty: make(map[uint64]struct{}),
		bloom: newBloom(),
	}

	if err := s.loadConfig(cfg); err != nil {
		dirLock.Release()
		return nil, err
	}

	pool, err := openFilePool(dir, &s.clk, logger)
	if err != nil {
		dirLock.Release()
		return nil, err
	}
	s.pool = pool
	s.writer = newRecordWriter(pool)

	if err := s.recover(); err != nil {
		pool.close()
		dirLock.Release()
		return nil, err
	}

	logger.Info("store opened",
		zap.String("dir", dir),
		zap.Int("keys", len(s.index)),
		zap.Int("hash_algorithm", s.alg),
		zap.Bool("compress", s.compress))
	return s, nil
}

// loadConfig reconciles the requested configuration with the MANIFEST,
// creating the manifest on first open.
func (s *Store) loadConfig(cfg Config) error {
	m, err := loadManifest(s.dir)
	if err != nil {
		return err
	}

	if m == nil {
		alg := cfg.HashAlgorithm
		if alg == 0 {
			alg = AlgXXHash3
		}
		created, err := s.clk.now()
		if err != nil {
			return err
		}
		m = &manifest{
			Version:   manifestVersion,
			Created:   created,
			Algorithm: alg,
			Compress:  cfg.Compress,
		}
		if err := m.write(s.dir); err != nil {
			return err
		}
	} else {
		if cfg.HashAlgorithm != 0 && cfg.HashAlgorithm != m.Algorithm {
			return fmt.Errorf("%w: hash algorithm %d, database uses %d",
				ErrCorruptManifest, cfg.HashAlgorithm, m.Algorithm)
		}
		if cfg.Compress && !m.Compress {
			return fmt.Errorf("%w: compression requested on uncompressed database",
				ErrCorruptManifest)
		}
	}

	s.alg = m.Algorithm
	s.compress = m.Compress
	return nil
}

// recover rebuilds the key index, the bloom filter, and every
// segment's free list by replaying index sidecars in ascending fileid
// order. A segment with no sidecar is replayed from the records its
// data file holds. Each live entry is checked against the data file: slots that
// read back as gaps, short reads, or size mismatches belong to deleted
// records or torn writes and are dropped. Within a segment entries
// apply in file order and across segments in fileid order, so the
// newest version of a key wins.
func (s *Store) recover() error {
	for _, fileid := range s.pool.fileids() {
		entries, err := readIndexEntries(s.pool.indexPath(fileid))
		if err != nil {
			return fmt.Errorf("recover %d: %w", fileid, err)
		}
		if entries == nil {
			// No sidecar (an interrupted compaction unlinked it): replay the data.
			f, err := s.pool.acquire(fileid)
			if err != nil {
				return fmt.Errorf("recover %d: %w", fileid, err)
			}
			found, err := scanRecords(f, SegmentSize)
			s.pool.release(fileid, f)
			if err != nil {
				return fmt.Errorf("recover %d: %w", fileid, err)
			}
			for _, lr := range found {
				entries = append(entries, indexEntry{keysize: uint16(len(lr.rec.Key)), valuesize: uint32(len(lr.rec.Value)), offset: uint32(lr.off), timestamp: lr.rec.Timestamp})
			}
		}
		if len(entries) == 0 {
			continue
		}

		f, err := s.pool.acquire(fileid)
		if err != nil {
			return fmt.Errorf("recover %d: %w", fileid, err)
		}
		for _, e := range entries {
			if !e.live() {
				continue
			}
			rec, err := readRecordAt(f, int64(e.offset))
			if err == ErrShortRead || err == ErrSizeOverflow {
				continue // torn write past the durable prefix
			}
			if err != nil {
				s.pool.release(fileid, f)
				return fmt.Errorf("recover %d: %w", fileid, err)
			}
			if rec == nil {
				continue // slot was deleted after the entry was appended
			}
			if uint16(len(rec.Key)) != e.keysize || uint32(len(rec.Value)) != e.valuesize {
				continue // slot was reused; a later entry covers it
			}
			if err := s.pool.reserve(fileid, e.offset, e.alloc()); err != nil {
				continue // extent already claimed by an earlier entry
			}
			s.index[string(rec.Key)] = location{
				fileid: fileid,
				offset: e.offset,
				stamp:  rec.Timestamp,
			}
			s.bloom.Add(keyHash(rec.Key, s.alg))
		}
		s.pool.release(fileid, f)
	}
	return nil
}

// Keys returns a copy of every live key in ascending byte order.
func (s *Store) Keys() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, 0, len(s.index))
	for k := range s.index {
		out = append(out, []byte(k))
	}
	slices.SortFunc(out, bytes.Compare)
	return out
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Close flushes staged writes, syncs dirty segments, drops cached
// handles, and releases the directory lock. Closing twice is a no-op.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	if s.writer.hasPending() {
		if err := s.writer.flushIndex(true); err != nil {
			first = err
		} else if err := s.writer.flushRecords(false); err != nil {
			first = err
		}
	}
	if err := s.syncDirty(); err != nil && first == nil {
		first = err
	}
	if err := s.pool.close(); err != nil && first == nil {
		first = err
	}
	if err := s.lock.Release(); err != nil && first == nil {
		first = err
	}
	s.log.Info("store closed", zap.String("dir", s.dir))
	return first
}

// validateKey enforces the key size bounds of the record format.
func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	return nil
}

// validateValue enforces the stored value size bounds.
func validateValue(value []byte) error {
	if len(value) == 0 {
		return ErrEmptyValue
	}
	if uint64(len(value)) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}
