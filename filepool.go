// Segment file pool: discovery, handle caching, birth and retirement.
//
// Every segment is a <fileid>.data file capped at SegmentSize, with the
// fileid being the decimal creation time in milliseconds. The pool owns
// one freeList and a bounded stack of open handles per segment. Handles
// are loaned out by value; all data I/O happens outside the pool mutex,
// which is held only for bookkeeping and single open/unlink syscalls.
package quire

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SegmentSize is the maximum size of one segment file.
const SegmentSize = 32 << 20

// handleCap bounds the cached open handles per segment. Returns beyond
// the cap close the handle instead.
const handleCap = 16

// File name extensions within a database directory.
const (
	dataExt  = ".data"
	indexExt = ".index"
)

// segmentState is the pool's per-segment bookkeeping.
type segmentState struct {
	free    *freeList
	handles []*os.File
}

type filePool struct {
	mu       sync.Mutex
	dir      string
	active   uint64
	segments map[uint64]*segmentState
	clock    *clock
	log      *zap.Logger
}

// openFilePool scans dir for segment files and registers each with a
// fresh in-memory free list. The caller reconstructs occupancy by
// replaying index files. If the directory holds no segments, one is
// created.
func openFilePool(dir string, clk *clock, log *zap.Logger) (*filePool, error) {
	p := &filePool{
		dir:      dir,
		segments: make(map[uint64]*segmentState),
		clock:    clk,
		log:      log,
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range names {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, dataExt) {
			continue
		}
		fileid, err := strconv.ParseUint(strings.TrimSuffix(name, dataExt), 10, 64)
		if err != nil {
			continue
		}
		p.segments[fileid] = &segmentState{free: newFreeList(SegmentSize)}
		if fileid > p.active {
			p.active = fileid
		}
	}

	if len(p.segments) == 0 {
		if _, err := p.mint(); err != nil {
			return nil, err
		}
	}
	log.Info("file pool opened",
		zap.String("dir", dir),
		zap.Int("segments", len(p.segments)),
		zap.Uint64("active", p.active))
	return p, nil
}

func (p *filePool) dataPath(fileid uint64) string {
	return filepath.Join(p.dir, strconv.FormatUint(fileid, 10)+dataExt)
}

func (p *filePool) indexPath(fileid uint64) string {
	return filepath.Join(p.dir, strconv.FormatUint(fileid, 10)+indexExt)
}

// mint creates a new empty segment and makes it active. The fileid is
// the clock reading, bumped past the previous active id when the clock
// is too coarse to have advanced.
func (p *filePool) mint() (uint64, error) {
	fileid, err := p.clock.now()
	if err != nil {
		return 0, err
	}
	if fileid <= p.active {
		fileid = p.active + 1
	}

	f, err := os.OpenFile(p.dataPath(fileid), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}

	p.segments[fileid] = &segmentState{
		free:    newFreeList(SegmentSize),
		handles: []*os.File{f},
	}
	p.active = fileid
	p.log.Info("segment created", zap.Uint64("fileid", fileid))
	return fileid, nil
}

// acquire loans out a handle for the segment, opening a new one when
// the cache is empty.
func (p *filePool) acquire(fileid uint64) (*os.File, error) {
	p.mu.Lock()
	seg, ok := p.segments[fileid]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrInvalidFileID, fileid)
	}
	if n := len(seg.handles); n > 0 {
		f := seg.handles[n-1]
		seg.handles = seg.handles[:n-1]
		p.mu.Unlock()
		return f, nil
	}
	path := p.dataPath(fileid)
	p.mu.Unlock()
	return os.OpenFile(path, os.O_RDWR, 0o644)
}

// release returns a loaned handle. Handles beyond the per-segment cap,
// or for segments that have since been retired, are closed.
func (p *filePool) release(fileid uint64, f *os.File) {
	p.mu.Lock()
	seg, ok := p.segments[fileid]
	if ok && len(seg.handles) < handleCap {
		seg.handles = append(seg.handles, f)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	f.Close()
}

// acquireUsed returns the segment's high-water mark along with a handle.
func (p *filePool) acquireUsed(fileid uint64) (uint32, *os.File, error) {
	p.mu.Lock()
	seg, ok := p.segments[fileid]
	if !ok {
		p.mu.Unlock()
		return 0, nil, fmt.Errorf("%w: %d", ErrInvalidFileID, fileid)
	}
	used := seg.free.usedSize()
	p.mu.Unlock()

	f, err := p.acquire(fileid)
	if err != nil {
		return 0, nil, err
	}
	return used, f, nil
}

// request allocates size bytes from the active segment, creating a new
// segment when the active one cannot fit the request. ErrAllocate
// escapes only when size cannot fit in an empty segment.
func (p *filePool) request(size uint32) (uint64, uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if seg, ok := p.segments[p.active]; ok {
		if off, err := seg.free.request(size); err == nil {
			return p.active, off, nil
		}
	}

	fileid, err := p.mint()
	if err != nil {
		return 0, 0, err
	}
	off, err := p.segments[fileid].free.request(size)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %d bytes exceed segment capacity", ErrAllocate, size)
	}
	return fileid, off, nil
}

// free returns an extent to the owning segment's free list.
func (p *filePool) free(fileid uint64, off, size uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segments[fileid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidFileID, fileid)
	}
	return seg.free.free(off, size)
}

// reserve marks a specific extent as occupied during recovery.
func (p *filePool) reserve(fileid uint64, off, size uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	seg, ok := p.segments[fileid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidFileID, fileid)
	}
	return seg.free.reserve(off, size)
}

// candidates returns the non-active segments whose live-data fraction
// has fallen below ratio, in ascending fileid order. A segment with no
// live data at all is always a candidate.
func (p *filePool) candidates(ratio float64) []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []uint64
	for fileid, seg := range p.segments {
		if fileid == p.active {
			continue
		}
		used := seg.free.usedSize()
		if used == 0 {
			out = append(out, fileid)
			continue
		}
		live := 1 - float64(seg.free.compactableSize())/float64(used)
		if live < ratio {
			out = append(out, fileid)
		}
	}
	slices.Sort(out)
	return out
}

// remove unlinks the segment's data or index file. Removing the data
// file also retires the segment: its pooled handles are closed and its
// bookkeeping is dropped.
func (p *filePool) remove(fileid uint64, data bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !data {
		err := os.Remove(p.indexPath(fileid))
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	seg, ok := p.segments[fileid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidFileID, fileid)
	}
	for _, f := range seg.handles {
		f.Close()
	}
	delete(p.segments, fileid)
	p.log.Info("segment retired", zap.Uint64("fileid", fileid))
	return os.Remove(p.dataPath(fileid))
}

// fileids returns all registered segment ids in ascending order.
func (p *filePool) fileids() []uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint64, 0, len(p.segments))
	for fileid := range p.segments {
		out = append(out, fileid)
	}
	slices.Sort(out)
	return out
}

// close drops every cached handle.
func (p *filePool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for _, seg := range p.segments {
		for _, f := range seg.handles {
			if err := f.Close(); err != nil && first == nil {
				first = err
			}
		}
		seg.handles = nil
	}
	return first
}

