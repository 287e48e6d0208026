package termlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tysonmote/gommap"
)

// idleRefCount is the sentinel a Segment's refCount settles on once its last
// live borrow is released. Any negative value means "idle and cacheable";
// pin() increments through it back to 1 lock-free, per §3's ownership model
// and §9's design note on the sentinel. The background unmap of a segment
// evicted from the idle LRU does not consult refCount: a segment unmapped
// while pinned is mapped again by its next read or write.
const idleRefCount = -1

// Segment is one backing file holding the bounded slice
// [startIndex, startIndex+maxLength) of a TermLog's index space (§4.2). It
// exposes raw byte-addressed write/read — there is no per-record framing at
// this layer, that belongs to the caller (§1, §6).
type Segment struct {
	startIndex int64
	term       int64
	path       string

	mu         sync.RWMutex // segment latch; guards everything below
	maxLength  int64        // shrinks only, via setEndIndex
	pool       *handlePool
	mapping    gommap.MMap
	closedFlag bool

	refCount int64 // atomic; see idleRefCount
	dirty    int32 // atomic 0/1

	// dirtyNext links this segment into its TermLog's singly-linked dirty
	// FIFO (guarded by the TermLog's dirtyMu, never by mu).
	dirtyNext *Segment

	onDirty func(*Segment)
	logger  Logger
	metrics *Metrics
}

func segmentFileName(name string, term, start int64) string {
	return fmt.Sprintf("%s.%d.%020d", name, term, start)
}

func segmentFilePath(dir, name string, term, start int64) string {
	return filepath.Join(dir, segmentFileName(name, term, start))
}

func newSegment(dir, name string, term, start, maxLength int64, onDirty func(*Segment), logger Logger, metrics *Metrics) *Segment {
	return &Segment{
		startIndex: start,
		term:       term,
		maxLength:  maxLength,
		path:       segmentFilePath(dir, name, term, start),
		refCount:   idleRefCount,
		onDirty:    onDirty,
		logger:     logger,
		metrics:    metrics,
	}
}

func (s *Segment) endIndex() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startIndex + s.maxLength
}

// ensureOpen lazily opens the handle pool and, if the segment has non-zero
// length and is not currently mapped, maps it. Must be called with mu held
// exclusively.
func (s *Segment) ensureOpen() error {
	if s.pool == nil {
		n := 8
		if s.maxLength == 0 {
			n = 1
		}
		pool, err := openHandlePool(s.path, n, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return errors.Wrap(err, "open segment file failed")
		}
		s.pool = pool
	}
	if s.mapping == nil && s.maxLength > 0 {
		if err := s.pool.primary().Truncate(s.maxLength); err != nil {
			return errors.Wrap(err, "preallocate segment failed")
		}
		mapping, err := gommap.Map(s.pool.primary().Fd(), gommap.PROT_READ|gommap.PROT_WRITE, gommap.MAP_SHARED)
		if err != nil {
			return errors.Wrap(err, "mmap segment failed")
		}
		s.mapping = mapping
	}
	return nil
}

// write copies up to len(buf) bytes starting at absolute index absIndex,
// clipping at maxLength (a short count, never an error, when the segment's
// tail is reached). See §4.2.
func (s *Segment) write(absIndex int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedFlag {
		return 0, ErrClosed
	}
	rel := absIndex - s.startIndex
	if rel < 0 {
		return 0, ErrInvalidIndex
	}
	if rel >= s.maxLength {
		return 0, nil
	}
	n := int64(len(buf))
	if rel+n > s.maxLength {
		n = s.maxLength - rel
	}
	if n <= 0 {
		return 0, nil
	}
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	start := time.Now()
	written := copy(s.mapping[rel:rel+n], buf[:n])
	s.metrics.recordWrite(time.Since(start))
	s.markDirty()
	return written, nil
}

// read copies up to len(buf) bytes starting at absolute index absIndex. A
// short read (less than len(buf), err == io.EOF) only happens when absIndex
// is within maxLength of the segment's end, signaling the caller to move on
// to the next segment; it is never partial within the middle of a write. Like
// write, it opens and maps the file on first use (e.g. after recovery or an
// unmap).
func (s *Segment) read(absIndex int64, buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedFlag {
		return 0, ErrClosed
	}
	rel := absIndex - s.startIndex
	if rel < 0 || rel >= s.maxLength {
		return 0, io.EOF
	}
	if err := s.ensureOpen(); err != nil {
		return 0, err
	}
	n := int64(len(buf))
	if rel+n > s.maxLength {
		n = s.maxLength - rel
	}
	if n <= 0 {
		return 0, io.EOF
	}
	copied := copy(buf[:n], s.mapping[rel:rel+n])
	if int64(copied) < int64(len(buf)) {
		return copied, io.EOF
	}
	return copied, nil
}

// markDirty performs the atomic 0->1 transition described in §3 and §4.2,
// linking the segment into its TermLog's dirty list exactly once.
func (s *Segment) markDirty() {
	if atomic.CompareAndSwapInt32(&s.dirty, 0, 1) {
		if s.onDirty != nil {
			s.onDirty(s)
		}
	}
}

// setEndIndex lowers maxLength to max(0, e-startIndex). It never grows the
// segment. Returns true if the on-disk file now needs to be shortened or
// deleted to match (§4.2).
func (s *Segment) setEndIndex(e int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	newMax := e - s.startIndex
	if newMax < 0 {
		newMax = 0
	}
	if newMax >= s.maxLength {
		return false
	}
	s.maxLength = newMax
	return true
}

// sync performs the atomic 1->0 CAS described in §4.2: on success it takes a
// refcount and fsyncs (via the mmap's MS_SYNC), restoring the dirty flag —
// and re-linking into the dirty list if that's a fresh 0->1 transition — on
// failure.
func (s *Segment) sync() error {
	if !atomic.CompareAndSwapInt32(&s.dirty, 1, 0) {
		return nil
	}
	atomic.AddInt64(&s.refCount, 1)
	defer s.unref()

	s.mu.RLock()
	mapping := s.mapping
	pool := s.pool
	s.mu.RUnlock()

	start := time.Now()
	var err error
	switch {
	case mapping != nil:
		err = mapping.Sync(gommap.MS_SYNC)
	case pool != nil:
		err = pool.primary().Sync()
	}
	s.metrics.recordSync(time.Since(start))
	if err != nil {
		s.markDirty()
		return errors.Wrap(err, "segment sync failed")
	}
	return nil
}

// truncate makes the on-disk file match maxLength: deleting it entirely if
// maxLength is now zero, otherwise shortening it. Idempotent.
func (s *Segment) truncate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxLength == 0 {
		if s.mapping != nil {
			s.mapping.UnsafeUnmap() // nolint: errcheck
			s.mapping = nil
		}
		if s.pool != nil {
			s.pool.close() // nolint: errcheck
			s.pool = nil
		}
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "delete segment failed")
		}
		return nil
	}
	if s.pool == nil {
		return nil
	}
	if err := s.pool.primary().Truncate(s.maxLength); err != nil {
		return errors.Wrap(err, "truncate segment failed")
	}
	return nil
}

// unmap drops the memory mapping but keeps file handles open. Called in the
// background when the segment is evicted from the idle LRU, whether or not a
// pin has taken it again since; the next read or write maps it again (§4.2).
func (s *Segment) unmap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mapping == nil {
		return nil
	}
	err := s.mapping.UnsafeUnmap()
	s.mapping = nil
	if err != nil {
		return errors.Wrap(err, "unmap segment failed")
	}
	return nil
}

// close permanently closes the segment: unmaps and closes every handle. Safe
// to call more than once.
func (s *Segment) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closedFlag {
		return nil
	}
	s.closedFlag = true
	var firstErr error
	if s.mapping != nil {
		if err := s.mapping.UnsafeUnmap(); err != nil {
			firstErr = errors.Wrap(err, "unmap segment failed")
		}
		s.mapping = nil
	}
	if s.pool != nil {
		if err := s.pool.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.pool = nil
	}
	return firstErr
}

// pin acquires a live borrow, racing lock-free against the LRU eviction
// path: a pin always increments through the idle (negative) range back into
// the positive range, per §9's design note.
func (s *Segment) pin() {
	for {
		old := atomic.LoadInt64(&s.refCount)
		var next int64
		if old < 0 {
			next = 1
		} else {
			next = old + 1
		}
		if atomic.CompareAndSwapInt64(&s.refCount, old, next) {
			return
		}
	}
}

// unref releases a live borrow. When the last borrow is released, the
// segment transitions to idleRefCount and becomes eligible for the idle
// segment LRU / speculative unmap.
func (s *Segment) unref() {
	v := atomic.AddInt64(&s.refCount, -1)
	if v == 0 {
		atomic.CompareAndSwapInt64(&s.refCount, 0, idleRefCount)
	}
}

func (s *Segment) isIdle() bool {
	return atomic.LoadInt64(&s.refCount) < 0
}
