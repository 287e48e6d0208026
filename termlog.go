package termlog

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"

	"github.com/liftbridge-io/termlog/internal/lcache"
)

// ramp is the segment-size ladder described in §4.1: 1, 2, 4, ..., 64 MiB.
var ramp = [...]int64{
	1 << 20, 2 << 20, 4 << 20, 8 << 20, 16 << 20, 32 << 20, 64 << 20,
}

// HighestInfo is the snapshot captureHighest returns: a term, a highest
// index, and the actual (clamped) commit index, all read atomically with
// respect to concurrent mutation (§4.1).
type HighestInfo struct {
	Term         int64
	HighestIndex int64
	ActualCommit int64
}

// TermLog is the watermark engine of §4.1: it owns the five watermarks
// (start, commit, highest, contig, end), the non-contig writer heap, the
// commit-task heap, the dirty-segment list, and drives segment creation and
// truncation. A single read-write latch (mu) guards all index fields, the
// segment set, and both heaps; the dirty list has its own latch to decouple
// writers from syncs (§4.1, §5).
type TermLog struct {
	Options

	mu sync.RWMutex // mLatch

	startIndex   int64
	commitIndex  int64
	highestIndex int64
	contigIndex  int64
	endIndex     int64
	prevTerm     int64

	segments     segmentSet
	segmentCache *lcache.Cache
	writerCache  *lcache.Cache
	readerCache  *lcache.Cache

	nonContig writerHeap
	commitQ   commitHeap

	dirtyMu   sync.Mutex
	dirtyHead *Segment
	dirtyTail *Segment

	syncMu sync.Mutex

	closed  bool
	logger  Logger
	metrics *Metrics

	// checkpointCommit is populated by readCheckpoint during Recover; it is
	// a hint, never authoritative (§9).
	checkpointCommit int64
}

// New creates a brand-new TermLog starting at Options.StartIndex, with no
// on-disk segments. Use Recover to reopen a log that may already have
// segments on disk.
func New(opts Options) (*TermLog, error) {
	opts.setDefaults()
	if opts.Path == "" {
		return nil, ErrPathEmpty
	}
	if opts.StartIndex < 0 {
		opts.StartIndex = 0
	}
	l := &TermLog{
		Options:      opts,
		startIndex:   opts.StartIndex,
		commitIndex:  opts.StartIndex,
		highestIndex: opts.StartIndex,
		contigIndex:  opts.StartIndex,
		endIndex:     unboundedEnd,
		prevTerm:     opts.PrevTerm,
		segmentCache: lcache.New(opts.SegmentCacheSize),
		writerCache:  lcache.New(opts.WriterCacheSize),
		readerCache:  lcache.New(opts.ReaderCacheSize),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
	}
	l.nonContig = writerHeap{}
	l.commitQ = commitHeap{}
	heap.Init(&l.nonContig)
	heap.Init(&l.commitQ)
	return l, nil
}

// Term returns the log's election term.
func (l *TermLog) Term() int64 { return l.Options.Term }

// StartIndex returns the log's configured start index.
func (l *TermLog) StartIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.startIndex
}

// EndIndex returns the term's end index, or unboundedEnd if FinishTerm has
// not yet been called.
func (l *TermLog) EndIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.endIndex
}

// ContigIndex returns the current contiguous watermark.
func (l *TermLog) ContigIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.contigIndex
}

// CommitIndex returns the raw (unclamped) commit watermark.
func (l *TermLog) CommitIndex() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.commitIndex
}

func (l *TermLog) actualCommit() int64 {
	// Must be called with mu held (shared or exclusive).
	if l.commitIndex < l.highestIndex {
		return l.commitIndex
	}
	return l.highestIndex
}

// CaptureHighest snapshots term, highestIndex, and actualCommit under a
// shared latch (§4.1).
func (l *TermLog) CaptureHighest() HighestInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return HighestInfo{
		Term:         l.Options.Term,
		HighestIndex: l.highestIndex,
		ActualCommit: l.actualCommit(),
	}
}

// Commit clamps newCommitIndex to endIndex, advances commitIndex
// monotonically, and wakes commit waiters whose threshold is now reached.
// Regressions are silently ignored (§4.1).
func (l *TermLog) Commit(newCommitIndex int64) {
	l.mu.Lock()
	if newCommitIndex > l.endIndex {
		newCommitIndex = l.endIndex
	}
	if newCommitIndex <= l.commitIndex {
		l.mu.Unlock()
		return
	}
	l.commitIndex = newCommitIndex
	l.notifyCommitTasks() // releases l.mu
}

// notifyCommitTasks must be called with mu held exclusively; it releases mu
// before returning (§4.1). It repeatedly peeks the commit-task heap,
// popping and firing any waiter whose threshold has been reached, releasing
// the latch around each callback invocation since firing a waiter may
// itself re-enter the TermLog (e.g. a reader immediately re-arming a wait).
func (l *TermLog) notifyCommitTasks() {
	for {
		if len(l.commitQ) == 0 {
			l.mu.Unlock()
			return
		}
		top := l.commitQ[0]
		ac := l.actualCommit()
		if top.threshold > ac {
			l.mu.Unlock()
			return
		}
		heap.Pop(&l.commitQ)
		l.mu.Unlock()
		top.result <- ac
		l.mu.Lock()
	}
}

// waitForCommit parks waiter until actualCommit >= index, the log closes,
// the term ends below index, or timeoutNanos elapses (negative = forever).
// waiter is the caller's thread-local park key (§4.3, §5).
func (l *TermLog) waitForCommit(waiter *commitWaiter, index int64, timeoutNanos int64) int64 {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return WaitClosed
	}
	if index > l.endIndex {
		l.mu.Unlock()
		return WaitTermEnd
	}
	if ac := l.actualCommit(); ac >= index {
		l.mu.Unlock()
		return ac
	}
	waiter.threshold = index
	heap.Push(&l.commitQ, waiter)
	l.mu.Unlock()

	if timeoutNanos < 0 {
		return <-waiter.result
	}
	select {
	case v := <-waiter.result:
		return v
	case <-time.After(time.Duration(timeoutNanos)):
		l.mu.Lock()
		if waiter.index >= 0 {
			heap.Remove(&l.commitQ, waiter.index)
			l.mu.Unlock()
			return WaitTimeout
		}
		l.mu.Unlock()
		// Already fired between the timer firing and us acquiring mu.
		return <-waiter.result
	}
}

// FinishTerm fixes the term's end index (§4.1). It fails if end would raise
// an already-finished term or fall below the current actual commit; it is
// idempotent if the term is already finished at exactly end.
func (l *TermLog) FinishTerm(end int64) error {
	l.mu.Lock()
	if l.endIndex != unboundedEnd {
		if end == l.endIndex {
			l.mu.Unlock()
			return nil
		}
		if end > l.endIndex {
			l.mu.Unlock()
			return ErrIllegalTermBoundary
		}
	}
	if end < l.actualCommit() {
		l.mu.Unlock()
		return ErrIllegalTermBoundary
	}

	l.endIndex = end
	if l.contigIndex > end {
		l.contigIndex = end
	}
	if l.highestIndex > end {
		l.highestIndex = end
	}

	for _, seg := range append([]*Segment(nil), l.segments.all()...) {
		if seg.startIndex >= end {
			l.segments.remove(seg.startIndex)
			seg.setEndIndex(seg.startIndex)
			l.scheduleTruncate(seg)
			continue
		}
		if seg.endIndex() > end {
			if seg.setEndIndex(end) {
				l.scheduleTruncate(seg)
			}
		}
	}

	kept := make(writerHeap, 0, len(l.nonContig))
	for _, w := range l.nonContig {
		if w.startIndex >= end {
			w.heapIndex = -1
			continue
		}
		kept = append(kept, w)
	}
	for i, w := range kept {
		w.heapIndex = i
	}
	l.nonContig = kept
	heap.Init(&l.nonContig)

	var fired []*commitWaiter
	keptQ := make(commitHeap, 0, len(l.commitQ))
	for _, w := range l.commitQ {
		if w.threshold > end {
			w.index = -1
			fired = append(fired, w)
			continue
		}
		keptQ = append(keptQ, w)
	}
	for i, w := range keptQ {
		w.index = i
	}
	l.commitQ = keptQ
	heap.Init(&l.commitQ)
	l.mu.Unlock()

	for _, w := range fired {
		w.result <- WaitTermEnd
	}
	return nil
}

// CheckForMissingData implements §4.1's gap report: if lastContig equals the
// current contigIndex (no progress since the caller's last snapshot), every
// gap in [contig, expected) is reported via report(from, to), where expected
// is endIndex if the term is finished, else commitIndex. It always returns
// the current contigIndex so the caller can re-arm.
func (l *TermLog) CheckForMissingData(lastContig int64, report func(from, to int64)) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	current := l.contigIndex
	if lastContig != current {
		return current
	}
	expected := l.endIndex
	if expected == unboundedEnd {
		expected = l.commitIndex
	}
	cursor := current
	for _, w := range sortedWriters(l.nonContig) {
		if w.startIndex > cursor {
			report(cursor, w.startIndex)
		}
		if idx := w.lockFreeIndex(); idx > cursor {
			cursor = idx
		}
	}
	if cursor < expected {
		report(cursor, expected)
	}
	return current
}

func sortedWriters(h writerHeap) []*SegmentWriter {
	out := append([]*SegmentWriter(nil), h...)
	sort.Slice(out, func(i, j int) bool { return out[i].startIndex < out[j].startIndex })
	return out
}

// OpenWriter returns a SegmentWriter starting at startIndex, reusing (and
// removing) a cached one from the writer LRU if present; releaseWriter is
// what populates that LRU. Never blocks (§4.1).
func (l *TermLog) OpenWriter(startIndex int64) (*SegmentWriter, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if startIndex < l.startIndex {
		l.mu.Unlock()
		return nil, ErrInvalidIndex
	}
	if v, ok := l.writerCache.Remove(startIndex); ok {
		l.mu.Unlock()
		// w.mu is never acquired while l.mu is held: Write() takes the
		// opposite order (w.mu then l.mu), so nesting it here would invert
		// the lock order.
		w := v.(*SegmentWriter)
		w.mu.Lock()
		w.closed = false
		w.mu.Unlock()
		return w, nil
	}
	w := &SegmentWriter{
		log:           l,
		prevTerm:      l.prevTerm,
		startIndex:    startIndex,
		index:         startIndex,
		snapshotIndex: startIndex,
		heapIndex:     -1,
	}
	if startIndex > l.contigIndex && startIndex < l.endIndex {
		heap.Push(&l.nonContig, w)
	}
	l.mu.Unlock()
	return w, nil
}

// releaseWriter returns w to the writer LRU, releasing any evicted victim's
// pinned segment reference and scheduling its pinned resources for cleanup.
func (l *TermLog) releaseWriter(w *SegmentWriter) {
	l.mu.Lock()
	_, evicted, ok := l.writerCache.Add(w.startIndex, w)
	l.mu.Unlock()
	if ok {
		if victim, isWriter := evicted.(*SegmentWriter); isWriter {
			victim.mu.Lock()
			seg := victim.segment
			victim.segment = nil
			victim.mu.Unlock()
			if seg != nil {
				l.releaseSegment(seg)
			}
		}
	}
}

// OpenReader returns a SegmentReader starting at startIndex, reusing (and
// removing) a cached one from the reader LRU if present; releaseReader is
// what populates that LRU. Never blocks (§4.1).
func (l *TermLog) OpenReader(startIndex int64) (*SegmentReader, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if startIndex < l.startIndex {
		l.mu.Unlock()
		return nil, ErrInvalidIndex
	}
	if v, ok := l.readerCache.Remove(startIndex); ok {
		l.mu.Unlock()
		r := v.(*SegmentReader)
		r.mu.Lock()
		r.closed = false
		r.mu.Unlock()
		return r, nil
	}
	l.mu.Unlock()
	return &SegmentReader{
		log:      l,
		prevTerm: l.prevTerm,
		index:    startIndex,
	}, nil
}

func (l *TermLog) releaseReader(r *SegmentReader) {
	l.mu.Lock()
	_, evicted, ok := l.readerCache.Add(r.Index(), r)
	l.mu.Unlock()
	if ok {
		if victim, isReader := evicted.(*SegmentReader); isReader {
			victim.mu.Lock()
			seg := victim.segment
			victim.segment = nil
			victim.mu.Unlock()
			if seg != nil {
				l.releaseSegment(seg)
			}
		}
	}
}

// segmentForWriting implements §4.1's allocation algorithm: find the floor
// segment; if it still has room, pin and return it; otherwise compute a new
// segment on the ramp, starting at the floor's end (or startIndex) advanced by
// whole ramp-sized steps so that it covers index, clamped to not overlap the
// next segment nor pass endIndex, insert it, and return it pinned.
func (l *TermLog) segmentForWriting(index int64) (*Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if index >= l.endIndex {
		return nil, errTermFinished
	}
	floor := l.segments.floor(index)
	if floor != nil && index < floor.endIndex() {
		l.pinSegmentLocked(floor)
		return floor, nil
	}

	var start int64
	if floor == nil {
		start = l.startIndex
	} else {
		start = floor.endIndex()
	}
	maxLen := l.rampSize()
	if index-start >= maxLen {
		start += (index - start) / maxLen * maxLen
	}
	end := start + maxLen
	if ceil := l.segments.ceiling(start); ceil != nil && end > ceil.startIndex {
		end = ceil.startIndex
	}
	if end > l.endIndex {
		end = l.endIndex
	}
	if end <= start {
		return nil, errTermFinished
	}

	seg := newSegment(l.Path, l.Name, l.Options.Term, start, end-start, l.linkDirty, l.logger, l.metrics)
	l.segments.insert(seg)
	l.pinSegmentLocked(seg)
	l.logger.Debugf("allocated segment start=%d length=%s", start, humanize.Bytes(uint64(end-start)))
	return seg, nil
}

// rampSize picks the next segment's length from the 1,2,4,...,64 MiB ladder
// keyed by how many segments already exist (§4.1, §9).
func (l *TermLog) rampSize() int64 {
	k := l.segments.len()
	if k >= len(ramp) {
		k = len(ramp) - 1
	}
	return ramp[k]
}

// segmentForReading implements §4.1's read-side lookup: find the floor
// segment; if index is still within the term, pin and return it, else nil.
func (l *TermLog) segmentForReading(index int64) (*Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if index >= l.endIndex {
		return nil, nil
	}
	floor := l.segments.floor(index)
	if floor == nil {
		return nil, nil
	}
	l.pinSegmentLocked(floor)
	return floor, nil
}

// pinSegmentLocked must be called with mu held. It removes seg from the idle
// segment LRU (if cached there) and pins it.
func (l *TermLog) pinSegmentLocked(seg *Segment) {
	l.segmentCache.Remove(seg.startIndex)
	seg.pin()
}

// releaseSegment unrefs seg; if it goes idle, it's added to the idle LRU and
// any evicted victim is scheduled for a background unmap. The victim's file
// handles are not closed here; they stay open until the segment is truncated
// to zero length or the log is closed.
func (l *TermLog) releaseSegment(seg *Segment) {
	seg.unref()
	if !seg.isIdle() {
		return
	}
	l.mu.Lock()
	_, evicted, ok := l.segmentCache.Add(seg.startIndex, seg)
	l.mu.Unlock()
	if ok {
		if victim, isSeg := evicted.(*Segment); isSeg {
			l.Worker.Enqueue(func() {
				victim.unmap() // nolint: errcheck
			})
		}
	}
}

func (l *TermLog) scheduleTruncate(seg *Segment) {
	l.Worker.Enqueue(func() {
		if err := seg.truncate(); err != nil {
			l.logger.Errorf("truncate segment start=%d failed: %v", seg.startIndex, err)
		}
	})
}

// linkDirty appends seg to the TermLog's singly-linked dirty FIFO under
// dirtyMu, decoupled from mu so writes never block behind a sync (§4.1,
// §5).
func (l *TermLog) linkDirty(seg *Segment) {
	l.dirtyMu.Lock()
	seg.dirtyNext = nil
	if l.dirtyTail == nil {
		l.dirtyHead = seg
	} else {
		l.dirtyTail.dirtyNext = seg
	}
	l.dirtyTail = seg
	l.dirtyMu.Unlock()
}

// Sync drains the dirty list in FIFO order, flushing each segment's file.
// Concurrent Sync calls coalesce via syncMu, which is never nested inside
// any other latch (§4.1, §5). A segment whose sync fails re-marks itself
// dirty so a later Sync reattempts it.
func (l *TermLog) Sync() error {
	l.syncMu.Lock()
	defer l.syncMu.Unlock()

	start := time.Now()
	l.dirtyMu.Lock()
	head := l.dirtyHead
	l.dirtyHead, l.dirtyTail = nil, nil
	l.dirtyMu.Unlock()

	var firstErr error
	var synced int
	for seg := head; seg != nil; {
		next := seg.dirtyNext
		seg.dirtyNext = nil
		if err := seg.sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		synced++
		seg = next
	}
	if firstErr == nil {
		l.writeCheckpoint() // nolint: errcheck
	}
	elapsed, durErr := durafmt.Parse(time.Since(start))
	if durErr != nil {
		l.logger.Debugf("synced %d segment(s)", synced)
	} else {
		l.logger.Debugf("synced %d segment(s) in %s", synced, elapsed)
	}
	return firstErr
}

// Close joins the worker's pending tasks for this log's segments, marks the
// log closed, closes every segment, and fires every pending commit waiter
// with WaitClosed (§4.1).
func (l *TermLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	fired := append([]*commitWaiter(nil), l.commitQ...)
	for _, w := range fired {
		w.index = -1
	}
	l.commitQ = nil
	segs := append([]*Segment(nil), l.segments.all()...)
	l.mu.Unlock()

	for _, w := range fired {
		w.result <- WaitClosed
	}

	l.Worker.Join()

	var firstErr error
	for _, seg := range segs {
		if err := seg.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// writeFinished is called by SegmentWriter.Write after every write attempt,
// whether or not it made progress, to fold the writer's new index and
// asserted highest index into the TermLog's watermarks (§4.1, §4.3). w's own
// mu is held by the caller; this only takes l.mu, so no cycle is possible
// with segmentForWriting's w.mu -> l.mu order.
//
// highestIndex never exceeds contigIndex (§3's invariant chain): a write's
// asserted highest only takes effect once contig has actually caught up to
// it, except once the term is finished, when contigIndex itself becomes a
// valid highestIndex.
func (l *TermLog) writeFinished(w *SegmentWriter, newIndex, assertedHighest int64) {
	l.mu.Lock()
	if newIndex > l.endIndex {
		newIndex = l.endIndex
	}
	if assertedHighest > l.endIndex {
		assertedHighest = l.endIndex
	}
	if w.heapIndex == -1 {
		if w.startIndex <= l.contigIndex && newIndex > l.contigIndex {
			l.contigIndex = newIndex
		}
	}
	for len(l.nonContig) > 0 {
		top := l.nonContig[0]
		if top.startIndex > l.contigIndex {
			break
		}
		heap.Pop(&l.nonContig)
		if progress := top.lockFreeIndex(); progress > l.contigIndex {
			l.contigIndex = progress
		}
	}

	if assertedHighest > l.highestIndex && assertedHighest <= l.contigIndex {
		l.highestIndex = assertedHighest
	}
	if l.endIndex != unboundedEnd && l.contigIndex >= l.endIndex && l.contigIndex > l.highestIndex {
		l.highestIndex = l.contigIndex
	}

	l.notifyCommitTasks() // releases l.mu
}
