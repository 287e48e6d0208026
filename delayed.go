package termlog

// commitWaiter is the "delayed task" of §3: a threshold index plus a
// continuation. It doubles as the thread-local park key described in §5 —
// each caller (writer or reader) owns exactly one commitWaiter, reused
// across every wait it performs, so parking never allocates on the hot
// path. The result channel is allocated once and reused: it is always
// drained by the single wait that armed it before the waiter is reused.
type commitWaiter struct {
	threshold int64
	result    chan int64
	// index is this waiter's position in the commitHeap, or -1 when it is
	// not currently queued. Tracked so a timed-out waiter can remove itself
	// in O(log n) via container/heap.Remove.
	index int
}

func newCommitWaiter() *commitWaiter {
	return &commitWaiter{result: make(chan int64, 1), index: -1}
}

// commitHeap is a min-heap of pending commitWaiters ordered by threshold.
// It lives entirely inside TermLog.mu: every push, peek, and pop happens
// under the exclusive latch, and notifyCommitTasks's peek-release-invoke-
// reacquire protocol is incompatible with a self-synchronizing queue
// implementation (see DESIGN.md) — hence plain container/heap here instead
// of the Workiva priority queue used for the Worker's FIFO.
type commitHeap []*commitWaiter

func (h commitHeap) Len() int            { return len(h) }
func (h commitHeap) Less(i, j int) bool  { return h[i].threshold < h[j].threshold }
func (h commitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *commitHeap) Push(x interface{}) {
	w := x.(*commitWaiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *commitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// writerHeap is the non-contig writer min-heap of §4.1, ordered by
// startIndex. A min-heap keyed by startIndex suffices (see §9 design notes)
// because writes only grow forward and never retract, so only the tip of
// each writer matters.
type writerHeap []*SegmentWriter

func (h writerHeap) Len() int           { return len(h) }
func (h writerHeap) Less(i, j int) bool { return h[i].startIndex < h[j].startIndex }
func (h writerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *writerHeap) Push(x interface{}) {
	w := x.(*SegmentWriter)
	w.heapIndex = len(*h)
	*h = append(*h, w)
}
func (h *writerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.heapIndex = -1
	*h = old[:n-1]
	return w
}
