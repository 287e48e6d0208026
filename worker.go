package termlog

import (
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"
)

// Worker is a single-threaded background executor running close, unmap, and
// truncate tasks on behalf of one or more TermLogs (see §4.6). Ordering of
// these operations against the same file matters, so there is exactly one
// worker goroutine per Worker rather than a pool; a pool would require
// per-file sequencing anyway, which is exactly what a single queue already
// gives for free.
//
// The task FIFO is backed by Workiva's go-datastructures queue.Queue: its
// blocking Poll(n, timeout) gives the goroutine an interrupt-driven sleep
// with an idle timeout after which it exits, Put backs Enqueue, and Dispose
// backs Dispose. Join polls the queue length and the running flag.
type Worker struct {
	q           *queue.Queue
	idleTimeout time.Duration
	logger      Logger

	mu      sync.Mutex
	running bool
}

type workerTask func()

// NewWorker constructs a Worker whose goroutine exits after idleTimeout of
// inactivity and is respawned transparently on the next Enqueue.
func NewWorker(idleTimeout time.Duration, logger Logger) *Worker {
	if idleTimeout <= 0 {
		idleTimeout = defaultWorkerIdle
	}
	if logger == nil {
		logger = silentLogger()
	}
	return &Worker{
		q:           queue.New(16),
		idleTimeout: idleTimeout,
		logger:      logger,
	}
}

// Enqueue schedules t to run on the worker goroutine. Enqueue itself must be
// externally synchronized by the caller per §2 (the "mWorker" monitor); here
// that's satisfied by the mutex guarding `running`.
func (w *Worker) Enqueue(t func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.q.Put(workerTask(t))
	if !w.running {
		w.running = true
		go w.run()
	}
}

func (w *Worker) run() {
	for {
		items, err := w.q.Poll(1, w.idleTimeout)
		if err != nil {
			// Idle timeout elapsed (or the queue was disposed): exit. The
			// next Enqueue respawns the goroutine.
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		}
		for _, item := range items {
			w.runOne(item.(workerTask))
		}
	}
}

func (w *Worker) runOne(t workerTask) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("worker task panicked: %v", r)
		}
	}()
	t()
}

// Join blocks until the task queue is empty and the worker goroutine has
// gone idle. It does not stop the Worker from accepting further tasks.
func (w *Worker) Join() {
	for {
		w.mu.Lock()
		drained := w.q.Len() == 0 && !w.running
		w.mu.Unlock()
		if drained {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// Dispose permanently shuts the worker down; further Enqueue calls are
// no-ops once the underlying queue is disposed.
func (w *Worker) Dispose() {
	w.Join()
	w.q.Dispose()
}
