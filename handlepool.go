package termlog

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// handlePool owns a small, fixed-size set of file handles onto one segment
// file ("lazily open the file pool, 8 handles when length>0, 1 when
// empty"). The mapped segment does all its actual byte I/O through the
// mmap'd region (see Segment.write/read); the pool hands out only its first
// handle, through primary(), which Truncate, Sync, and the mapping all share.
type handlePool struct {
	mu      sync.Mutex
	path    string
	handles []*os.File
}

func openHandlePool(path string, n int, flags int, perm os.FileMode) (*handlePool, error) {
	handles := make([]*os.File, 0, n)
	for i := 0; i < n; i++ {
		f, err := os.OpenFile(path, flags, perm)
		if err != nil {
			for _, h := range handles {
				h.Close() // nolint: errcheck
			}
			return nil, err
		}
		handles = append(handles, f)
	}
	return &handlePool{path: path, handles: handles}, nil
}

func (p *handlePool) primary() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handles[0]
}

func (p *handlePool) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, h := range p.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close segment handle failed")
		}
	}
	p.handles = nil
	return firstErr
}
