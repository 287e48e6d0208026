package termlog

import "github.com/pkg/errors"

// Sentinel errors produced by the term log core. Each corresponds to one of
// the error kinds a caller must be prepared to handle.
var (
	// ErrClosed is returned by operations performed after Close, or through a
	// closed writer/reader.
	ErrClosed = errors.New("term log closed")

	// ErrInvalidIndex is returned when an index falls below the log's
	// configured startIndex.
	ErrInvalidIndex = errors.New("index is before the log start index")

	// ErrIllegalTermBoundary is returned by FinishTerm when the requested end
	// index would raise an already-finished term, or would drop the end
	// below the current actual commit index.
	ErrIllegalTermBoundary = errors.New("illegal term boundary")

	// ErrIncompleteSegment is returned during recovery when the on-disk
	// segments do not contiguously cover [startIndex, highestIndex).
	ErrIncompleteSegment = errors.New("recovered segments have a gap before the requested highest index")

	// ErrSegmentNotFound names a read or write outside any known segment
	// range. No operation in this package returns it: a reader with no
	// segment at its index stops short, and a writer allocates a segment.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrPathEmpty is returned by New/Recover when Options.Path is empty.
	ErrPathEmpty = errors.New("path must not be empty")

	// errTermFinished is an internal sentinel used between segmentForWriting
	// and SegmentWriter.Write to signal that the term has ended and no
	// further bytes can be accepted; it never escapes to callers.
	errTermFinished = errors.New("term finished")
)

// Sentinel return values for waitForCommit, distinguishing a real commit
// index (always >= 0) from the three terminal conditions a waiter can wake
// up to.
const (
	// WaitClosed is returned when the term log was closed while the caller
	// was parked.
	WaitClosed int64 = -1 << 63

	// WaitTimeout is returned when the wait's deadline elapsed before the
	// commit watermark reached the requested threshold.
	WaitTimeout int64 = WaitClosed + 1

	// WaitTermEnd is returned when the requested threshold lies beyond the
	// term's end index, either at the time of the call or because
	// FinishTerm ran while the caller was parked.
	WaitTermEnd int64 = WaitClosed + 2
)
