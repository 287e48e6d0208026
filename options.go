package termlog

import "time"

const (
	// unboundedEnd marks a term that has not yet been finished via
	// FinishTerm: endIndex is conceptually infinite.
	unboundedEnd = int64(1)<<63 - 1

	defaultSegmentCacheSize = 4
	defaultWriterCacheSize  = 16
	defaultReaderCacheSize  = 64
	defaultWorkerIdle       = 30 * time.Second
)

// Options configures a TermLog. There is no CLI and no environment variable
// parsing anywhere in this module: callers build Options directly and pass
// it to New or Recover.
type Options struct {
	// Name is the base filename segments are stored under, e.g. "stream-0".
	Name string

	// Path is the directory segment files live in. Must be non-empty.
	Path string

	// Term is this log's election term.
	Term int64

	// PrevTerm is the term that preceded this one at StartIndex, used to
	// validate continuity across term boundaries (see defineTerm in the
	// outer StateLog collaborator, out of scope here).
	PrevTerm int64

	// StartIndex is the first index this log is responsible for. Pass -1 to
	// ask Recover to adopt the lowest on-disk segment's start index.
	StartIndex int64

	// HighestIndex is the highest index the caller already knows to be
	// valid. Recovery fails with ErrIncompleteSegment if on-disk segments do
	// not contiguously cover [StartIndex, HighestIndex).
	HighestIndex int64

	// SegmentCacheSize, WriterCacheSize, and ReaderCacheSize bound the three
	// independent LRUs described in §4.5. Zero selects a default.
	SegmentCacheSize int
	WriterCacheSize  int
	ReaderCacheSize  int

	// Worker is the shared background executor used to close, unmap, and
	// truncate segments. Multiple TermLogs may share one Worker. If nil, a
	// private Worker is created.
	Worker *Worker

	// Logger receives structured diagnostics. If nil, logging is silent.
	Logger Logger

	// Metrics receives write/sync latency samples. If nil, a private
	// instance is created.
	Metrics *Metrics
}

func (o *Options) setDefaults() {
	if o.SegmentCacheSize == 0 {
		o.SegmentCacheSize = defaultSegmentCacheSize
	}
	if o.WriterCacheSize == 0 {
		o.WriterCacheSize = defaultWriterCacheSize
	}
	if o.ReaderCacheSize == 0 {
		o.ReaderCacheSize = defaultReaderCacheSize
	}
	if o.Logger == nil {
		o.Logger = silentLogger()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	if o.Worker == nil {
		o.Worker = NewWorker(defaultWorkerIdle, o.Logger)
	}
}
