package termlog

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Recover reopens a TermLog from whatever segment files already exist under
// Options.Path, applying the rules of §6: StartIndex of -1 adopts the
// lowest on-disk segment's start, a gap before HighestIndex is fatal, and
// segments left stale by a prior crash (fully past HighestIndex, or wholly
// before StartIndex, or overlapping their successor) are cleaned up.
func Recover(opts Options) (*TermLog, error) {
	opts.setDefaults()
	if opts.Path == "" {
		return nil, ErrPathEmpty
	}

	found, err := discoverSegments(opts.Path, opts.Name, opts.Term)
	if err != nil {
		return nil, err
	}
	sort.Slice(found, func(i, j int) bool { return found[i].start < found[j].start })

	startIndex := opts.StartIndex
	if startIndex == -1 {
		if len(found) == 0 {
			startIndex = 0
		} else {
			startIndex = found[0].start
		}
	}
	if startIndex > opts.HighestIndex {
		return nil, errors.Wrap(ErrInvalidIndex, "configured start index exceeds highest index")
	}

	l, err := New(Options{
		Name:             opts.Name,
		Path:             opts.Path,
		Term:             opts.Term,
		PrevTerm:         opts.PrevTerm,
		StartIndex:       startIndex,
		HighestIndex:     opts.HighestIndex,
		SegmentCacheSize: opts.SegmentCacheSize,
		WriterCacheSize:  opts.WriterCacheSize,
		ReaderCacheSize:  opts.ReaderCacheSize,
		Worker:           opts.Worker,
		Logger:           opts.Logger,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, err
	}

	for _, f := range found {
		length := fileLength(f.path)
		seg := newSegment(opts.Path, opts.Name, opts.Term, f.start, length, l.linkDirty, l.logger, l.metrics)
		l.segments.insert(seg)
	}

	if err := l.checkCoverage(opts.HighestIndex); err != nil {
		return nil, err
	}
	l.cleanupRecoveredSegments(opts.HighestIndex)

	highest := opts.HighestIndex
	if highest > l.endIndex {
		highest = l.endIndex
	}
	l.highestIndex = highest
	l.contigIndex = highest
	l.commitIndex = highest - 1
	if readErr := l.readCheckpoint(); readErr == nil {
		// Checkpoint is a non-authoritative hint (§9): only raise the
		// commit watermark, never trust it past what recovery proved.
		if l.checkpointCommit > l.commitIndex && l.checkpointCommit <= l.highestIndex {
			l.commitIndex = l.checkpointCommit
		}
	}

	return l, nil
}

// checkCoverage implements §6's gap rule: segments must contiguously cover
// [startIndex, highestIndex), or recovery fails with ErrIncompleteSegment.
func (l *TermLog) checkCoverage(highestIndex int64) error {
	if highestIndex <= l.startIndex {
		return nil
	}
	cursor := l.startIndex
	for _, seg := range l.segments.all() {
		if seg.startIndex > cursor {
			break
		}
		if seg.endIndex() > cursor {
			cursor = seg.endIndex()
		}
		if cursor >= highestIndex {
			return nil
		}
	}
	return errors.Wrapf(ErrIncompleteSegment, "covered only [%d, %d), need [%d, %d)",
		l.startIndex, cursor, l.startIndex, highestIndex)
}

// cleanupRecoveredSegments implements §6's post-load cleanup: segments
// wholly stale relative to [startIndex, highestIndex) are scheduled for
// deletion, and a segment overlapping its successor is shrunk to abut.
func (l *TermLog) cleanupRecoveredSegments(highestIndex int64) {
	all := append([]*Segment(nil), l.segments.all()...)
	for i, seg := range all {
		if seg.endIndex() <= l.startIndex || seg.startIndex >= highestIndex {
			l.segments.remove(seg.startIndex)
			seg.setEndIndex(seg.startIndex)
			l.scheduleTruncate(seg)
			continue
		}
		if i+1 < len(all) {
			next := all[i+1]
			if seg.endIndex() > next.startIndex {
				if seg.setEndIndex(next.startIndex) {
					l.scheduleTruncate(seg)
				}
			}
		}
	}
}

type discoveredSegment struct {
	path  string
	start int64
}

// discoverSegments globs "<name>.<term>.<digits>" under dir and parses the
// trailing start index from each match, per §6's on-disk layout.
func discoverSegments(dir, name string, term int64) ([]discoveredSegment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read segment directory failed")
	}
	prefix := name + "." + strconv.FormatInt(term, 10) + "."
	var out []discoveredSegment
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fname := e.Name()
		if !strings.HasPrefix(fname, prefix) {
			continue
		}
		suffix := fname[len(prefix):]
		start, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, discoveredSegment{
			path:  filepath.Join(dir, fname),
			start: start,
		})
	}
	return out, nil
}

func fileLength(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
