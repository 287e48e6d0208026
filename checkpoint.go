package termlog

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	atomicfile "github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

// checkpointFileName is the watermark hint file written alongside a term's
// segments (§9 supplemented feature). It records commitIndex, highestIndex,
// and contigIndex as of the last successful Sync, so a restart can skip
// re-deriving the commit watermark from scratch while still trusting
// recovery's segment-coverage check as authoritative.
func checkpointFileName(name string, term int64) string {
	return fmt.Sprintf("%s.%d.checkpoint", name, term)
}

func (l *TermLog) checkpointPath() string {
	return filepath.Join(l.Path, checkpointFileName(l.Name, l.Options.Term))
}

// writeCheckpoint atomically replaces the checkpoint file with the current
// watermarks, using natefinch/atomic so a crash mid-write never leaves a
// torn file behind for the next recovery to trip over.
func (l *TermLog) writeCheckpoint() error {
	l.mu.RLock()
	line := fmt.Sprintf("%d %d %d\n", l.commitIndex, l.highestIndex, l.contigIndex)
	l.mu.RUnlock()

	r := strings.NewReader(line)
	if err := atomicfile.WriteFile(l.checkpointPath(), r); err != nil {
		return errors.Wrap(err, "write checkpoint failed")
	}
	return nil
}

// readCheckpoint loads the last-synced commit watermark into
// l.checkpointCommit, for Recover to optionally fast-forward commitIndex.
// It never sets l.checkpointCommit above what it reads. A missing or
// malformed checkpoint returns an error, which Recover ignores — the file is
// a hint, not a source of truth (§9).
func (l *TermLog) readCheckpoint() error {
	data, err := ioutil.ReadFile(l.checkpointPath())
	if err != nil {
		return err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return errors.New("empty checkpoint file")
	}
	commit, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse checkpoint commit index failed")
	}
	l.checkpointCommit = commit
	return nil
}
