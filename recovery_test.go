package termlog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Name: "s", Path: dir, Term: 7, StartIndex: 0})
	require.NoError(t, err)

	w, err := l.OpenWriter(0)
	require.NoError(t, err)
	data := make([]byte, 1500)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := w.Write(data, 1500)
	require.NoError(t, err)
	require.Equal(t, 1500, n)

	l.Commit(1500)
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	l2, err := Recover(Options{Name: "s", Path: dir, Term: 7, StartIndex: 0, HighestIndex: 1500})
	require.NoError(t, err)
	defer l2.Close()
	require.Equal(t, int64(1500), l2.ContigIndex())
	require.Equal(t, int64(1500), l2.CommitIndex())

	r, err := l2.OpenReader(0)
	require.NoError(t, err)
	buf := make([]byte, 1500)
	read, err := r.Read(buf, int64(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1500, read)
	require.Equal(t, data, buf)

	// Segments are preallocated to their full ramp-sized length (1 MiB
	// here), so a HighestIndex that still falls within that single segment
	// would trivially pass coverage; use one well beyond the one allocated
	// segment's endIndex to actually exercise the gap-detection path.
	_, err = Recover(Options{Name: "s", Path: dir, Term: 7, StartIndex: 0, HighestIndex: 2_000_000})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrIncompleteSegment))
}

func TestRecoverAdoptsLowestOnDiskStart(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Name: "s", Path: dir, Term: 1, StartIndex: 10})
	require.NoError(t, err)

	w, err := l.OpenWriter(10)
	require.NoError(t, err)
	_, err = w.Write([]byte("abcd"), 14)
	require.NoError(t, err)
	l.Commit(14)
	require.NoError(t, l.Sync())
	require.NoError(t, l.Close())

	l2, err := Recover(Options{Name: "s", Path: dir, Term: 1, StartIndex: -1, HighestIndex: 14})
	require.NoError(t, err)
	defer l2.Close()
	require.Equal(t, int64(10), l2.StartIndex())
	require.Equal(t, int64(14), l2.ContigIndex())
}

func TestRecoverMissingDirYieldsEmptyLog(t *testing.T) {
	dir := t.TempDir() + "/does-not-exist"
	l, err := Recover(Options{Name: "s", Path: dir, Term: 1, StartIndex: 0, HighestIndex: 0})
	require.NoError(t, err)
	defer l.Close()
	require.Equal(t, int64(0), l.ContigIndex())
}
