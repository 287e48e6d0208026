package termlog

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, start int64) *TermLog {
	t.Helper()
	l, err := New(Options{
		Name:       "stream",
		Path:       t.TempDir(),
		Term:       1,
		StartIndex: start,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

// TestLinearWriter covers S1: a single writer advancing through two writes,
// with a reader catching up once the commit watermark is raised.
func TestLinearWriter(t *testing.T) {
	l := newTestLog(t, 0)

	w, err := l.OpenWriter(0)
	require.NoError(t, err)

	n, err := w.Write([]byte("aaaa"), 4)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = w.Write([]byte("bbbb"), 8)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	info := l.CaptureHighest()
	require.Equal(t, int64(8), info.HighestIndex)

	l.Commit(8)
	require.Equal(t, int64(8), l.CaptureHighest().ActualCommit)

	r, err := l.OpenReader(0)
	require.NoError(t, err)
	buf := make([]byte, 8)
	read, err := r.Read(buf, int64(time.Second))
	require.NoError(t, err)
	require.Equal(t, 8, read)
	require.Equal(t, []byte("aaaabbbb"), buf)
}

// TestOutOfOrderWriters covers S2: a writer starting ahead of the
// contiguous watermark sits in the non-contig heap and is absorbed once a
// writer below it catches up.
func TestOutOfOrderWriters(t *testing.T) {
	l := newTestLog(t, 0)

	w1, err := l.OpenWriter(0)
	require.NoError(t, err)
	w2, err := l.OpenWriter(4)
	require.NoError(t, err)

	n, err := w2.Write([]byte("yyyy"), 8)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, int64(0), l.ContigIndex())

	var gaps [][2]int64
	l.CheckForMissingData(0, func(from, to int64) {
		gaps = append(gaps, [2]int64{from, to})
	})
	require.Equal(t, [][2]int64{{0, 4}}, gaps)

	n, err = w1.Write([]byte("xxxx"), 8)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	require.Equal(t, int64(8), l.ContigIndex())
	require.Equal(t, int64(8), l.CaptureHighest().HighestIndex)

	l.Commit(8)
	r, err := l.OpenReader(0)
	require.NoError(t, err)
	buf := make([]byte, 8)
	read, err := r.Read(buf, int64(time.Second))
	require.NoError(t, err)
	require.Equal(t, 8, read)
	require.Equal(t, []byte("xxxxyyyy"), buf)
}

// TestFinishTermDropsPendingWriter covers S3: finishing the term below a
// pending non-contig writer's start drops it from the heap, wakes its
// commit waiter with WaitTermEnd, and makes further writes through it a
// no-op.
func TestFinishTermDropsPendingWriter(t *testing.T) {
	l := newTestLog(t, 0)

	w, err := l.OpenWriter(100)
	require.NoError(t, err)

	resultCh := make(chan int64, 1)
	go func() { resultCh <- w.WaitForCommit(100, -1) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.FinishTerm(50))

	select {
	case v := <-resultCh:
		require.Equal(t, WaitTermEnd, v)
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not woken by FinishTerm")
	}

	n, err := w.Write([]byte("x"), 101)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// TestCloseWakesWaiters covers S6: a parked waiter is released with
// WaitClosed when the log closes underneath it.
func TestCloseWakesWaiters(t *testing.T) {
	l, err := New(Options{Name: "stream", Path: t.TempDir(), Term: 1, StartIndex: 0})
	require.NoError(t, err)

	w, err := l.OpenWriter(0)
	require.NoError(t, err)

	resultCh := make(chan int64, 1)
	go func() { resultCh <- w.WaitForCommit(100, -1) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case v := <-resultCh:
		require.Equal(t, WaitClosed, v)
	case <-time.After(2 * time.Second):
		t.Fatal("writer was not woken by Close")
	}
}

func TestCommitIgnoresRegression(t *testing.T) {
	l := newTestLog(t, 0)
	w, err := l.OpenWriter(0)
	require.NoError(t, err)
	_, err = w.Write([]byte("aaaa"), 4)
	require.NoError(t, err)

	l.Commit(4)
	require.Equal(t, int64(4), l.CommitIndex())
	l.Commit(2)
	require.Equal(t, int64(4), l.CommitIndex())
}

func TestReadAnyIsNonBlocking(t *testing.T) {
	l := newTestLog(t, 0)
	w, err := l.OpenWriter(0)
	require.NoError(t, err)
	_, err = w.Write([]byte("aaaa"), 4)
	require.NoError(t, err)

	r, err := l.OpenReader(0)
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := r.ReadAny(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("aaaa"), buf)

	n, err = r.ReadAny(buf)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestReaderEOFAtFinishedTerm(t *testing.T) {
	l := newTestLog(t, 0)
	w, err := l.OpenWriter(0)
	require.NoError(t, err)
	_, err = w.Write([]byte("aaaa"), 4)
	require.NoError(t, err)
	l.Commit(4)
	require.NoError(t, l.FinishTerm(4))

	r, err := l.OpenReader(0)
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := r.Read(buf, int64(time.Second))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	n, err = r.Read(buf, int64(time.Second))
	require.Equal(t, 0, n)
	require.Equal(t, io.EOF, err)
}

// TestWriteAcrossSegmentBoundary covers S4: a single write that straddles
// the end of one ramp segment and the start of the next, and a read that
// spans the same boundary from two different segment files.
func TestWriteAcrossSegmentBoundary(t *testing.T) {
	l := newTestLog(t, 0)
	w, err := l.OpenWriter(0)
	require.NoError(t, err)

	const firstSegment = 1 << 20 // ramp[0], bytes

	lead := make([]byte, firstSegment-16)
	for i := range lead {
		lead[i] = byte(i)
	}
	n, err := w.Write(lead, int64(len(lead)))
	require.NoError(t, err)
	require.Equal(t, len(lead), n)
	require.Equal(t, 1, l.segments.len())

	straddle := make([]byte, 32)
	for i := range straddle {
		straddle[i] = byte(0x80 + i)
	}
	n, err = w.Write(straddle, int64(len(lead)+len(straddle)))
	require.NoError(t, err)
	require.Equal(t, len(straddle), n)
	require.Equal(t, 2, l.segments.len(), "write should have crossed into a freshly allocated second segment")

	end := int64(len(lead) + len(straddle))
	l.Commit(end)
	require.Equal(t, end, l.CaptureHighest().ActualCommit)

	// lead stops 16 bytes short of the first segment's boundary
	// (firstSegment-16 bytes), so starting the reader at len(lead) puts its first 16 bytes in
	// the first segment and its next 16 in the freshly allocated second one.
	r, err := l.OpenReader(int64(len(lead)))
	require.NoError(t, err)
	buf := make([]byte, 32)
	read, err := r.Read(buf, int64(time.Second))
	require.NoError(t, err)
	require.Equal(t, 32, read)
	require.Equal(t, straddle, buf)
}
