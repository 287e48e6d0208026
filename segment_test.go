package termlog

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestSegment(t *testing.T, start, maxLength int64) *Segment {
	t.Helper()
	var linked []*Segment
	onDirty := func(s *Segment) { linked = append(linked, s) }
	return newSegment(t.TempDir(), "seg", 1, start, maxLength, onDirty, silentLogger(), nil)
}

func TestSegmentWriteReadRoundTrip(t *testing.T) {
	s := newTestSegment(t, 0, 64)

	n, err := s.write(0, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)

	buf := make([]byte, 11)
	n, err = s.read(0, buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, "hello world", string(buf))
}

func TestSegmentWriteClipsAtMaxLength(t *testing.T) {
	s := newTestSegment(t, 0, 8)

	n, err := s.write(4, []byte("abcdefgh"))
	require.NoError(t, err)
	require.Equal(t, 4, n) // only 4 bytes fit before maxLength=8
}

func TestSegmentReadEOFAtBoundary(t *testing.T) {
	s := newTestSegment(t, 100, 8)
	_, err := s.write(100, []byte("abcdefgh"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := s.read(106, buf)
	require.Equal(t, io.EOF, err)
	require.Equal(t, 2, n) // bytes [106,108) exist, [108,110) don't
}

func TestSegmentDirtyTransitionFiresOnce(t *testing.T) {
	var fired int
	s := newSegment(t.TempDir(), "seg", 1, 0, 64, func(*Segment) { fired++ }, silentLogger(), nil)

	_, err := s.write(0, []byte("a"))
	require.NoError(t, err)
	_, err = s.write(1, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, 1, fired)

	require.NoError(t, s.sync())
	_, err = s.write(2, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, 2, fired)
}

func TestSegmentSetEndIndexShrinksOnly(t *testing.T) {
	s := newTestSegment(t, 0, 64)
	require.True(t, s.setEndIndex(32))
	require.Equal(t, int64(32), s.endIndex())

	// Raising it back up is a no-op; setEndIndex never grows.
	require.False(t, s.setEndIndex(64))
	require.Equal(t, int64(32), s.endIndex())
}

func TestSegmentTruncateToZeroDeletesFile(t *testing.T) {
	dir := t.TempDir()
	s := newSegment(dir, "seg", 1, 0, 64, func(*Segment) {}, silentLogger(), nil)
	_, err := s.write(0, []byte("x"))
	require.NoError(t, err)

	path := segmentFilePath(dir, "seg", 1, 0)
	_, err = os.Stat(path)
	require.NoError(t, err)

	s.setEndIndex(0)
	require.NoError(t, s.truncate())

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestSegmentPinUnrefIdleSentinel(t *testing.T) {
	s := newTestSegment(t, 0, 64)
	require.True(t, s.isIdle())

	s.pin()
	require.False(t, s.isIdle())
	s.pin()
	require.False(t, s.isIdle())

	s.unref()
	require.False(t, s.isIdle())
	s.unref()
	require.True(t, s.isIdle())

	// pinning again after going idle must work lock-free through the
	// negative sentinel.
	s.pin()
	require.False(t, s.isIdle())
}

func TestSegmentFileNameFormat(t *testing.T) {
	name := segmentFileName("stream-0", 3, 42)
	require.Equal(t, "stream-0.3.00000000000000000042", name)

	path := segmentFilePath("/data", "stream-0", 3, 42)
	require.Equal(t, filepath.Join("/data", name), path)
}
