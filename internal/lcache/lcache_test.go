package lcache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddNoEviction(t *testing.T) {
	c := New(2)
	_, _, evicted := c.Add(1, "a")
	require.False(t, evicted)
	require.Equal(t, 1, c.Len())
}

func TestAddEvictsLeastRecentlyUsed(t *testing.T) {
	c := New(2)
	c.Add(1, "a")
	c.Add(2, "b")

	key, val, evicted := c.Add(3, "c")
	require.True(t, evicted)
	require.Equal(t, int64(1), key)
	require.Equal(t, "a", val)
	require.Equal(t, 2, c.Len())
}

func TestRemoveExtractsOrNil(t *testing.T) {
	c := New(2)
	c.Add(1, "a")

	val, ok := c.Remove(1)
	require.True(t, ok)
	require.Equal(t, "a", val)
	require.Equal(t, 0, c.Len())

	val, ok = c.Remove(1)
	require.False(t, ok)
	require.Nil(t, val)
}

func TestPurgeClearsAll(t *testing.T) {
	c := New(4)
	c.Add(1, "a")
	c.Add(2, "b")
	require.Equal(t, 2, c.Len())
	c.Purge()
	require.Equal(t, 0, c.Len())
}
