package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBacklogRangeWithinWindow(t *testing.T) {
	b := NewBacklog(16)

	off1 := b.Feed([]byte("hello"))
	require.Equal(t, int64(5), off1)
	off2 := b.Feed([]byte("world"))
	require.Equal(t, int64(10), off2)

	data, ok := b.Range(5)
	require.True(t, ok)
	require.Equal(t, "world", string(data))

	data, ok = b.Range(0)
	require.True(t, ok)
	require.Equal(t, "helloworld", string(data))

	data, ok = b.Range(10)
	require.True(t, ok)
	require.Empty(t, data)
}

func TestBacklogRangeOutsideWindowFallsBackToFullResync(t *testing.T) {
	b := NewBacklog(4)
	b.Feed([]byte("abcdefgh")) // 8 bytes through a 4-byte ring: only "efgh" survives

	_, ok := b.Range(0)
	require.False(t, ok, "offset 0 has long since been overwritten")

	_, ok = b.Range(100)
	require.False(t, ok, "offset beyond tail is never valid")

	data, ok := b.Range(4)
	require.True(t, ok)
	require.Equal(t, "efgh", string(data))
}

func TestBacklogWrapsCleanly(t *testing.T) {
	b := NewBacklog(4)
	b.Feed([]byte("ab"))
	b.Feed([]byte("cd"))
	b.Feed([]byte("ef")) // wraps: ring now holds "cdef"

	data, ok := b.Range(2)
	require.True(t, ok)
	require.Equal(t, "cdef", string(data))
}
