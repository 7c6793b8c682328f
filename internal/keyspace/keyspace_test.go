package keyspace

import (
	"strconv"
	"testing"
	"time"

	"github.com/ryanuber/go-glob"
	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/value"
)

func globMatch(pattern, key string) bool { return glob.Glob(pattern, key) }

func TestSetGetRoundTrip(t *testing.T) {
	ks := New(nil)
	ks.Lock()
	defer ks.Unlock()

	ks.Set("k", value.NewString([]byte("v")))
	v, ok := ks.Get("k")
	require.True(t, ok)
	s, err := value.As[*value.String](v)
	require.NoError(t, err)
	require.Equal(t, "v", string(s.Data))
}

func TestExpiryLazy(t *testing.T) {
	now := time.Unix(1000, 0)
	ks := New(func() time.Time { return now })
	ks.Lock()
	ks.Set("k", value.NewString([]byte("v")))
	ks.ExpireAt("k", now.UnixMilli()+10)
	ks.Unlock()

	ks.Lock()
	require.True(t, ks.Exists("k"))
	ks.Unlock()

	now = now.Add(20 * time.Millisecond)

	ks.Lock()
	defer ks.Unlock()
	require.False(t, ks.Exists("k"))
	require.Equal(t, int64(-2), ks.TTL("k"))
}

func TestRenameOverwritesAndRenameNXFails(t *testing.T) {
	ks := New(nil)
	ks.Lock()
	defer ks.Unlock()

	ks.Set("a", value.NewString([]byte("1")))
	ks.Set("b", value.NewString([]byte("2")))

	require.NoError(t, ks.Rename("a", "b"))
	v, _ := ks.Get("b")
	s, _ := value.As[*value.String](v)
	require.Equal(t, "1", string(s.Data))

	ks.Set("a", value.NewString([]byte("3")))
	require.ErrorIs(t, ks.RenameIfAbsent("a", "b"), ErrExists)
}

func TestScanVisitsEveryStableKey(t *testing.T) {
	ks := New(nil)
	ks.Lock()
	for i := 0; i < 200; i++ {
		ks.Set("k"+strconv.Itoa(i), value.NewString([]byte("x")))
	}
	ks.Unlock()

	seen := make(map[string]bool)
	cursor := uint64(0)
	for {
		ks.Lock()
		keys, next := ks.Scan(cursor, "*", 10, globMatch)
		ks.Unlock()
		for _, k := range keys {
			seen[k] = true
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	require.Equal(t, 200, len(seen))
}
