package persistence

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/storage"
	"github.com/ferrousdb/ferrous/internal/value"
)

func newTestEngine() *storage.Engine {
	return storage.New(2, func() time.Time { return time.Unix(0, 0) })
}

func TestDumpAndLoadRDBReaderRoundTrip(t *testing.T) {
	engine := newTestEngine()
	engine.DB(0).Set("str", value.NewString([]byte("hello")))
	list := value.NewList()
	list.PushRight([]byte("a"))
	list.PushRight([]byte("b"))
	engine.DB(0).Set("list", list)
	engine.DB(1).Set("other-db", value.NewString([]byte("db1")))

	dump, err := DumpRDB(engine)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(dump, rdbMagic[:]))

	restored := newTestEngine()
	restored.DB(0).Set("stale", value.NewString([]byte("should be wiped")))

	require.NoError(t, LoadRDBReader(restored, bytes.NewReader(dump)))

	require.False(t, restored.DB(0).Exists("stale"), "restore must flush existing data first")

	v, ok := restored.DB(0).Get("str")
	require.True(t, ok)
	require.Equal(t, "hello", string(v.(*value.String).Data))

	v, ok = restored.DB(0).Get("list")
	require.True(t, ok)
	l := v.(*value.List)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, l.Range(0, l.Len()-1))

	v, ok = restored.DB(1).Get("other-db")
	require.True(t, ok)
	require.Equal(t, "db1", string(v.(*value.String).Data))
}

func TestLoadRDBMissingFileIsNotAnError(t *testing.T) {
	engine := newTestEngine()
	require.NoError(t, LoadRDB(engine, "/nonexistent/path/to/ferrous.rdb"))
}

func TestLoadRDBReaderRejectsBadMagic(t *testing.T) {
	engine := newTestEngine()
	err := LoadRDBReader(engine, bytes.NewReader([]byte("not an rdb file at all")))
	require.Error(t, err)
}

func TestLoadRDBReaderRejectsCorruptPayload(t *testing.T) {
	engine := newTestEngine()
	engine.DB(0).Set("str", value.NewString([]byte("hello")))
	dump, err := DumpRDB(engine)
	require.NoError(t, err)

	corrupt := append([]byte(nil), dump...)
	corrupt[len(corrupt)-1] ^= 0xFF // flip a byte inside the checksum trailer

	restored := newTestEngine()
	restored.DB(0).Set("untouched", value.NewString([]byte("still here")))
	err = LoadRDBReader(restored, bytes.NewReader(corrupt))
	require.Error(t, err)
	require.Contains(t, err.Error(), "CRC64")

	require.True(t, restored.DB(0).Exists("untouched"), "a rejected snapshot must not disturb the existing dataset")
}
