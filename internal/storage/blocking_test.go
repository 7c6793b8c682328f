package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockingRegistryServesFIFO(t *testing.T) {
	reg := NewBlockingRegistry()
	defer reg.Close()

	w1 := reg.Register([]string{"k"}, DirLeft, 0)
	w2 := reg.Register([]string{"k"}, DirLeft, 0)

	elems := []string{"a", "b"}
	pop := func(Direction) ([]byte, bool) {
		if len(elems) == 0 {
			return nil, false
		}
		e := elems[0]
		elems = elems[1:]
		return []byte(e), true
	}
	reg.Serve("k", pop)

	select {
	case r := <-w1.Result():
		require.Equal(t, "a", string(r.Elem))
	case <-time.After(time.Second):
		t.Fatal("w1 never served")
	}
	select {
	case r := <-w2.Result():
		require.Equal(t, "b", string(r.Elem))
	case <-time.After(time.Second):
		t.Fatal("w2 never served")
	}
}

func TestBlockingRegistryTimeout(t *testing.T) {
	reg := NewBlockingRegistry()
	defer reg.Close()

	w := reg.Register([]string{"k"}, DirLeft, 20*time.Millisecond)
	select {
	case r := <-w.Result():
		require.True(t, r.TimedOut)
	case <-time.After(time.Second):
		t.Fatal("waiter never timed out")
	}
}

func TestBlockingRegistryCancelRemovesFromAllKeys(t *testing.T) {
	reg := NewBlockingRegistry()
	defer reg.Close()

	w := reg.Register([]string{"a", "b"}, DirRight, 0)
	reg.Cancel(w)

	served := false
	reg.Serve("a", func(Direction) ([]byte, bool) { served = true; return []byte("x"), true })
	require.False(t, served)
	reg.Serve("b", func(Direction) ([]byte, bool) { served = true; return []byte("x"), true })
	require.False(t, served)
}
