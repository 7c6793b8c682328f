package replication

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
)

func newTestMaster() *Master {
	engine := storage.New(1, func() time.Time { return time.Unix(0, 0) })
	return NewMaster(engine, zap.NewNop())
}

func TestHandlePSYNCFullResyncWhenReplIDUnknown(t *testing.T) {
	m := newTestMaster()

	var out bytes.Buffer
	sess := session.New(1, proto.NewWriter(&out))

	require.NoError(t, m.HandlePSYNC(sess, "?", -1))
	require.Equal(t, 1, m.ReplicaCount())
	require.True(t, sess.ReplicaLink)

	br := bufio.NewReader(&out)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "+FULLRESYNC "+m.ReplID())

	bulkHeader, err := br.ReadString('\n')
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix([]byte(bulkHeader), []byte("$")))

	rest := make([]byte, br.Buffered())
	_, err = br.Read(rest)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(rest, []byte{'F', 'E', 'R', 'R', 'O', 'U', 'S', 1}), "inline payload must be a valid RDB snapshot")
}

func TestHandlePSYNCPartialResyncWhenOffsetInWindow(t *testing.T) {
	m := newTestMaster()
	m.Propagate(0, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	offsetAfterFirstWrite := m.Offset()
	m.Propagate(0, [][]byte{[]byte("SET"), []byte("k2"), []byte("v2")})

	var out bytes.Buffer
	sess := session.New(2, proto.NewWriter(&out))

	require.NoError(t, m.HandlePSYNC(sess, m.ReplID(), offsetAfterFirstWrite))

	br := bufio.NewReader(&out)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "+CONTINUE "+m.ReplID())
}

func TestPropagateFansOutToAttachedReplicas(t *testing.T) {
	m := newTestMaster()

	var out bytes.Buffer
	sess := session.New(3, proto.NewWriter(&out))
	require.NoError(t, m.HandlePSYNC(sess, "?", -1))
	out.Reset() // discard the handshake bytes, keep only what Propagate writes next

	m.Propagate(0, [][]byte{[]byte("SET"), []byte("a"), []byte("1")})
	require.Contains(t, out.String(), "SET")
	require.Contains(t, out.String(), "a")

	m.Detach(sess)
	require.Equal(t, 0, m.ReplicaCount())
}
