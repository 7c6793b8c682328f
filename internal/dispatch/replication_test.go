package dispatch

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/config"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
)

type fakeReplicaController struct {
	startedHost string
	startedPort int
	stopped     bool
}

func (f *fakeReplicaController) StartReplicaOf(host string, port int) {
	f.startedHost, f.startedPort = host, port
}
func (f *fakeReplicaController) StopReplicaOf() { f.stopped = true }
func (f *fakeReplicaController) Status() (string, int, bool, int64) {
	if f.startedHost == "" {
		return "", 0, false, 0
	}
	return f.startedHost, f.startedPort, true, 42
}

func newTestDispatcher() *Dispatcher {
	engine := storage.New(1, func() time.Time { return time.Unix(0, 0) })
	return New(engine, config.Default(), zap.NewNop())
}

func newTestSession() *session.Session {
	return session.New(1, proto.NewWriter(&bytes.Buffer{}))
}

func req(args ...string) *proto.Request {
	r := &proto.Request{}
	for _, a := range args {
		r.Args = append(r.Args, []byte(a))
	}
	return r
}

func TestReplicaOfWithoutControllerErrors(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()
	reply := d.Dispatch(sess, req("REPLICAOF", "10.0.0.1", "6380"))
	_, isErr := reply.(proto.Error)
	require.True(t, isErr)
}

func TestReplicaOfStartsAndStopsController(t *testing.T) {
	d := newTestDispatcher()
	fc := &fakeReplicaController{}
	d.ReplOf = fc
	sess := newTestSession()

	reply := d.Dispatch(sess, req("REPLICAOF", "10.0.0.1", "6380"))
	require.Equal(t, proto.OK(), reply)
	require.Equal(t, "10.0.0.1", fc.startedHost)
	require.Equal(t, 6380, fc.startedPort)

	reply = d.Dispatch(sess, req("REPLICAOF", "NO", "ONE"))
	require.Equal(t, proto.OK(), reply)
	require.True(t, fc.stopped)
}

func TestWritesRejectedInReplicaMode(t *testing.T) {
	d := newTestDispatcher()
	d.SetReplicaMode(true)
	sess := newTestSession()

	reply := d.Dispatch(sess, req("SET", "k", "v"))
	errReply, isErr := reply.(proto.Error)
	require.True(t, isErr)
	require.Equal(t, proto.ErrReadOnly, errReply.Err.Kind)
}

func TestReadsStillAllowedInReplicaMode(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()
	d.Dispatch(sess, req("SET", "k", "v"))

	d.SetReplicaMode(true)
	reply := d.Dispatch(sess, req("GET", "k"))
	_, isErr := reply.(proto.Error)
	require.False(t, isErr)
}

func TestExecQueuedBypassesReplicaReadOnlyCheck(t *testing.T) {
	d := newTestDispatcher()
	d.SetReplicaMode(true)
	sess := newTestSession()

	reply := d.ExecQueued(sess, [][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	_, isErr := reply.(proto.Error)
	require.False(t, isErr, "replica command replay must never be blocked by the read-only check")
}
