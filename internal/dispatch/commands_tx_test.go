package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/proto"
)

func TestExecRunsQueuedCommandsInOrder(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()

	require.Equal(t, proto.OK(), d.Dispatch(sess, req("MULTI")))
	require.Equal(t, proto.OK(), d.Dispatch(sess, req("SET", "k", "1")))
	require.Equal(t, proto.OK(), d.Dispatch(sess, req("INCR", "k")))

	reply := d.Dispatch(sess, req("EXEC"))
	arr, ok := reply.(proto.Array)
	require.True(t, ok)
	require.Len(t, arr.Items, 2)
	require.Equal(t, proto.OK(), arr.Items[0])
	require.Equal(t, proto.Integer(2), arr.Items[1])
}

// TestExecHoldsTheExecutionLaneAgainstOtherConnections installs a handler
// that stalls mid-EXEC-replay and confirms a second connection's command
// cannot complete until the stalled EXEC releases the execution lane.
func TestExecHoldsTheExecutionLaneAgainstOtherConnections(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()
	other := newTestSession()

	entered := make(chan struct{})
	release := make(chan struct{})
	stallOnce := false
	original := d.table["set"]
	d.table["set"] = commandSpec{name: "set", arity: original.arity, isWrite: true, handler: func(ctx *Context, args [][]byte) proto.Reply {
		if !stallOnce {
			stallOnce = true
			close(entered)
			<-release
		}
		return original.handler(ctx, args)
	}}

	require.Equal(t, proto.OK(), d.Dispatch(sess, req("MULTI")))
	require.Equal(t, proto.OK(), d.Dispatch(sess, req("SET", "k", "v")))

	execDone := make(chan proto.Reply, 1)
	go func() { execDone <- d.Dispatch(sess, req("EXEC")) }()
	<-entered

	otherDone := make(chan proto.Reply, 1)
	go func() { otherDone <- d.Dispatch(other, req("GET", "k")) }()

	select {
	case <-otherDone:
		t.Fatal("another connection's GET completed while EXEC's replay still held the lane")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	<-execDone
	<-otherDone
}
