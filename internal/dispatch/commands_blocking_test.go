package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/proto"
)

func TestBLPopAgainstWrongTypeFailsImmediately(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()

	d.Dispatch(sess, req("SET", "k", "not-a-list"))

	done := make(chan proto.Reply, 1)
	go func() { done <- d.Dispatch(sess, req("BLPOP", "k", "0")) }()

	select {
	case reply := <-done:
		errReply, isErr := reply.(proto.Error)
		require.True(t, isErr)
		require.Equal(t, proto.ErrWrongType, errReply.Err.Kind)
	case <-time.After(time.Second):
		t.Fatal("BLPOP against a wrong-kind key parked a waiter instead of failing immediately")
	}
}

func TestBLPopInsideExecDoesNotBlock(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()

	d.Dispatch(sess, req("MULTI"))
	d.Dispatch(sess, req("BLPOP", "nosuchkey", "0"))

	done := make(chan proto.Reply, 1)
	go func() { done <- d.Dispatch(sess, req("EXEC")) }()

	select {
	case reply := <-done:
		arr, ok := reply.(proto.Array)
		require.True(t, ok)
		require.Len(t, arr.Items, 1)
		require.Equal(t, proto.NilArray{}, arr.Items[0], "BLPOP inside EXEC must behave like a non-blocking pop")
	case <-time.After(time.Second):
		t.Fatal("BLPOP inside EXEC parked, holding the execution lane forever")
	}
}
