package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrousdb/ferrous/internal/proto"
)

func TestZAddRejectsNaNScore(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()

	reply := d.Dispatch(sess, req("ZADD", "z", "nan", "m"))
	errReply, isErr := reply.(proto.Error)
	require.True(t, isErr, "ZADD with a NaN score must be rejected")
	require.Equal(t, proto.ErrGeneric, errReply.Err.Kind)

	reply = d.Dispatch(sess, req("ZSCORE", "z", "m"))
	require.Equal(t, proto.NilBulk{}, reply, "a rejected ZADD must not create the member")
}

func TestZAddIncrRejectsNaNResult(t *testing.T) {
	d := newTestDispatcher()
	sess := newTestSession()

	d.Dispatch(sess, req("ZADD", "z", "inf", "m"))
	reply := d.Dispatch(sess, req("ZADD", "z", "INCR", "-inf", "m"))
	_, isErr := reply.(proto.Error)
	require.True(t, isErr, "incrementing +inf by -inf produces NaN and must be rejected")
}
