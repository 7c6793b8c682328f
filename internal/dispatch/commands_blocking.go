package dispatch

import (
	"errors"
	"strconv"
	"time"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/storage"
	"github.com/ferrousdb/ferrous/internal/value"
)

var errInvalidTimeout = errors.New("timeout is not a float or out of range")

func (d *Dispatcher) registerBlocking() {
	d.register(commandSpec{name: "blpop", arity: -3, isWrite: true, handler: cmdBlockingPop(storage.DirLeft), noScript: true})
	d.register(commandSpec{name: "brpop", arity: -3, isWrite: true, handler: cmdBlockingPop(storage.DirRight), noScript: true})
	d.register(commandSpec{name: "wait", arity: 3, handler: d.cmdWait(), noScript: true})
}

func parseTimeoutSeconds(s []byte) (time.Duration, error) {
	f, err := strconv.ParseFloat(string(s), 64)
	if err != nil || f < 0 {
		return 0, errInvalidTimeout
	}
	if f == 0 {
		return 0, nil
	}
	return time.Duration(f * float64(time.Second)), nil
}

// cmdBlockingPop builds the BLPOP/BRPOP handler for dir: try an
// immediate non-blocking pop across all keys in order first, then park on the blocking coordinator until served or
// timed out (steps 2-4).
func cmdBlockingPop(dir storage.Direction) HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		keys := make([]string, len(args)-2)
		for i, k := range args[1 : len(args)-1] {
			keys[i] = string(k)
		}
		timeout, err := parseTimeoutSeconds(args[len(args)-1])
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "timeout is not a float or out of range")
		}

		key, elem, ok, wrongType := tryPopAny(ctx, keys, dir)
		if wrongType {
			return proto.ErrReply(proto.ErrWrongType, "Operation against a key holding the wrong kind of value")
		}
		if ok {
			return proto.BulkArray([][]byte{[]byte(key), elem})
		}
		if ctx.NoBlock {
			// Inside EXEC or a script: behave like the non-blocking pop
			// rather than parking, matching real Redis.
			return proto.NilArray{}
		}

		w := ctx.Engine.Blocking.Register(keys, dir, timeout)
		res := <-w.Result()
		if res.TimedOut {
			return proto.NilArray{}
		}
		return proto.BulkArray([][]byte{[]byte(res.Key), res.Elem})
	}
}

// tryPopAny attempts an immediate pop across keys in order. The third
// return reports whether a pop succeeded; the fourth reports a
// wrong-kind key, which must fail the caller immediately rather than
// fall through to registering a waiter that could never be served.
func tryPopAny(ctx *Context, keys []string, dir storage.Direction) (key string, elem []byte, ok, wrongType bool) {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	for _, k := range keys {
		v, present := ctx.DB.Get(k)
		if !present {
			continue
		}
		list, err := value.As[*value.List](v)
		if err != nil {
			return "", nil, false, true
		}
		var popped []byte
		var popOK bool
		if dir == storage.DirLeft {
			popped, popOK = list.PopLeft()
		} else {
			popped, popOK = list.PopRight()
		}
		if !popOK {
			continue
		}
		if list.Len() == 0 {
			ctx.DB.Delete(k)
		} else {
			ctx.DB.Touch(k)
		}
		return k, popped, true, false
	}
	return "", nil, false, false
}

// cmdWait implements WAIT numreplicas timeout by polling the
// replication master's acknowledged-replica count, since Ferrous
// replicas stream continuously rather than acking individual offsets.
// A numreplicas of 0 or a master with no replication fan-out returns
// immediately.
func (d *Dispatcher) cmdWait() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		numReplicas, err := strconv.Atoi(string(args[1]))
		if err != nil || numReplicas < 0 {
			return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
		}
		timeoutMS, err := strconv.Atoi(string(args[2]))
		if err != nil || timeoutMS < 0 {
			return proto.ErrReply(proto.ErrGeneric, "timeout is negative")
		}

		count := func() int {
			if d.Master == nil {
				return 0
			}
			return d.Master.ReplicaCount()
		}

		if n := count(); n >= numReplicas {
			return proto.Integer(int64(n))
		}
		if numReplicas == 0 || ctx.NoBlock || d.Master == nil {
			// Inside EXEC or a script, or with no master to count: never park.
			return proto.Integer(int64(count()))
		}

		var deadline <-chan time.Time
		if timeoutMS > 0 {
			t := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
			defer t.Stop()
			deadline = t.C
		}
		poll := time.NewTicker(20 * time.Millisecond)
		defer poll.Stop()
		for {
			select {
			case <-poll.C:
				if n := count(); n >= numReplicas {
					return proto.Integer(int64(n))
				}
			case <-deadline:
				return proto.Integer(int64(count()))
			}
		}
	}
}
