// Package scripting sandboxes Lua 5.1 script evaluation for EVAL/EVALSHA,
// using gopher-lua as the interpreter. Every script
// runs in a fresh *lua.LState so no state leaks between invocations;
// the cache of script source by SHA1 lives in storage.Engine, not here.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
)

// Caller lets a script re-enter command dispatch via redis.call/pcall
// without scripting importing dispatch (which would cycle back here).
type Caller interface {
	CallFromScript(sess *session.Session, args [][]byte) proto.Reply
}

// Host evaluates scripts on behalf of the dispatcher.
type Host struct {
	caller  Caller
	timeout time.Duration
}

func NewHost(caller Caller, timeout time.Duration) *Host {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Host{caller: caller, timeout: timeout}
}

// ErrScriptTimedOut is returned when a script exceeds its wall-clock
// budget.
var ErrScriptTimedOut = errors.New("script exceeded time limit")

// Eval runs source with the given KEYS/ARGV. Eval itself holds no lock:
// atomicity comes from the caller. EVAL/EVALSHA are ordinary dispatcher
// commands, so the dispatcher's single execution lane (see
// dispatch.Dispatcher.execMu) is already held for the whole call,
// including every redis.call/pcall the script makes — those re-enter
// dispatch via CallFromScript, which executes directly rather than
// going through Dispatch, so they never try to retake the lane.
func (h *Host) Eval(sess *session.Session, source string, keys, argv [][]byte) (proto.Reply, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.fn), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			return nil, fmt.Errorf("scripting: open %s: %w", lib.name, err)
		}
	}
	// Strip the pieces of the base library that would let a script
	// escape the sandbox.
	for _, name := range []string{"dofile", "loadfile", "load", "collectgarbage", "require"} {
		L.SetGlobal(name, lua.LNil)
	}

	keysTable := L.NewTable()
	for _, k := range keys {
		keysTable.Append(lua.LString(k))
	}
	argvTable := L.NewTable()
	for _, a := range argv {
		argvTable.Append(lua.LString(a))
	}
	L.SetGlobal("KEYS", keysTable)
	L.SetGlobal("ARGV", argvTable)

	redisTable := L.NewTable()
	L.SetField(redisTable, "call", L.NewFunction(h.luaCall(sess, false)))
	L.SetField(redisTable, "pcall", L.NewFunction(h.luaCall(sess, true)))
	L.SetField(redisTable, "error_reply", L.NewFunction(luaErrorReply))
	L.SetField(redisTable, "status_reply", L.NewFunction(luaStatusReply))
	L.SetField(redisTable, "sha1hex", L.NewFunction(luaSHA1Hex))
	L.SetGlobal("redis", redisTable)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	L.SetContext(ctx)

	if err := L.DoString(source); err != nil {
		if errors.Is(L.Context().Err(), errDeadlineExceeded) {
			return nil, ErrScriptTimedOut
		}
		return nil, fmt.Errorf("scripting: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)
	return luaToReply(ret), nil
}

func (h *Host) luaCall(sess *session.Session, protected bool) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		if n == 0 {
			L.RaiseError("redis.call requires at least one argument")
			return 0
		}
		args := make([][]byte, n)
		for i := 1; i <= n; i++ {
			args[i-1] = []byte(L.CheckString(i))
		}
		reply := h.caller.CallFromScript(sess, args)
		if errReply, isErr := reply.(proto.Error); isErr {
			if protected {
				tbl := L.NewTable()
				L.SetField(tbl, "err", lua.LString(errReply.Err.Msg))
				L.Push(tbl)
				return 1
			}
			L.RaiseError("%s", errReply.Err.Msg)
			return 0
		}
		L.Push(replyToLua(L, reply))
		return 1
	}
}

func luaErrorReply(L *lua.LState) int {
	msg := L.CheckString(1)
	tbl := L.NewTable()
	L.SetField(tbl, "err", lua.LString(msg))
	L.Push(tbl)
	return 1
}

func luaStatusReply(L *lua.LState) int {
	msg := L.CheckString(1)
	tbl := L.NewTable()
	L.SetField(tbl, "ok", lua.LString(msg))
	L.Push(tbl)
	return 1
}
