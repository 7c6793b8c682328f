package scripting

import (
	"context"
	"crypto/sha1"
	"encoding/hex"

	lua "github.com/yuin/gopher-lua"

	"github.com/ferrousdb/ferrous/internal/proto"
)

var errDeadlineExceeded = context.DeadlineExceeded

func luaSHA1Hex(L *lua.LState) int {
	s := L.CheckString(1)
	sum := sha1.Sum([]byte(s))
	L.Push(lua.LString(hex.EncodeToString(sum[:])))
	return 1
}

// replyToLua converts a RESP2 Reply into the Lua value redis.call
// returns, following the standard Redis<->Lua conversion table: bulk -> string, integer -> number, simple string -> {ok=...},
// nil bulk/array -> false, array -> 1-indexed table.
func replyToLua(L *lua.LState, r proto.Reply) lua.LValue {
	switch v := r.(type) {
	case proto.Bulk:
		if v.Data == nil {
			return lua.LFalse
		}
		return lua.LString(v.Data)
	case proto.NilBulk:
		return lua.LFalse
	case proto.NilArray:
		return lua.LFalse
	case proto.Integer:
		return lua.LNumber(v)
	case proto.SimpleString:
		tbl := L.NewTable()
		L.SetField(tbl, "ok", lua.LString(string(v)))
		return tbl
	case proto.Array:
		tbl := L.NewTable()
		for _, item := range v.Items {
			tbl.Append(replyToLua(L, item))
		}
		return tbl
	case proto.Error:
		tbl := L.NewTable()
		L.SetField(tbl, "err", lua.LString(v.Err.Msg))
		return tbl
	default:
		return lua.LNil
	}
}

// luaToReply converts a script's return value back into a RESP2 reply,
// the inverse of replyToLua.
func luaToReply(v lua.LValue) proto.Reply {
	switch val := v.(type) {
	case lua.LBool:
		if !bool(val) {
			return proto.NilBulk{}
		}
		return proto.Integer(1)
	case lua.LNumber:
		return proto.Integer(int64(val))
	case lua.LString:
		return proto.Bulk{Data: []byte(val)}
	case *lua.LTable:
		if errv := val.RawGetString("err"); errv != lua.LNil {
			return proto.ErrReply(proto.ErrGeneric, "%s", errv.String())
		}
		if okv := val.RawGetString("ok"); okv != lua.LNil {
			return proto.SimpleString(okv.String())
		}
		var items []proto.Reply
		for i := 1; ; i++ {
			item := val.RawGetInt(i)
			if item == lua.LNil {
				break
			}
			items = append(items, luaToReply(item))
		}
		return proto.Array{Items: items}
	case *lua.LNilType:
		return proto.NilBulk{}
	default:
		return proto.NilBulk{}
	}
}
