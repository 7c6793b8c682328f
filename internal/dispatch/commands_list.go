package dispatch

import (
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/storage"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerList() {
	d.register(commandSpec{name: "lpush", arity: -3, isWrite: true, handler: cmdPush(true)})
	d.register(commandSpec{name: "rpush", arity: -3, isWrite: true, handler: cmdPush(false)})
	d.register(commandSpec{name: "lpushx", arity: -3, isWrite: true, handler: cmdPushX(true)})
	d.register(commandSpec{name: "rpushx", arity: -3, isWrite: true, handler: cmdPushX(false)})
	d.register(commandSpec{name: "lpop", arity: -2, isWrite: true, handler: cmdPop(true)})
	d.register(commandSpec{name: "rpop", arity: -2, isWrite: true, handler: cmdPop(false)})
	d.register(commandSpec{name: "llen", arity: 2, handler: cmdLLen})
	d.register(commandSpec{name: "lrange", arity: 4, handler: cmdLRange})
	d.register(commandSpec{name: "lindex", arity: 3, handler: cmdLIndex})
	d.register(commandSpec{name: "lset", arity: 4, isWrite: true, handler: cmdLSet})
	d.register(commandSpec{name: "ltrim", arity: 4, isWrite: true, handler: cmdLTrim})
	d.register(commandSpec{name: "linsert", arity: 5, isWrite: true, handler: cmdLInsert})
	d.register(commandSpec{name: "lrem", arity: 4, isWrite: true, handler: cmdLRem})
	d.register(commandSpec{name: "lpos", arity: -3, handler: cmdLPos})
}

func getList(ctx *Context, key string) (*value.List, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.List](v)
}

func cmdPush(left bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		ctx.DB.Lock()
		key := string(args[1])
		list, err := getList(ctx, key)
		if err != nil {
			ctx.DB.Unlock()
			return wrongTypeReply(err)
		}
		if list == nil {
			list = value.NewList()
			ctx.DB.Set(key, list)
		}
		if left {
			list.PushLeft(args[2:]...)
		} else {
			list.PushRight(args[2:]...)
		}
		ctx.DB.Touch(key)
		n := list.Len()
		ctx.DB.Unlock()

		serveBlockedOnList(ctx, key)
		return proto.Integer(int64(n))
	}
}

// serveBlockedOnList wakes any BLPOP/BRPOP waiters on key after a push,
// popping directly from the list under the database lock so the
// handoff is atomic with respect to other clients.
func serveBlockedOnList(ctx *Context, key string) {
	ctx.Engine.Blocking.Serve(key, func(waiterDir storage.Direction) ([]byte, bool) {
		ctx.DB.Lock()
		defer ctx.DB.Unlock()
		v, ok := ctx.DB.Get(key)
		if !ok {
			return nil, false
		}
		list, err := value.As[*value.List](v)
		if err != nil {
			return nil, false
		}
		var elem []byte
		if waiterDir == storage.DirLeft {
			elem, ok = list.PopLeft()
		} else {
			elem, ok = list.PopRight()
		}
		if !ok {
			return nil, false
		}
		if list.Len() == 0 {
			ctx.DB.Delete(key)
		} else {
			ctx.DB.Touch(key)
		}
		return elem, true
	})
}

func cmdPushX(left bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		ctx.DB.Lock()
		key := string(args[1])
		list, err := getList(ctx, key)
		if err != nil {
			ctx.DB.Unlock()
			return wrongTypeReply(err)
		}
		if list == nil {
			ctx.DB.Unlock()
			return proto.Integer(0)
		}
		if left {
			list.PushLeft(args[2:]...)
		} else {
			list.PushRight(args[2:]...)
		}
		ctx.DB.Touch(key)
		n := list.Len()
		ctx.DB.Unlock()
		return proto.Integer(int64(n))
	}
}

func cmdPop(left bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		count := -1
		if len(args) == 3 {
			n, err := strconv.Atoi(string(args[2]))
			if err != nil || n < 0 {
				return proto.ErrReply(proto.ErrGeneric, "value is out of range, must be positive")
			}
			count = n
		}

		ctx.DB.Lock()
		defer ctx.DB.Unlock()
		key := string(args[1])
		list, err := getList(ctx, key)
		if err != nil {
			return wrongTypeReply(err)
		}
		if list == nil {
			if count >= 0 {
				return proto.NilArray{}
			}
			return proto.NilBulk{}
		}

		if count < 0 {
			var elem []byte
			var ok bool
			if left {
				elem, ok = list.PopLeft()
			} else {
				elem, ok = list.PopRight()
			}
			if !ok {
				return proto.NilBulk{}
			}
			if list.Len() == 0 {
				ctx.DB.Delete(key)
			} else {
				ctx.DB.Touch(key)
			}
			return proto.Bulk{Data: elem}
		}

		var out [][]byte
		for i := 0; i < count; i++ {
			var elem []byte
			var ok bool
			if left {
				elem, ok = list.PopLeft()
			} else {
				elem, ok = list.PopRight()
			}
			if !ok {
				break
			}
			out = append(out, elem)
		}
		if list.Len() == 0 {
			ctx.DB.Delete(key)
		} else {
			ctx.DB.Touch(key)
		}
		if out == nil {
			return proto.NilArray{}
		}
		return proto.BulkArray(out)
	}
}

func cmdLLen(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	list, err := getList(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if list == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(list.Len()))
}

func cmdLRange(ctx *Context, args [][]byte) proto.Reply {
	start, err1 := strconv.Atoi(string(args[2]))
	stop, err2 := strconv.Atoi(string(args[3]))
	if err1 != nil || err2 != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	list, err := getList(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if list == nil {
		return proto.Array{}
	}
	return proto.BulkArray(list.Range(start, stop))
}

func cmdLIndex(ctx *Context, args [][]byte) proto.Reply {
	idx, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	list, lerr := getList(ctx, string(args[1]))
	if lerr != nil {
		return wrongTypeReply(lerr)
	}
	if list == nil {
		return proto.NilBulk{}
	}
	v, ok := list.Get(idx)
	if !ok {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: v}
}

func cmdLSet(ctx *Context, args [][]byte) proto.Reply {
	idx, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	list, lerr := getList(ctx, key)
	if lerr != nil {
		return wrongTypeReply(lerr)
	}
	if list == nil {
		return proto.ErrReply(proto.ErrGeneric, "no such key")
	}
	if !list.Set(idx, args[3]) {
		return proto.ErrReply(proto.ErrGeneric, "index out of range")
	}
	ctx.DB.Touch(key)
	return proto.OK()
}

func cmdLTrim(ctx *Context, args [][]byte) proto.Reply {
	start, err1 := strconv.Atoi(string(args[2]))
	stop, err2 := strconv.Atoi(string(args[3]))
	if err1 != nil || err2 != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	list, err := getList(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if list == nil {
		return proto.OK()
	}
	list.Trim(start, stop)
	if list.Len() == 0 {
		ctx.DB.Delete(key)
	} else {
		ctx.DB.Touch(key)
	}
	return proto.OK()
}

func cmdLInsert(ctx *Context, args [][]byte) proto.Reply {
	where := strings.ToUpper(string(args[2]))
	if where != "BEFORE" && where != "AFTER" {
		return proto.ErrReply(proto.ErrGeneric, "syntax error")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	list, err := getList(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if list == nil {
		return proto.Integer(0)
	}
	n := list.Insert(where == "BEFORE", args[3], args[4])
	if n > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(n))
}

func cmdLRem(ctx *Context, args [][]byte) proto.Reply {
	count, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	list, lerr := getList(ctx, key)
	if lerr != nil {
		return wrongTypeReply(lerr)
	}
	if list == nil {
		return proto.Integer(0)
	}
	n := list.Remove(count, args[3])
	if list.Len() == 0 {
		ctx.DB.Delete(key)
	} else if n > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(n))
}

func cmdLPos(ctx *Context, args [][]byte) proto.Reply {
	rank := 1
	count := 1
	wantAll := false
	for i := 3; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "RANK":
			i++
			n, err := strconv.Atoi(string(args[i]))
			if err != nil {
				return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
			}
			rank = n
		case "COUNT":
			i++
			n, err := strconv.Atoi(string(args[i]))
			if err != nil || n < 0 {
				return proto.ErrReply(proto.ErrGeneric, "COUNT can't be negative")
			}
			count = n
			wantAll = n == 0
		default:
			return proto.ErrReply(proto.ErrGeneric, "syntax error")
		}
	}

	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	list, err := getList(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if list == nil {
		if wantAll || count != 1 {
			return proto.Array{}
		}
		return proto.NilBulk{}
	}
	positions := list.Pos(args[2], rank, count)
	if count == 1 && !wantAll {
		if len(positions) == 0 {
			return proto.NilBulk{}
		}
		return proto.Integer(int64(positions[0]))
	}
	items := make([]proto.Reply, len(positions))
	for i, p := range positions {
		items[i] = proto.Integer(int64(p))
	}
	return proto.Array{Items: items}
}
