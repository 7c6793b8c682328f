package dispatch

import (
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerString() {
	d.register(commandSpec{name: "get", arity: 2, handler: cmdGet})
	d.register(commandSpec{name: "set", arity: -3, isWrite: true, handler: cmdSet})
	d.register(commandSpec{name: "setnx", arity: 3, isWrite: true, handler: cmdSetNX})
	d.register(commandSpec{name: "getset", arity: 3, isWrite: true, handler: cmdGetSet})
	d.register(commandSpec{name: "getdel", arity: 2, isWrite: true, handler: cmdGetDel})
	d.register(commandSpec{name: "append", arity: 3, isWrite: true, handler: cmdAppend})
	d.register(commandSpec{name: "strlen", arity: 2, handler: cmdStrlen})
	d.register(commandSpec{name: "getrange", arity: 4, handler: cmdGetRange})
	d.register(commandSpec{name: "setrange", arity: 4, isWrite: true, handler: cmdSetRange})
	d.register(commandSpec{name: "incr", arity: 2, isWrite: true, handler: cmdIncr})
	d.register(commandSpec{name: "decr", arity: 2, isWrite: true, handler: cmdDecr})
	d.register(commandSpec{name: "incrby", arity: 3, isWrite: true, handler: cmdIncrBy})
	d.register(commandSpec{name: "decrby", arity: 3, isWrite: true, handler: cmdDecrBy})
	d.register(commandSpec{name: "incrbyfloat", arity: 3, isWrite: true, handler: cmdIncrByFloat})
	d.register(commandSpec{name: "mget", arity: -2, handler: cmdMGet})
	d.register(commandSpec{name: "mset", arity: -3, isWrite: true, handler: cmdMSet})
	d.register(commandSpec{name: "msetnx", arity: -3, isWrite: true, handler: cmdMSetNX})
	d.register(commandSpec{name: "copy", arity: -3, isWrite: true, handler: cmdCopy})
}

func getString(ctx *Context, key string) (*value.String, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.String](v)
}

func cmdGet(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getString(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: s.Data}
}

func wrongTypeReply(err error) proto.Reply {
	return proto.ErrReply(proto.ErrWrongType, "Operation against a key holding the wrong kind of value")
}

func cmdSet(ctx *Context, args [][]byte) proto.Reply {
	key, val := string(args[1]), args[2]
	var nx, xx, get bool
	var expireAtMS int64
	var keepTTL bool

	for i := 3; i < len(args); i++ {
		opt := strings.ToUpper(string(args[i]))
		switch opt {
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "GET":
			get = true
		case "KEEPTTL":
			keepTTL = true
		case "EX", "PX", "EXAT", "PXAT":
			i++
			if i >= len(args) {
				return proto.ErrReply(proto.ErrGeneric, "syntax error")
			}
			n, err := strconv.ParseInt(string(args[i]), 10, 64)
			if err != nil {
				return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
			}
			switch opt {
			case "EX":
				expireAtMS = nowMS() + n*1000
			case "PX":
				expireAtMS = nowMS() + n
			case "EXAT":
				expireAtMS = n * 1000
			case "PXAT":
				expireAtMS = n
			}
		default:
			return proto.ErrReply(proto.ErrGeneric, "syntax error")
		}
	}

	ctx.DB.Lock()
	defer ctx.DB.Unlock()

	existing, _ := ctx.DB.Get(key)
	var oldReply proto.Reply = proto.NilBulk{}
	if get {
		if existing != nil {
			s, err := value.As[*value.String](existing)
			if err != nil {
				return wrongTypeReply(err)
			}
			oldReply = proto.Bulk{Data: s.Data}
		}
	}

	if nx && existing != nil {
		if get {
			return oldReply
		}
		return proto.NilBulk{}
	}
	if xx && existing == nil {
		if get {
			return oldReply
		}
		return proto.NilBulk{}
	}

	var prevExpire int64
	if keepTTL {
		if rec, ok := ctx.DB.GetRecord(key); ok {
			prevExpire = rec.ExpireAt
		}
	}
	ctx.DB.Set(key, value.NewString(val))
	if keepTTL && prevExpire != 0 {
		ctx.DB.ExpireAt(key, prevExpire)
	} else if expireAtMS != 0 {
		ctx.DB.ExpireAt(key, expireAtMS)
	}

	if get {
		return oldReply
	}
	return proto.OK()
}

func cmdSetNX(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	if ctx.DB.Exists(string(args[1])) {
		return proto.Integer(0)
	}
	ctx.DB.Set(string(args[1]), value.NewString(args[2]))
	return proto.Integer(1)
}

func cmdGetSet(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getString(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	ctx.DB.Set(string(args[1]), value.NewString(args[2]))
	if s == nil {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: s.Data}
}

func cmdGetDel(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getString(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.NilBulk{}
	}
	ctx.DB.Delete(string(args[1]))
	return proto.Bulk{Data: s.Data}
}

func cmdAppend(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getString(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		ctx.DB.Set(key, value.NewString(args[2]))
		return proto.Integer(int64(len(args[2])))
	}
	s.Data = append(s.Data, args[2]...)
	ctx.DB.Touch(key)
	return proto.Integer(int64(len(s.Data)))
}

func cmdStrlen(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getString(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(len(s.Data)))
}

func normalizeRange(start, stop, length int) (int, int) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

func cmdGetRange(ctx *Context, args [][]byte) proto.Reply {
	start, err1 := strconv.Atoi(string(args[2]))
	stop, err2 := strconv.Atoi(string(args[3]))
	if err1 != nil || err2 != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getString(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil || len(s.Data) == 0 {
		return proto.Bulk{Data: []byte{}}
	}
	start, stop = normalizeRange(start, stop, len(s.Data))
	if start > stop || start >= len(s.Data) {
		return proto.Bulk{Data: []byte{}}
	}
	return proto.Bulk{Data: append([]byte{}, s.Data[start:stop+1]...)}
}

func cmdSetRange(ctx *Context, args [][]byte) proto.Reply {
	offset, err := strconv.Atoi(string(args[2]))
	if err != nil || offset < 0 {
		return proto.ErrReply(proto.ErrGeneric, "offset is out of range")
	}
	patch := args[3]
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getString(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	existed := s != nil
	if s == nil {
		if len(patch) == 0 {
			return proto.Integer(0)
		}
		s = value.NewString(nil)
	}
	needed := offset + len(patch)
	if needed > len(s.Data) {
		grown := make([]byte, needed)
		copy(grown, s.Data)
		s.Data = grown
	}
	copy(s.Data[offset:], patch)
	if existed {
		ctx.DB.Touch(key) // s was patched in place; keep the key's TTL
	} else {
		ctx.DB.Set(key, s)
	}
	return proto.Integer(int64(len(s.Data)))
}

func cmdIncr(ctx *Context, args [][]byte) proto.Reply  { return incrByHelper(ctx, args[1], 1) }
func cmdDecr(ctx *Context, args [][]byte) proto.Reply  { return incrByHelper(ctx, args[1], -1) }

func cmdIncrBy(ctx *Context, args [][]byte) proto.Reply {
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	return incrByHelper(ctx, args[1], n)
}

func cmdDecrBy(ctx *Context, args [][]byte) proto.Reply {
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	return incrByHelper(ctx, args[1], -n)
}

func incrByHelper(ctx *Context, keyArg []byte, delta int64) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(keyArg)
	s, err := getString(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		s = value.NewString([]byte("0"))
	}
	n, err := s.IncrBy(delta)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	ctx.DB.Set(key, s)
	return proto.Integer(n)
}

func cmdIncrByFloat(ctx *Context, args [][]byte) proto.Reply {
	delta, err := strconv.ParseFloat(string(args[2]), 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not a valid float")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getString(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		s = value.NewString([]byte("0"))
	}
	n, err := s.IncrByFloat(delta)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	ctx.DB.Set(key, s)
	return proto.Bulk{Data: []byte(strconv.FormatFloat(n, 'f', -1, 64))}
}

func cmdMGet(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	out := make([][]byte, len(args)-1)
	for i, k := range args[1:] {
		s, err := getString(ctx, string(k))
		if err != nil || s == nil {
			out[i] = nil
			continue
		}
		out[i] = s.Data
	}
	return proto.BulkArray(out)
}

func cmdMSet(ctx *Context, args [][]byte) proto.Reply {
	if (len(args)-1)%2 != 0 {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'mset' command")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	for i := 1; i < len(args); i += 2 {
		ctx.DB.Set(string(args[i]), value.NewString(args[i+1]))
	}
	return proto.OK()
}

func cmdMSetNX(ctx *Context, args [][]byte) proto.Reply {
	if (len(args)-1)%2 != 0 {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'msetnx' command")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	for i := 1; i < len(args); i += 2 {
		if ctx.DB.Exists(string(args[i])) {
			return proto.Integer(0)
		}
	}
	for i := 1; i < len(args); i += 2 {
		ctx.DB.Set(string(args[i]), value.NewString(args[i+1]))
	}
	return proto.Integer(1)
}

func cmdCopy(ctx *Context, args [][]byte) proto.Reply {
	src, dst := string(args[1]), string(args[2])
	replace := false
	for i := 3; i < len(args); i++ {
		if strings.ToUpper(string(args[i])) == "REPLACE" {
			replace = true
		}
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	v, ok := ctx.DB.Get(src)
	if !ok {
		return proto.Integer(0)
	}
	if !replace && ctx.DB.Exists(dst) {
		return proto.Integer(0)
	}
	ctx.DB.Set(dst, v)
	return proto.Integer(1)
}
