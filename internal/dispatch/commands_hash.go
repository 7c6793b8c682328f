package dispatch

import (
	"math/rand"
	"strconv"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerHash() {
	d.register(commandSpec{name: "hset", arity: -4, isWrite: true, handler: cmdHSet})
	d.register(commandSpec{name: "hsetnx", arity: 4, isWrite: true, handler: cmdHSetNX})
	d.register(commandSpec{name: "hget", arity: 3, handler: cmdHGet})
	d.register(commandSpec{name: "hmget", arity: -3, handler: cmdHMGet})
	d.register(commandSpec{name: "hmset", arity: -4, isWrite: true, handler: cmdHMSet})
	d.register(commandSpec{name: "hdel", arity: -3, isWrite: true, handler: cmdHDel})
	d.register(commandSpec{name: "hexists", arity: 3, handler: cmdHExists})
	d.register(commandSpec{name: "hlen", arity: 2, handler: cmdHLen})
	d.register(commandSpec{name: "hkeys", arity: 2, handler: cmdHKeys})
	d.register(commandSpec{name: "hvals", arity: 2, handler: cmdHVals})
	d.register(commandSpec{name: "hgetall", arity: 2, handler: cmdHGetAll})
	d.register(commandSpec{name: "hincrby", arity: 4, isWrite: true, handler: cmdHIncrBy})
	d.register(commandSpec{name: "hincrbyfloat", arity: 4, isWrite: true, handler: cmdHIncrByFloat})
	d.register(commandSpec{name: "hrandfield", arity: -2, handler: cmdHRandField})
}

func getHash(ctx *Context, key string) (*value.Hash, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.Hash](v)
}

func cmdHSet(ctx *Context, args [][]byte) proto.Reply {
	if (len(args)-2)%2 != 0 {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'hset' command")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	h, err := getHash(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		h = value.NewHash()
		ctx.DB.Set(key, h)
	}
	added := 0
	for i := 2; i < len(args); i += 2 {
		if h.Set(string(args[i]), args[i+1]) {
			added++
		}
	}
	ctx.DB.Touch(key)
	return proto.Integer(int64(added))
}

func cmdHSetNX(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	h, err := getHash(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		h = value.NewHash()
		ctx.DB.Set(key, h)
	}
	if h.Exists(string(args[2])) {
		return proto.Integer(0)
	}
	h.Set(string(args[2]), args[3])
	ctx.DB.Touch(key)
	return proto.Integer(1)
}

func cmdHGet(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.NilBulk{}
	}
	v, ok := h.Get(string(args[2]))
	if !ok {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: v}
}

func cmdHMGet(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	out := make([][]byte, len(args)-2)
	for i, f := range args[2:] {
		if h == nil {
			out[i] = nil
			continue
		}
		v, ok := h.Get(string(f))
		if !ok {
			out[i] = nil
			continue
		}
		out[i] = v
	}
	return proto.BulkArray(out)
}

func cmdHMSet(ctx *Context, args [][]byte) proto.Reply {
	r := cmdHSet(ctx, args)
	if _, isErr := r.(proto.Error); isErr {
		return r
	}
	return proto.OK()
}

func cmdHDel(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	h, err := getHash(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Integer(0)
	}
	removed := 0
	for _, f := range args[2:] {
		if h.Del(string(f)) {
			removed++
		}
	}
	if h.Len() == 0 {
		ctx.DB.Delete(key)
	} else if removed > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(removed))
}

func cmdHExists(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Integer(0)
	}
	if h.Exists(string(args[2])) {
		return proto.Integer(1)
	}
	return proto.Integer(0)
}

func cmdHLen(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(h.Len()))
}

func cmdHKeys(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Array{}
	}
	fields := h.Fields()
	out := make([][]byte, len(fields))
	for i, f := range fields {
		out[i] = []byte(f)
	}
	return proto.BulkArray(out)
}

func cmdHVals(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Array{}
	}
	all := h.All()
	out := make([][]byte, 0, len(all))
	for _, v := range all {
		out = append(out, v)
	}
	return proto.BulkArray(out)
}

func cmdHGetAll(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		return proto.Array{}
	}
	all := h.All()
	out := make([][]byte, 0, len(all)*2)
	for f, v := range all {
		out = append(out, []byte(f), v)
	}
	return proto.BulkArray(out)
}

func cmdHIncrBy(ctx *Context, args [][]byte) proto.Reply {
	delta, err := strconv.ParseInt(string(args[3]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	h, herr := getHash(ctx, key)
	if herr != nil {
		return wrongTypeReply(herr)
	}
	if h == nil {
		h = value.NewHash()
		ctx.DB.Set(key, h)
	}
	cur := int64(0)
	if v, ok := h.Get(string(args[2])); ok {
		cur, err = strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "hash value is not an integer")
		}
	}
	cur += delta
	h.Set(string(args[2]), []byte(strconv.FormatInt(cur, 10)))
	ctx.DB.Touch(key)
	return proto.Integer(cur)
}

func cmdHIncrByFloat(ctx *Context, args [][]byte) proto.Reply {
	delta, err := strconv.ParseFloat(string(args[3]), 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not a valid float")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	h, herr := getHash(ctx, key)
	if herr != nil {
		return wrongTypeReply(herr)
	}
	if h == nil {
		h = value.NewHash()
		ctx.DB.Set(key, h)
	}
	cur := float64(0)
	if v, ok := h.Get(string(args[2])); ok {
		cur, err = strconv.ParseFloat(string(v), 64)
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "hash value is not a float")
		}
	}
	cur += delta
	out := strconv.FormatFloat(cur, 'f', -1, 64)
	h.Set(string(args[2]), []byte(out))
	ctx.DB.Touch(key)
	return proto.Bulk{Data: []byte(out)}
}

func cmdHRandField(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	h, err := getHash(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if h == nil {
		if len(args) > 2 {
			return proto.Array{}
		}
		return proto.NilBulk{}
	}
	fields := h.Fields()
	if len(args) == 2 {
		if len(fields) == 0 {
			return proto.NilBulk{}
		}
		f := fields[rand.Intn(len(fields))]
		v, _ := h.Get(f)
		return proto.Bulk{Data: v}
	}

	count, cerr := strconv.Atoi(string(args[2]))
	if cerr != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	withValues := len(args) >= 4
	if count >= 0 {
		rand.Shuffle(len(fields), func(i, j int) { fields[i], fields[j] = fields[j], fields[i] })
		if count < len(fields) {
			fields = fields[:count]
		}
	} else {
		n := -count
		picked := make([]string, n)
		for i := range picked {
			picked[i] = fields[rand.Intn(len(fields))]
		}
		fields = picked
	}
	var out [][]byte
	for _, f := range fields {
		out = append(out, []byte(f))
		if withValues {
			v, _ := h.Get(f)
			out = append(out, v)
		}
	}
	return proto.BulkArray(out)
}
