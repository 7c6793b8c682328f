package dispatch

import (
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerStream() {
	d.register(commandSpec{name: "xadd", arity: -5, isWrite: true, handler: cmdXAdd})
	d.register(commandSpec{name: "xlen", arity: 2, handler: cmdXLen})
	d.register(commandSpec{name: "xrange", arity: -4, handler: cmdXRange(false)})
	d.register(commandSpec{name: "xrevrange", arity: -4, handler: cmdXRange(true)})
	d.register(commandSpec{name: "xdel", arity: -3, isWrite: true, handler: cmdXDel})
	d.register(commandSpec{name: "xtrim", arity: -4, isWrite: true, handler: cmdXTrim})
}

func getStream(ctx *Context, key string) (*value.Stream, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.Stream](v)
}

func parseStreamID(s string, def value.StreamID) (value.StreamID, error) {
	if s == "*" {
		return def, nil
	}
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return value.StreamID{}, value.ErrInvalidStreamID
	}
	if len(parts) == 1 {
		return value.StreamID{MS: ms, Seq: 0}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return value.StreamID{}, value.ErrInvalidStreamID
	}
	return value.StreamID{MS: ms, Seq: seq}, nil
}

func cmdXAdd(ctx *Context, args [][]byte) proto.Reply {
	i := 2
	maxLen := -1
	if strings.ToUpper(string(args[i])) == "MAXLEN" {
		i++
		if string(args[i]) == "~" || string(args[i]) == "=" {
			i++
		}
		n, err := strconv.Atoi(string(args[i]))
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
		}
		maxLen = n
		i++
	}
	if i >= len(args) {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'xadd' command")
	}
	idArg := string(args[i])
	i++
	if (len(args)-i)%2 != 0 || len(args) == i {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'xadd' command")
	}
	var fields []string
	for ; i < len(args); i++ {
		fields = append(fields, string(args[i]))
	}

	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getStream(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		s = value.NewStream()
		ctx.DB.Set(key, s)
	}

	id, perr := parseStreamID(idArg, s.NextID(uint64(nowMS())))
	if perr != nil {
		return proto.ErrReply(proto.ErrGeneric, "Invalid stream ID specified as stream command argument")
	}
	if idArg == "*" {
		id = s.NextID(uint64(nowMS()))
	}
	if aerr := s.Append(id, fields); aerr != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", aerr.Error())
	}
	if maxLen >= 0 {
		s.Trim(maxLen)
	}
	ctx.DB.Touch(key)
	return proto.Bulk{Data: []byte(id.String())}
}

func cmdXLen(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getStream(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(s.Len()))
}

func streamEntriesToReply(entries []value.StreamEntry) proto.Reply {
	items := make([]proto.Reply, len(entries))
	for i, e := range entries {
		fieldItems := make([]proto.Reply, len(e.Fields))
		for j, f := range e.Fields {
			fieldItems[j] = proto.Bulk{Data: []byte(f)}
		}
		items[i] = proto.Array{Items: []proto.Reply{
			proto.Bulk{Data: []byte(e.ID.String())},
			proto.Array{Items: fieldItems},
		}}
	}
	return proto.Array{Items: items}
}

func cmdXRange(rev bool) HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		fromArg, toArg := string(args[2]), string(args[3])
		if rev {
			fromArg, toArg = toArg, fromArg
		}
		from, err1 := parseRangeBound(fromArg, value.StreamID{})
		to, err2 := parseRangeBound(toArg, value.StreamID{MS: ^uint64(0), Seq: ^uint64(0)})
		if err1 != nil || err2 != nil {
			return proto.ErrReply(proto.ErrGeneric, "Invalid stream ID specified as stream command argument")
		}
		count := -1
		if len(args) >= 6 && strings.ToUpper(string(args[4])) == "COUNT" {
			n, cerr := strconv.Atoi(string(args[5]))
			if cerr != nil {
				return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
			}
			count = n
		}

		ctx.DB.Lock()
		defer ctx.DB.Unlock()
		s, err := getStream(ctx, string(args[1]))
		if err != nil {
			return wrongTypeReply(err)
		}
		if s == nil {
			return proto.Array{}
		}
		var entries []value.StreamEntry
		if rev {
			entries = s.RevRange(from, to, count)
		} else {
			entries = s.Range(from, to, count)
		}
		return streamEntriesToReply(entries)
	}
}

func parseRangeBound(s string, def value.StreamID) (value.StreamID, error) {
	if s == "-" || s == "+" {
		return def, nil
	}
	return parseStreamID(s, def)
}

func cmdXDel(ctx *Context, args [][]byte) proto.Reply {
	ids := make([]value.StreamID, len(args)-2)
	for i, a := range args[2:] {
		id, err := parseStreamID(string(a), value.StreamID{})
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "Invalid stream ID specified as stream command argument")
		}
		ids[i] = id
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getStream(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Integer(0)
	}
	n := s.Delete(ids)
	if n > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(n))
}

func cmdXTrim(ctx *Context, args [][]byte) proto.Reply {
	if strings.ToUpper(string(args[2])) != "MAXLEN" {
		return proto.ErrReply(proto.ErrGeneric, "syntax error")
	}
	i := 3
	if string(args[i]) == "~" || string(args[i]) == "=" {
		i++
	}
	maxLen, err := strconv.Atoi(string(args[i]))
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, serr := getStream(ctx, key)
	if serr != nil {
		return wrongTypeReply(serr)
	}
	if s == nil {
		return proto.Integer(0)
	}
	n := s.Trim(maxLen)
	if n > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(n))
}
