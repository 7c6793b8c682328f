package dispatch

import (
	"strconv"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/value"
)

func (d *Dispatcher) registerSet() {
	d.register(commandSpec{name: "sadd", arity: -3, isWrite: true, handler: cmdSAdd})
	d.register(commandSpec{name: "srem", arity: -3, isWrite: true, handler: cmdSRem})
	d.register(commandSpec{name: "sismember", arity: 3, handler: cmdSIsMember})
	d.register(commandSpec{name: "smismember", arity: -3, handler: cmdSMIsMember})
	d.register(commandSpec{name: "scard", arity: 2, handler: cmdSCard})
	d.register(commandSpec{name: "smembers", arity: 2, handler: cmdSMembers})
	d.register(commandSpec{name: "spop", arity: -2, isWrite: true, handler: cmdSPop})
	d.register(commandSpec{name: "srandmember", arity: -2, handler: cmdSRandMember})
	d.register(commandSpec{name: "sinter", arity: -2, handler: cmdSInter})
	d.register(commandSpec{name: "sinterstore", arity: -3, isWrite: true, handler: cmdSInterStore})
	d.register(commandSpec{name: "sintercard", arity: -3, handler: cmdSInterCard})
	d.register(commandSpec{name: "sunion", arity: -2, handler: cmdSUnion})
	d.register(commandSpec{name: "sunionstore", arity: -3, isWrite: true, handler: cmdSUnionStore})
	d.register(commandSpec{name: "sdiff", arity: -2, handler: cmdSDiff})
	d.register(commandSpec{name: "sdiffstore", arity: -3, isWrite: true, handler: cmdSDiffStore})
	d.register(commandSpec{name: "smove", arity: 4, isWrite: true, handler: cmdSMove})
}

func getSet(ctx *Context, key string) (*value.Set, error) {
	v, ok := ctx.DB.Get(key)
	if !ok {
		return nil, nil
	}
	return value.As[*value.Set](v)
}

func loadSets(ctx *Context, keys [][]byte) ([]*value.Set, error) {
	sets := make([]*value.Set, len(keys))
	for i, k := range keys {
		s, err := getSet(ctx, string(k))
		if err != nil {
			return nil, err
		}
		if s == nil {
			s = value.NewSet()
		}
		sets[i] = s
	}
	return sets, nil
}

func setToBulkArray(members []string) proto.Reply {
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return proto.BulkArray(out)
}

func cmdSAdd(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		s = value.NewSet()
		ctx.DB.Set(key, s)
	}
	added := 0
	for _, m := range args[2:] {
		if s.Add(string(m)) {
			added++
		}
	}
	ctx.DB.Touch(key)
	return proto.Integer(int64(added))
}

func cmdSRem(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	s, err := getSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Integer(0)
	}
	removed := 0
	for _, m := range args[2:] {
		if s.Remove(string(m)) {
			removed++
		}
	}
	if s.Len() == 0 {
		ctx.DB.Delete(key)
	} else if removed > 0 {
		ctx.DB.Touch(key)
	}
	return proto.Integer(int64(removed))
}

func cmdSIsMember(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil || !s.Has(string(args[2])) {
		return proto.Integer(0)
	}
	return proto.Integer(1)
}

func cmdSMIsMember(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	items := make([]proto.Reply, len(args)-2)
	for i, m := range args[2:] {
		if s != nil && s.Has(string(m)) {
			items[i] = proto.Integer(1)
		} else {
			items[i] = proto.Integer(0)
		}
	}
	return proto.Array{Items: items}
}

func cmdSCard(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Integer(0)
	}
	return proto.Integer(int64(s.Len()))
}

func cmdSMembers(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		return proto.Array{}
	}
	return setToBulkArray(s.Members())
}

func cmdSPop(ctx *Context, args [][]byte) proto.Reply {
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
	s, err := getSet(ctx, key)
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		if count >= 0 {
			return proto.Array{}
		}
		return proto.NilBulk{}
	}
	members := s.Members()
	if count < 0 {
		if len(members) == 0 {
			return proto.NilBulk{}
		}
		m := members[0]
		s.Remove(m)
		if s.Len() == 0 {
			ctx.DB.Delete(key)
		} else {
			ctx.DB.Touch(key)
		}
		return proto.Bulk{Data: []byte(m)}
	}
	if count > len(members) {
		count = len(members)
	}
	picked := members[:count]
	for _, m := range picked {
		s.Remove(m)
	}
	if s.Len() == 0 {
		ctx.DB.Delete(key)
	} else if count > 0 {
		ctx.DB.Touch(key)
	}
	return setToBulkArray(picked)
}

func cmdSRandMember(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	s, err := getSet(ctx, string(args[1]))
	if err != nil {
		return wrongTypeReply(err)
	}
	if s == nil {
		if len(args) > 2 {
			return proto.Array{}
		}
		return proto.NilBulk{}
	}
	members := s.Members()
	if len(args) == 2 {
		if len(members) == 0 {
			return proto.NilBulk{}
		}
		return proto.Bulk{Data: []byte(members[0])}
	}
	count, cerr := strconv.Atoi(string(args[2]))
	if cerr != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	if count >= 0 {
		if count > len(members) {
			count = len(members)
		}
		return setToBulkArray(members[:count])
	}
	n := -count
	picked := make([]string, n)
	for i := range picked {
		if len(members) == 0 {
			break
		}
		picked[i] = members[i%len(members)]
	}
	return setToBulkArray(picked)
}

func cmdSInter(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	sets, err := loadSets(ctx, args[1:])
	if err != nil {
		return wrongTypeReply(err)
	}
	return setToBulkArray(sets[0].Inter(sets[1:]...))
}

func cmdSInterStore(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	dst := string(args[1])
	sets, err := loadSets(ctx, args[2:])
	if err != nil {
		return wrongTypeReply(err)
	}
	result := sets[0].Inter(sets[1:]...)
	return storeSetResult(ctx, dst, result)
}

func cmdSInterCard(ctx *Context, args [][]byte) proto.Reply {
	numkeys, err := strconv.Atoi(string(args[1]))
	if err != nil || numkeys <= 0 || numkeys > len(args)-2 {
		return proto.ErrReply(proto.ErrGeneric, "numkeys should be greater than 0")
	}
	limit := -1
	if len(args) > 2+numkeys {
		if string(args[2+numkeys]) != "LIMIT" && string(args[2+numkeys]) != "limit" {
			return proto.ErrReply(proto.ErrGeneric, "syntax error")
		}
		n, lerr := strconv.Atoi(string(args[3+numkeys]))
		if lerr != nil || n < 0 {
			return proto.ErrReply(proto.ErrGeneric, "LIMIT can't be negative")
		}
		limit = n
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	sets, serr := loadSets(ctx, args[2:2+numkeys])
	if serr != nil {
		return wrongTypeReply(serr)
	}
	result := sets[0].Inter(sets[1:]...)
	if limit > 0 && limit < len(result) {
		result = result[:limit]
	}
	return proto.Integer(int64(len(result)))
}

func cmdSUnion(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	sets, err := loadSets(ctx, args[1:])
	if err != nil {
		return wrongTypeReply(err)
	}
	return setToBulkArray(sets[0].Union(sets[1:]...))
}

func cmdSUnionStore(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	dst := string(args[1])
	sets, err := loadSets(ctx, args[2:])
	if err != nil {
		return wrongTypeReply(err)
	}
	result := sets[0].Union(sets[1:]...)
	return storeSetResult(ctx, dst, result)
}

func cmdSDiff(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	sets, err := loadSets(ctx, args[1:])
	if err != nil {
		return wrongTypeReply(err)
	}
	return setToBulkArray(sets[0].Diff(sets[1:]...))
}

func cmdSDiffStore(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	dst := string(args[1])
	sets, err := loadSets(ctx, args[2:])
	if err != nil {
		return wrongTypeReply(err)
	}
	result := sets[0].Diff(sets[1:]...)
	return storeSetResult(ctx, dst, result)
}

func storeSetResult(ctx *Context, dst string, members []string) proto.Reply {
	if len(members) == 0 {
		ctx.DB.Delete(dst)
		return proto.Integer(0)
	}
	out := value.NewSet()
	for _, m := range members {
		out.Add(m)
	}
	ctx.DB.Set(dst, out)
	return proto.Integer(int64(len(members)))
}

func cmdSMove(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	src, dst, member := string(args[1]), string(args[2]), string(args[3])
	srcSet, err := getSet(ctx, src)
	if err != nil {
		return wrongTypeReply(err)
	}
	if srcSet == nil || !srcSet.Has(member) {
		return proto.Integer(0)
	}
	dstSet, err := getSet(ctx, dst)
	if err != nil {
		return wrongTypeReply(err)
	}
	if dstSet == nil {
		dstSet = value.NewSet()
		ctx.DB.Set(dst, dstSet)
	}
	srcSet.Remove(member)
	dstSet.Add(member)
	if srcSet.Len() == 0 {
		ctx.DB.Delete(src)
	} else {
		ctx.DB.Touch(src)
	}
	ctx.DB.Touch(dst)
	return proto.Integer(1)
}
