package dispatch

import (
	"strconv"
	"strings"

	glob "github.com/ryanuber/go-glob"

	"github.com/ferrousdb/ferrous/internal/keyspace"
	"github.com/ferrousdb/ferrous/internal/proto"
)

func (d *Dispatcher) registerGeneric() {
	d.register(commandSpec{name: "del", arity: -2, isWrite: true, handler: cmdDel})
	d.register(commandSpec{name: "unlink", arity: -2, isWrite: true, handler: cmdDel})
	d.register(commandSpec{name: "exists", arity: -2, handler: cmdExists})
	d.register(commandSpec{name: "type", arity: 2, handler: cmdType})
	d.register(commandSpec{name: "rename", arity: 3, isWrite: true, handler: cmdRename})
	d.register(commandSpec{name: "renamenx", arity: 3, isWrite: true, handler: cmdRenameNX})
	d.register(commandSpec{name: "keys", arity: 2, handler: cmdKeys})
	d.register(commandSpec{name: "scan", arity: -2, handler: cmdScan})
	d.register(commandSpec{name: "randomkey", arity: 1, handler: cmdRandomKey})
	d.register(commandSpec{name: "dbsize", arity: 1, handler: cmdDBSize})
	d.register(commandSpec{name: "flushdb", arity: -1, isWrite: true, handler: cmdFlushDB})
	d.register(commandSpec{name: "flushall", arity: -1, isWrite: true, handler: cmdFlushAll})
	d.register(commandSpec{name: "expire", arity: -3, isWrite: true, handler: cmdExpire})
	d.register(commandSpec{name: "pexpire", arity: -3, isWrite: true, handler: cmdPExpire})
	d.register(commandSpec{name: "expireat", arity: -3, isWrite: true, handler: cmdExpireAt})
	d.register(commandSpec{name: "pexpireat", arity: -3, isWrite: true, handler: cmdPExpireAt})
	d.register(commandSpec{name: "ttl", arity: 2, handler: cmdTTL})
	d.register(commandSpec{name: "pttl", arity: 2, handler: cmdPTTL})
	d.register(commandSpec{name: "expiretime", arity: 2, handler: cmdExpireTime})
	d.register(commandSpec{name: "pexpiretime", arity: 2, handler: cmdPExpireTime})
	d.register(commandSpec{name: "persist", arity: 2, isWrite: true, handler: cmdPersist})
}

func cmdDel(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	n := 0
	for _, k := range args[1:] {
		if ctx.DB.Delete(string(k)) {
			n++
		}
	}
	return proto.Integer(int64(n))
}

func cmdExists(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	n := 0
	for _, k := range args[1:] {
		if ctx.DB.Exists(string(k)) {
			n++
		}
	}
	return proto.Integer(int64(n))
}

func cmdType(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	kind, ok := ctx.DB.TypeOf(string(args[1]))
	if !ok {
		return proto.SimpleString("none")
	}
	return proto.SimpleString(kind.String())
}

func cmdRename(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	if err := ctx.DB.Rename(string(args[1]), string(args[2])); err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	return proto.OK()
}

func cmdRenameNX(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	err := ctx.DB.RenameIfAbsent(string(args[1]), string(args[2]))
	if err == keyspace.ErrExists {
		return proto.Integer(0)
	}
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	return proto.Integer(1)
}

func cmdKeys(ctx *Context, args [][]byte) proto.Reply {
	pattern := string(args[1])
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	var out [][]byte
	cursor := uint64(0)
	for {
		var batch []string
		batch, cursor = ctx.DB.Scan(cursor, pattern, 1000, glob.Glob)
		for _, k := range batch {
			out = append(out, []byte(k))
		}
		if cursor == 0 {
			break
		}
	}
	return proto.BulkArray(out)
}

func cmdScan(ctx *Context, args [][]byte) proto.Reply {
	cursor, err := strconv.ParseUint(string(args[1]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "invalid cursor")
	}
	pattern := ""
	count := 10
	for i := 2; i < len(args); i++ {
		switch strings.ToUpper(string(args[i])) {
		case "MATCH":
			i++
			pattern = string(args[i])
		case "COUNT":
			i++
			n, cerr := strconv.Atoi(string(args[i]))
			if cerr != nil {
				return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
			}
			count = n
		}
	}

	ctx.DB.Lock()
	keys, next := ctx.DB.Scan(cursor, pattern, count, glob.Glob)
	ctx.DB.Unlock()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = []byte(k)
	}
	return proto.Array{Items: []proto.Reply{
		proto.Bulk{Data: []byte(strconv.FormatUint(next, 10))},
		proto.BulkArray(out),
	}}
}

func cmdRandomKey(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	k, ok := ctx.DB.RandomKey()
	if !ok {
		return proto.NilBulk{}
	}
	return proto.Bulk{Data: []byte(k)}
}

func cmdDBSize(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	return proto.Integer(int64(ctx.DB.Len()))
}

func cmdFlushDB(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	ctx.DB.FlushAll()
	return proto.OK()
}

func cmdFlushAll(ctx *Context, args [][]byte) proto.Reply {
	ctx.Engine.FlushAllDBs()
	return proto.OK()
}

func cmdExpire(ctx *Context, args [][]byte) proto.Reply   { return expireHelper(ctx, args, 1000) }
func cmdPExpire(ctx *Context, args [][]byte) proto.Reply  { return expireHelper(ctx, args, 1) }

func expireHelper(ctx *Context, args [][]byte, unitMS int64) proto.Reply {
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	return applyExpireAt(ctx, args, nowMS()+n*unitMS)
}

func cmdExpireAt(ctx *Context, args [][]byte) proto.Reply  { return expireAtHelper(ctx, args, 1000) }
func cmdPExpireAt(ctx *Context, args [][]byte) proto.Reply { return expireAtHelper(ctx, args, 1) }

func expireAtHelper(ctx *Context, args [][]byte, unitMS int64) proto.Reply {
	n, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "value is not an integer or out of range")
	}
	return applyExpireAt(ctx, args, n*unitMS)
}

// applyExpireAt sets key's absolute expiry to atMS, honoring the
// trailing NX|XX|GT|LT qualifier shared by EXPIRE/PEXPIRE/EXPIREAT/
// PEXPIREAT.
func applyExpireAt(ctx *Context, args [][]byte, atMS int64) proto.Reply {
	cond := ""
	if len(args) > 3 {
		cond = strings.ToUpper(string(args[3]))
	}
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	key := string(args[1])
	if !ctx.DB.Exists(key) {
		return proto.Integer(0)
	}
	cur := ctx.DB.ExpireTime(key)
	switch cond {
	case "NX":
		if cur != -1 {
			return proto.Integer(0)
		}
	case "XX":
		if cur == -1 {
			return proto.Integer(0)
		}
	case "GT":
		if cur == -1 || atMS <= cur {
			return proto.Integer(0)
		}
	case "LT":
		if cur != -1 && atMS >= cur {
			return proto.Integer(0)
		}
	}
	ctx.DB.ExpireAt(key, atMS)
	return proto.Integer(1)
}

func cmdTTL(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	ms := ctx.DB.TTL(string(args[1]))
	if ms < 0 {
		return proto.Integer(ms)
	}
	return proto.Integer((ms + 999) / 1000)
}

func cmdPTTL(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	return proto.Integer(ctx.DB.TTL(string(args[1])))
}

func cmdExpireTime(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	ms := ctx.DB.ExpireTime(string(args[1]))
	if ms < 0 {
		return proto.Integer(ms)
	}
	return proto.Integer(ms / 1000)
}

func cmdPExpireTime(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	return proto.Integer(ctx.DB.ExpireTime(string(args[1])))
}

func cmdPersist(ctx *Context, args [][]byte) proto.Reply {
	ctx.DB.Lock()
	defer ctx.DB.Unlock()
	if ctx.DB.Persist(string(args[1])) {
		return proto.Integer(1)
	}
	return proto.Integer(0)
}
