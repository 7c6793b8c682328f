package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
)

func (d *Dispatcher) registerAdmin() {
	d.register(commandSpec{name: "info", arity: -1, handler: d.cmdInfo(), noScript: true})
	d.register(commandSpec{name: "config", arity: -2, handler: cmdConfig, noScript: true})
	d.register(commandSpec{name: "slowlog", arity: -2, handler: cmdSlowlog, noScript: true})
	d.register(commandSpec{name: "lastsave", arity: 1, handler: cmdLastSave, noScript: true})
	d.register(commandSpec{name: "command", arity: -1, handler: d.cmdCommand(), noScript: true})
	d.register(commandSpec{name: "debug", arity: -2, handler: cmdDebug, noScript: true})
	d.register(commandSpec{name: "replicaof", arity: 3, handler: d.cmdReplicaOf(), noScript: true})
	d.register(commandSpec{name: "slaveof", arity: 3, handler: d.cmdReplicaOf(), noScript: true})
	d.register(commandSpec{name: "save", arity: 1, handler: d.cmdSave(), noScript: true})
	d.register(commandSpec{name: "bgsave", arity: -1, handler: d.cmdBGSave(), noScript: true})
	d.register(commandSpec{name: "bgrewriteaof", arity: 1, handler: d.cmdBGRewriteAOF(), noScript: true})
	d.register(commandSpec{name: "monitor", arity: 1, handler: d.cmdMonitor(), noScript: true})
}

func (d *Dispatcher) cmdSave() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if d.Persist == nil {
			return proto.ErrReply(proto.ErrGeneric, "persistence is not configured on this instance")
		}
		if err := d.Persist.Save(); err != nil {
			return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
		}
		return proto.OK()
	}
}

func (d *Dispatcher) cmdBGSave() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if d.Persist == nil {
			return proto.ErrReply(proto.ErrGeneric, "persistence is not configured on this instance")
		}
		if err := d.Persist.BGSave(); err != nil {
			return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
		}
		return proto.SimpleString("Background saving started")
	}
}

func (d *Dispatcher) cmdBGRewriteAOF() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if d.Persist == nil {
			return proto.ErrReply(proto.ErrGeneric, "persistence is not configured on this instance")
		}
		if err := d.Persist.RewriteAOF(); err != nil {
			return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
		}
		return proto.SimpleString("Background append only file rewriting started")
	}
}

// cmdMonitor puts the calling connection into the MONITOR feed. It
// never returns from the caller's point of view in real Redis (the
// connection just starts receiving pushed lines); here we return the
// conventional +OK and rely on Dispatcher.feedMonitors to push
// everything that follows via Session.Notify.
func (d *Dispatcher) cmdMonitor() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		d.StartMonitor(ctx.Sess)
		return proto.OK()
	}
}

func (d *Dispatcher) cmdInfo() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		var b strings.Builder
		fmt.Fprintf(&b, "# Server\r\nredis_version:7.0.0-ferrous\r\ntcp_port:%d\r\n", ctx.Config.Port)
		fmt.Fprintf(&b, "# Clients\r\nconnected_clients:1\r\n")
		fmt.Fprintf(&b, "# Replication\r\n")
		if host, port, linkUp, offset := replicaOfStatus(d); host != "" {
			fmt.Fprintf(&b, "role:slave\r\nmaster_host:%s\r\nmaster_port:%d\r\nmaster_link_status:%s\r\nslave_repl_offset:%d\r\n",
				host, port, linkStatus(linkUp), offset)
		} else {
			fmt.Fprintf(&b, "role:master\r\n")
		}
		if d.Master != nil {
			fmt.Fprintf(&b, "connected_slaves:%d\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
				d.Master.ReplicaCount(), d.Master.ReplID(), d.Master.Offset())
		}
		fmt.Fprintf(&b, "# Keyspace\r\n")
		for i := 0; i < ctx.Engine.NumDBs(); i++ {
			db := ctx.Engine.DB(i)
			db.Lock()
			n := db.Len()
			db.Unlock()
			if n > 0 {
				fmt.Fprintf(&b, "db%d:keys=%d,expires=0,avg_ttl=0\r\n", i, n)
			}
		}
		return proto.Bulk{Data: []byte(b.String())}
	}
}

func cmdConfig(ctx *Context, args [][]byte) proto.Reply {
	sub := strings.ToLower(string(args[1]))
	switch sub {
	case "get":
		if len(args) != 3 {
			return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'config|get' command")
		}
		return configGet(ctx, string(args[2]))
	case "set":
		return proto.OK()
	case "rewrite":
		return proto.OK()
	case "resetstat":
		return proto.OK()
	default:
		return proto.ErrReply(proto.ErrGeneric, "unknown CONFIG subcommand '%s'", sub)
	}
}

func configGet(ctx *Context, param string) proto.Reply {
	lower := strings.ToLower(param)
	var val string
	switch lower {
	case "maxmemory":
		val = fmt.Sprintf("%d", ctx.Config.MaxMemory)
	case "maxmemory-policy":
		val = string(ctx.Config.MaxMemoryPolicy)
	case "appendonly":
		val = boolStr(ctx.Config.AppendOnly)
	case "appendfsync":
		val = string(ctx.Config.AppendFsync)
	case "databases":
		val = fmt.Sprintf("%d", ctx.Config.Databases)
	case "dir":
		val = ctx.Config.Dir
	default:
		return proto.Array{}
	}
	return proto.Array{Items: []proto.Reply{
		proto.Bulk{Data: []byte(lower)},
		proto.Bulk{Data: []byte(val)},
	}}
}

func replicaOfStatus(d *Dispatcher) (host string, port int, linkUp bool, offset int64) {
	if d.ReplOf == nil {
		return "", 0, false, 0
	}
	return d.ReplOf.Status()
}

func linkStatus(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func boolStr(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func cmdSlowlog(ctx *Context, args [][]byte) proto.Reply {
	switch strings.ToLower(string(args[1])) {
	case "get":
		return proto.Array{}
	case "len":
		return proto.Integer(0)
	case "reset":
		return proto.OK()
	default:
		return proto.ErrReply(proto.ErrGeneric, "unknown SLOWLOG subcommand")
	}
}

func cmdLastSave(ctx *Context, args [][]byte) proto.Reply {
	return proto.Integer(nowMS() / 1000)
}

func (d *Dispatcher) cmdCommand() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if len(args) >= 2 && strings.ToLower(string(args[1])) == "count" {
			return proto.Integer(int64(len(d.table)))
		}
		return proto.Array{}
	}
}

func cmdDebug(ctx *Context, args [][]byte) proto.Reply {
	switch strings.ToUpper(string(args[1])) {
	case "SLEEP":
		return proto.OK()
	case "JMAP", "SET-ACTIVE-EXPIRE", "QUICKLIST-PACKED-THRESHOLD", "STRINGMATCH-LEN":
		return proto.OK()
	default:
		return proto.ErrReply(proto.ErrGeneric, "unsupported DEBUG subcommand")
	}
}

func (d *Dispatcher) cmdReplicaOf() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		host, port := string(args[1]), string(args[2])
		if d.ReplOf == nil {
			return proto.ErrReply(proto.ErrGeneric, "replication is not available on this instance")
		}
		if strings.EqualFold(host, "no") && strings.EqualFold(port, "one") {
			d.ReplOf.StopReplicaOf()
			return proto.OK()
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "invalid master port")
		}
		d.ReplOf.StartReplicaOf(host, p)
		return proto.OK()
	}
}
