package dispatch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
)

func (d *Dispatcher) registerConnection() {
	d.register(commandSpec{name: "ping", arity: -1, handler: cmdPing})
	d.register(commandSpec{name: "echo", arity: 2, handler: cmdEcho})
	d.register(commandSpec{name: "auth", arity: -2, handler: cmdAuth, noScript: true})
	d.register(commandSpec{name: "select", arity: 2, handler: cmdSelect, noScript: true})
	d.register(commandSpec{name: "hello", arity: -1, handler: cmdHello, noScript: true})
	d.register(commandSpec{name: "quit", arity: -1, handler: cmdQuit})
	d.register(commandSpec{name: "reset", arity: 1, handler: cmdReset})
	d.register(commandSpec{name: "client", arity: -2, handler: d.cmdClient()})
}

func cmdPing(ctx *Context, args [][]byte) proto.Reply {
	if len(args) == 2 {
		return proto.Bulk{Data: args[1]}
	}
	return proto.SimpleString("PONG")
}

func cmdEcho(ctx *Context, args [][]byte) proto.Reply {
	return proto.Bulk{Data: args[1]}
}

func cmdAuth(ctx *Context, args [][]byte) proto.Reply {
	pass := string(args[len(args)-1])
	if ctx.Config.RequirePass == "" {
		return proto.ErrReply(proto.ErrGeneric, "Client sent AUTH, but no password is set")
	}
	if pass != ctx.Config.RequirePass {
		return proto.ErrReply(proto.ErrGeneric, "invalid password")
	}
	ctx.Sess.Authenticated = true
	return proto.OK()
}

func cmdSelect(ctx *Context, args [][]byte) proto.Reply {
	n, err := strconv.Atoi(string(args[1]))
	if err != nil || n < 0 || n >= ctx.Engine.NumDBs() {
		return proto.ErrReply(proto.ErrGeneric, "DB index is out of range")
	}
	ctx.Sess.DB = n
	return proto.OK()
}

func cmdHello(ctx *Context, args [][]byte) proto.Reply {
	if len(args) >= 2 {
		if string(args[1]) == "3" {
			return proto.ErrReply(proto.ErrGeneric, "NOPROTO unsupported protocol version, only RESP2 is supported")
		}
	}
	items := []proto.Reply{
		proto.Bulk{Data: []byte("server")}, proto.Bulk{Data: []byte("ferrous")},
		proto.Bulk{Data: []byte("proto")}, proto.Integer(2),
		proto.Bulk{Data: []byte("mode")}, proto.Bulk{Data: []byte("standalone")},
	}
	return proto.Array{Items: items}
}

func cmdQuit(ctx *Context, args [][]byte) proto.Reply {
	return proto.OK()
}

func cmdReset(ctx *Context, args [][]byte) proto.Reply {
	ctx.Sess.EndTx()
	for _, ch := range ctx.Sess.Channels() {
		ctx.Sess.RemoveChannel(ch)
		ctx.Engine.PubSub.Unsubscribe(ctx.Sess, ch)
	}
	for _, p := range ctx.Sess.Patterns() {
		ctx.Sess.RemovePattern(p)
		ctx.Engine.PubSub.PUnsubscribe(ctx.Sess, p)
	}
	ctx.Sess.DB = 0
	return proto.SimpleString("RESET")
}

// clientLine formats one CLIENT LIST row in Redis's "key=value ..." form.
func clientLine(s *session.Session) string {
	age := int64(0)
	if !s.CreatedAt.IsZero() {
		age = nowMS()/1000 - s.CreatedAt.Unix()
	}
	multi := -1
	if s.TxState == session.TxQueuing {
		multi = len(s.Queue)
	}
	return fmt.Sprintf("id=%d addr=%s name=%s db=%d age=%d multi=%d cmd=client",
		s.ID, s.Addr, s.Name(), s.DB, age, multi)
}

func (d *Dispatcher) cmdClient() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		sub := strings.ToLower(string(args[1]))
		switch sub {
		case "getname":
			name := ctx.Sess.Name()
			if name == "" {
				return proto.Bulk{Data: nil}
			}
			return proto.Bulk{Data: []byte(name)}
		case "setname":
			if len(args) != 3 {
				return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'client|setname' command")
			}
			ctx.Sess.SetName(string(args[2]))
			return proto.OK()
		case "id":
			return proto.Integer(ctx.Sess.ID)
		case "list":
			var b strings.Builder
			for _, s := range d.Clients.All() {
				b.WriteString(clientLine(s))
				b.WriteString("\n")
			}
			return proto.Bulk{Data: []byte(b.String())}
		case "kill":
			return d.cmdClientKill(ctx, args)
		case "no-evict", "no-touch":
			return proto.OK()
		default:
			return proto.ErrReply(proto.ErrGeneric, "unknown CLIENT subcommand '%s'", sub)
		}
	}
}

// cmdClientKill implements both CLIENT KILL <addr> (old form) and
// CLIENT KILL ID <id> (new filter form); any other filter is rejected
// rather than silently ignored.
func (d *Dispatcher) cmdClientKill(ctx *Context, args [][]byte) proto.Reply {
	filters := args[2:]
	if len(filters) == 1 {
		addr := string(filters[0])
		killed := 0
		for _, s := range d.Clients.All() {
			if s.Addr == addr {
				s.Kill()
				killed++
			}
		}
		if killed == 0 {
			return proto.ErrReply(proto.ErrGeneric, "No such client")
		}
		return proto.OK()
	}

	if len(filters) == 2 && strings.EqualFold(string(filters[0]), "id") {
		id, err := strconv.ParseInt(string(filters[1]), 10, 64)
		if err != nil {
			return proto.ErrReply(proto.ErrGeneric, "client-id should be greater than 0")
		}
		s, ok := d.Clients.Get(id)
		if !ok {
			return proto.Integer(0)
		}
		s.Kill()
		return proto.Integer(1)
	}

	return proto.ErrReply(proto.ErrGeneric, "syntax error")
}
