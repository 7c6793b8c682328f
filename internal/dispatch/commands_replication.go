package dispatch

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/proto"
)

func (d *Dispatcher) registerReplication() {
	d.register(commandSpec{name: "replconf", arity: -1, handler: cmdReplConf, noScript: true})
	d.register(commandSpec{name: "psync", arity: 3, handler: d.cmdPSync(), noScript: true})
}

// cmdReplConf replies +OK to every REPLCONF subcommand a replica sends
// during the handshake (listening-port, capa) and writes nothing for
// ACK and GETACK. ACK carries
// no reply at all in real Redis — once a connection is a replica
// link, its socket carries only the outbound command stream, and an
// inline reply here would corrupt that stream from the replica's
// point of view.
func cmdReplConf(ctx *Context, args [][]byte) proto.Reply {
	if len(args) >= 2 {
		switch strings.ToLower(string(args[1])) {
		case "getack", "ack":
			return noopReply{}
		}
	}
	return proto.OK()
}

// cmdPSync handles the master side of the replication handshake. It
// writes its own reply (and then the snapshot/backlog bytes) directly
// to the session's connection via Master.HandlePSYNC, so the normal
// single-reply dispatch path must not write anything further.
func (d *Dispatcher) cmdPSync() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if d.Master == nil {
			return proto.ErrReply(proto.ErrGeneric, "replication is not available on this instance")
		}
		replID := string(args[1])
		offset, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			offset = -1
		}
		if err := d.Master.HandlePSYNC(ctx.Sess, replID, offset); err != nil {
			d.Log.Warn("PSYNC handshake failed", zap.Error(err))
			return proto.ErrReply(proto.ErrGeneric, "PSYNC failed")
		}
		return noopReply{}
	}
}

// noopReply satisfies proto.Reply without writing anything; used by
// handlers (PSYNC) that manage their own connection writes and must
// not have a second reply appended by the normal dispatch path.
type noopReply struct{}

func (noopReply) WriteTo(w *proto.Writer) {}
