package dispatch

import (
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
)

func (d *Dispatcher) registerTx() {
	d.register(commandSpec{name: "multi", arity: 1, handler: cmdMulti, noScript: true})
	d.register(commandSpec{name: "exec", arity: 1, handler: d.cmdExec(), noScript: true})
	d.register(commandSpec{name: "discard", arity: 1, handler: cmdDiscard, noScript: true})
	d.register(commandSpec{name: "watch", arity: -2, handler: cmdWatch, noScript: true})
	d.register(commandSpec{name: "unwatch", arity: 1, handler: cmdUnwatch, noScript: true})
}

func cmdMulti(ctx *Context, args [][]byte) proto.Reply {
	if ctx.Sess.TxState != session.TxNone {
		return proto.ErrReply(proto.ErrGeneric, "MULTI calls can not be nested")
	}
	ctx.Sess.StartTx()
	return proto.OK()
}

func cmdDiscard(ctx *Context, args [][]byte) proto.Reply {
	if ctx.Sess.TxState == session.TxNone {
		return proto.ErrReply(proto.ErrGeneric, "DISCARD without MULTI")
	}
	ctx.Sess.EndTx()
	return proto.OK()
}

func cmdWatch(ctx *Context, args [][]byte) proto.Reply {
	if ctx.Sess.TxState != session.TxNone {
		return proto.ErrReply(proto.ErrGeneric, "WATCH inside MULTI is not allowed")
	}
	ctx.DB.Lock()
	for _, k := range args[1:] {
		key := string(k)
		ctx.Sess.Watch(ctx.Sess.DB, key, ctx.DB.Version(key))
	}
	ctx.DB.Unlock()
	return proto.OK()
}

func cmdUnwatch(ctx *Context, args [][]byte) proto.Reply {
	ctx.Sess.Unwatch()
	return proto.OK()
}

// cmdExec is a method value so it can close over the Dispatcher, needed
// to replay each queued command through ExecQueued.
func (d *Dispatcher) cmdExec() HandlerFunc {
	return func(ctx *Context, args [][]byte) proto.Reply {
		if ctx.Sess.TxState == session.TxNone {
			return proto.ErrReply(proto.ErrGeneric, "EXEC without MULTI")
		}
		aborted := ctx.Sess.TxState == session.TxAborted
		queue := ctx.Sess.Queue
		watches := ctx.Sess.Watches

		if !aborted && len(watches) > 0 {
			byDB := make(map[int][]session.WatchedKey)
			for _, w := range watches {
				byDB[w.DB] = append(byDB[w.DB], w)
			}
			for dbNum, ws := range byDB {
				db := d.Engine.DB(dbNum)
				db.Lock()
				for _, w := range ws {
					if db.Version(w.Key) != w.Version {
						aborted = true
					}
				}
				db.Unlock()
				if aborted {
					break
				}
			}
		}

		ctx.Sess.EndTx()

		if aborted {
			return proto.NilArray{}
		}

		replies := make([]proto.Reply, len(queue))
		for i, q := range queue {
			replies[i] = d.ExecQueued(ctx.Sess, q.Args)
		}
		return proto.Array{Items: replies}
	}
}
