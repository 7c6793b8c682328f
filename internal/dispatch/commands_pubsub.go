package dispatch

import (
	"github.com/ferrousdb/ferrous/internal/proto"
)

func (d *Dispatcher) registerPubSub() {
	d.register(commandSpec{name: "subscribe", arity: -2, handler: cmdSubscribe, noScript: true})
	d.register(commandSpec{name: "unsubscribe", arity: -1, handler: cmdUnsubscribe, noScript: true})
	d.register(commandSpec{name: "psubscribe", arity: -2, handler: cmdPSubscribe, noScript: true})
	d.register(commandSpec{name: "punsubscribe", arity: -1, handler: cmdPUnsubscribe, noScript: true})
	d.register(commandSpec{name: "publish", arity: 3, isWrite: true, handler: cmdPublish})
	d.register(commandSpec{name: "pubsub", arity: -2, handler: cmdPubSubIntrospect, noScript: true})
}

func cmdSubscribe(ctx *Context, args [][]byte) proto.Reply {
	var items []proto.Reply
	for _, chArg := range args[1:] {
		ch := string(chArg)
		ctx.Sess.AddChannel(ch)
		ctx.Engine.PubSub.Subscribe(ctx.Sess, ch)
		items = append(items,
			proto.Bulk{Data: []byte("subscribe")},
			proto.Bulk{Data: chArg},
			proto.Integer(ctx.Sess.SubscriptionCount()),
		)
	}
	return proto.Array{Items: items}
}

func cmdUnsubscribe(ctx *Context, args [][]byte) proto.Reply {
	channels := args[1:]
	if len(channels) == 0 {
		for _, ch := range ctx.Sess.Channels() {
			channels = append(channels, []byte(ch))
		}
	}
	var items []proto.Reply
	for _, chArg := range channels {
		ch := string(chArg)
		ctx.Sess.RemoveChannel(ch)
		ctx.Engine.PubSub.Unsubscribe(ctx.Sess, ch)
		items = append(items,
			proto.Bulk{Data: []byte("unsubscribe")},
			proto.Bulk{Data: chArg},
			proto.Integer(ctx.Sess.SubscriptionCount()),
		)
	}
	return proto.Array{Items: items}
}

func cmdPSubscribe(ctx *Context, args [][]byte) proto.Reply {
	var items []proto.Reply
	for _, pArg := range args[1:] {
		p := string(pArg)
		ctx.Sess.AddPattern(p)
		ctx.Engine.PubSub.PSubscribe(ctx.Sess, p)
		items = append(items,
			proto.Bulk{Data: []byte("psubscribe")},
			proto.Bulk{Data: pArg},
			proto.Integer(ctx.Sess.SubscriptionCount()),
		)
	}
	return proto.Array{Items: items}
}

func cmdPUnsubscribe(ctx *Context, args [][]byte) proto.Reply {
	patterns := args[1:]
	if len(patterns) == 0 {
		for _, p := range ctx.Sess.Patterns() {
			patterns = append(patterns, []byte(p))
		}
	}
	var items []proto.Reply
	for _, pArg := range patterns {
		p := string(pArg)
		ctx.Sess.RemovePattern(p)
		ctx.Engine.PubSub.PUnsubscribe(ctx.Sess, p)
		items = append(items,
			proto.Bulk{Data: []byte("punsubscribe")},
			proto.Bulk{Data: pArg},
			proto.Integer(ctx.Sess.SubscriptionCount()),
		)
	}
	return proto.Array{Items: items}
}

func cmdPublish(ctx *Context, args [][]byte) proto.Reply {
	n := ctx.Engine.PubSub.Publish(string(args[1]), args[2])
	return proto.Integer(n)
}

func cmdPubSubIntrospect(ctx *Context, args [][]byte) proto.Reply {
	switch string(args[1]) {
	case "channels", "CHANNELS":
		pattern := ""
		if len(args) >= 3 {
			pattern = string(args[2])
		}
		chans := ctx.Engine.PubSub.ChannelsMatching(pattern)
		out := make([][]byte, len(chans))
		for i, c := range chans {
			out[i] = []byte(c)
		}
		return proto.BulkArray(out)
	case "numsub", "NUMSUB":
		var items []proto.Reply
		for _, chArg := range args[2:] {
			items = append(items, proto.Bulk{Data: chArg}, proto.Integer(ctx.Engine.PubSub.NumSub(string(chArg))))
		}
		return proto.Array{Items: items}
	case "numpat", "NUMPAT":
		return proto.Integer(ctx.Engine.PubSub.NumPat())
	default:
		return proto.ErrReply(proto.ErrGeneric, "unknown PUBSUB subcommand")
	}
}
