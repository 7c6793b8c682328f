package dispatch

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/scripting"
)

var errBadNumKeys = errors.New("Number of keys can't be greater than number of args")

func (d *Dispatcher) registerScripting() {
	d.register(commandSpec{name: "eval", arity: -3, isWrite: true, handler: cmdEval, noScript: true})
	d.register(commandSpec{name: "evalsha", arity: -3, isWrite: true, handler: cmdEvalSha, noScript: true})
	d.register(commandSpec{name: "script", arity: -2, handler: cmdScript, noScript: true})
}

func parseKeysArgv(args [][]byte) (keys, argv [][]byte, err error) {
	numkeys, perr := strconv.Atoi(string(args[2]))
	if perr != nil || numkeys < 0 || 3+numkeys > len(args) {
		return nil, nil, errBadNumKeys
	}
	return args[3 : 3+numkeys], args[3+numkeys:], nil
}

func cmdEval(ctx *Context, args [][]byte) proto.Reply {
	keys, argv, err := parseKeysArgv(args)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	source := string(args[1])
	ctx.Engine.ScriptLoad(source)
	return runScript(ctx, source, keys, argv)
}

func cmdEvalSha(ctx *Context, args [][]byte) proto.Reply {
	sha := strings.ToLower(string(args[1]))
	source, ok := ctx.Engine.ScriptGet(sha)
	if !ok {
		return proto.ErrReply(proto.ErrNoScript, "No matching script. Please use EVAL.")
	}
	keys, argv, err := parseKeysArgv(args)
	if err != nil {
		return proto.ErrReply(proto.ErrGeneric, "%s", err.Error())
	}
	return runScript(ctx, source, keys, argv)
}

func runScript(ctx *Context, source string, keys, argv [][]byte) proto.Reply {
	reply, err := ctx.Scripts.Eval(ctx.Sess, source, keys, argv)
	if err != nil {
		if err == scripting.ErrScriptTimedOut {
			return proto.ErrReply(proto.ErrBusy, "Script exceeded time limit")
		}
		return proto.ErrReply(proto.ErrGeneric, "Error compiling script: %s", err.Error())
	}
	return reply
}

func cmdScript(ctx *Context, args [][]byte) proto.Reply {
	sub := strings.ToLower(string(args[1]))
	switch sub {
	case "load":
		if len(args) != 3 {
			return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for 'script|load' command")
		}
		sha := ctx.Engine.ScriptLoad(string(args[2]))
		return proto.Bulk{Data: []byte(sha)}
	case "exists":
		shas := make([]string, len(args)-2)
		for i, a := range args[2:] {
			shas[i] = strings.ToLower(string(a))
		}
		found := ctx.Engine.ScriptExists(shas)
		items := make([]proto.Reply, len(found))
		for i, f := range found {
			if f {
				items[i] = proto.Integer(1)
			} else {
				items[i] = proto.Integer(0)
			}
		}
		return proto.Array{Items: items}
	case "flush":
		ctx.Engine.ScriptFlush()
		return proto.OK()
	default:
		return proto.ErrReply(proto.ErrGeneric, "unknown SCRIPT subcommand '%s'", sub)
	}
}
