// Package dispatch routes decoded RESP2 requests to command handlers,
// enforcing the cross-cutting rules: authentication,
// MULTI/EXEC queuing, the pub/sub subscribed-mode command whitelist,
// and write propagation to AOF/replicas.
package dispatch

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferrousdb/ferrous/internal/config"
	"github.com/ferrousdb/ferrous/internal/keyspace"
	"github.com/ferrousdb/ferrous/internal/metrics"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/scripting"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
	"go.uber.org/zap"
)

// HandlerFunc executes one command against ctx, returning the reply to
// write back. Handlers never write to the connection directly (with the
// sole exception of pub/sub pushes, handled via session.Session.Publish).
type HandlerFunc func(ctx *Context, args [][]byte) proto.Reply

// Context is the per-call environment a handler executes in.
type Context struct {
	Engine  *storage.Engine
	Sess    *session.Session
	DB      *keyspace.Keyspace
	Config  *config.Config
	Scripts *scripting.Host
	Log     *zap.Logger

	// NoBlock is set when a command runs as part of an EXEC replay or a
	// script's redis.call, in which case BLPOP/BRPOP/WAIT must behave
	// like their non-blocking counterparts (an indefinite wait here
	// would hold the execution lane forever, starving every other
	// connection) — the same restriction real Redis places on blocking
	// commands inside MULTI and scripts.
	NoBlock bool
}

type commandSpec struct {
	name string
	// arity follows the Redis convention: a positive N means exactly N
	// args (including the command name); a negative N means at least
	// -N args.
	arity    int
	isWrite  bool
	noScript bool // commands a Lua script is forbidden from calling
	handler  HandlerFunc
}

// ReplicaController is the subset of internal/replication.Replica that
// REPLICAOF/SLAVEOF and INFO need. Defined here (rather than imported)
// so dispatch has no dependency on the replication package, which
// itself depends on dispatch to replay streamed commands.
type ReplicaController interface {
	StartReplicaOf(host string, port int)
	StopReplicaOf()
	Status() (host string, port int, linkUp bool, offset int64)
}

// ReplicationMaster is the subset of internal/replication.Master that
// the PSYNC/REPLCONF handlers and INFO need.
type ReplicationMaster interface {
	HandlePSYNC(sess *session.Session, replID string, offset int64) error
	ReplID() string
	Offset() int64
	ReplicaCount() int
}

// Persister is the subset of cmd/ferrous's persistence wiring that
// SAVE/BGSAVE/BGREWRITEAOF need. Defined here (rather than imported)
// for the same reason as ReplicaController/ReplicationMaster: dispatch
// must not depend on internal/persistence's concrete types.
type Persister interface {
	// Save performs a synchronous RDB snapshot, blocking until done.
	Save() error
	// BGSave snapshots on a background goroutine; the returned error is
	// only a failure to even start the snapshot, not any failure during
	// it (those are logged, not surfaced to the caller — there is no
	// client connection left to report to by the time they happen).
	BGSave() error
	// RewriteAOF compacts the append-only file if one is active;
	// returns an error if AOF is not enabled at all.
	RewriteAOF() error
}

// Dispatcher owns the command table and the engine/config every
// connection's Context is built from.
type Dispatcher struct {
	Engine  *storage.Engine
	Config  *config.Config
	Scripts *scripting.Host
	Log     *zap.Logger

	// ReplOf and Master are wired in by main.go after both the
	// Dispatcher and the replication package's Replica/Master are
	// constructed; nil until then. main.go sets Master at startup whether
	// or not a replica ever attaches.
	ReplOf  ReplicaController
	Master  ReplicationMaster
	Metrics *metrics.Metrics

	// Persist is wired in by main.go once the AOF/RDB paths and the
	// live *persistence.AOF (if any) are known; nil means SAVE/BGSAVE/
	// BGREWRITEAOF are unavailable, which should never happen outside
	// tests that build a bare Dispatcher.
	Persist Persister

	// Clients tracks every live connection's Session, for CLIENT
	// LIST/KILL. The server registers/unregisters sessions as
	// connections open and close.
	Clients *session.Registry

	table map[string]commandSpec

	isReplica atomic.Bool

	monitorMu sync.Mutex
	monitors  map[int64]*session.Session

	// execMu is the single execution lane: every ordinary command holds
	// it for the duration of its handler call, so an EXEC replay or a
	// script's sequence of redis.call invocations (which run inside one
	// such handler call, via ExecQueued/CallFromScript rather than a
	// fresh Dispatch) completes with no other session's command able to
	// interleave. BLPOP/BRPOP/WAIT are exempted — see isBlockingCommand
	// — since they can wait indefinitely and must not hold the lane
	// while parked.
	execMu sync.Mutex
}

// isBlockingCommand reports whether name may legitimately wait rather
// than returning immediately, and so must never be run while holding
// execMu.
func isBlockingCommand(name string) bool {
	switch name {
	case "blpop", "brpop", "wait":
		return true
	default:
		return false
	}
}

func New(engine *storage.Engine, cfg *config.Config, log *zap.Logger) *Dispatcher {
	d := &Dispatcher{
		Engine:   engine,
		Config:   cfg,
		Log:      log,
		table:    make(map[string]commandSpec),
		Clients:  session.NewRegistry(),
		monitors: make(map[int64]*session.Session),
	}
	d.registerConnection()
	d.registerGeneric()
	d.registerString()
	d.registerList()
	d.registerHash()
	d.registerSet()
	d.registerZSet()
	d.registerStream()
	d.registerTx()
	d.registerPubSub()
	d.registerBlocking()
	d.registerAdmin()
	d.registerScripting()
	d.registerReplication()
	return d
}

func (d *Dispatcher) register(spec commandSpec) {
	d.table[spec.name] = spec
}

// SetReplicaMode toggles whether this server is currently a replica
// (following a master via REPLICAOF). While true, ordinary client
// connections have their write commands rejected with READONLY unless
// Config.ReplicaReadOnly is false; the replication link itself applies
// incoming commands via ExecQueued, which never passes through this
// check.
func (d *Dispatcher) SetReplicaMode(v bool) { d.isReplica.Store(v) }

func (d *Dispatcher) IsReplica() bool { return d.isReplica.Load() }

// StartMonitor puts sess into MONITOR mode: every command subsequently
// dispatched by any connection is echoed to it until it disconnects.
func (d *Dispatcher) StartMonitor(sess *session.Session) {
	d.monitorMu.Lock()
	defer d.monitorMu.Unlock()
	d.monitors[sess.ID] = sess
}

// StopMonitor removes a connection from the monitor feed; called when
// it disconnects, regardless of whether it ever issued MONITOR.
func (d *Dispatcher) StopMonitor(id int64) {
	d.monitorMu.Lock()
	defer d.monitorMu.Unlock()
	delete(d.monitors, id)
}

// feedMonitors echoes one dispatched command to every MONITOR
// connection, in the "<ts> [<db> <addr>] \"cmd\" \"arg\"..." form real
// Redis uses. A no-op when nothing is monitoring.
func (d *Dispatcher) feedMonitors(sess *session.Session, args [][]byte) {
	d.monitorMu.Lock()
	if len(d.monitors) == 0 {
		d.monitorMu.Unlock()
		return
	}
	targets := make([]*session.Session, 0, len(d.monitors))
	for _, m := range d.monitors {
		targets = append(targets, m)
	}
	d.monitorMu.Unlock()

	now := time.Now()
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%06d [%d %s]", now.Unix(), now.Nanosecond()/1000, sess.DB, sess.Addr)
	for _, a := range args {
		fmt.Fprintf(&b, " %q", string(a))
	}
	line := b.String()
	for _, m := range targets {
		m.Notify(line)
	}
}

func checkArity(spec commandSpec, n int) bool {
	if spec.arity >= 0 {
		return n == spec.arity
	}
	return n >= -spec.arity
}

// subscribedAllowed is the command whitelist a connection with active
// subscriptions is restricted to.
var subscribedAllowed = map[string]struct{}{
	"subscribe": {}, "unsubscribe": {}, "psubscribe": {}, "punsubscribe": {},
	"ping": {}, "quit": {}, "reset": {},
}

// Dispatch executes one request against sess, returning the reply to
// send. It never returns nil: every path yields a proto.Reply.
func (d *Dispatcher) Dispatch(sess *session.Session, req *proto.Request) proto.Reply {
	if len(req.Args) == 0 {
		return proto.ErrReply(proto.ErrGeneric, "empty command")
	}
	name := strings.ToLower(string(req.Args[0]))

	spec, ok := d.table[name]
	if !ok {
		return proto.ErrReply(proto.ErrGeneric, "unknown command '%s'", name)
	}
	if !checkArity(spec, len(req.Args)) {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for '%s' command", name)
	}

	if d.Config.RequirePass != "" && !sess.Authenticated && name != "auth" && name != "hello" && name != "quit" {
		return proto.ErrReply(proto.ErrNoAuth, "authentication required")
	}

	if sess.IsSubscribed() {
		if _, allowed := subscribedAllowed[name]; !allowed {
			return proto.ErrReply(proto.ErrGeneric, "Can't execute '%s': only (P|S)SUBSCRIBE / (P|S)UNSUBSCRIBE / PING / QUIT / RESET are allowed in this context", name)
		}
	}

	if spec.isWrite && d.isReplica.Load() && d.Config.ReplicaReadOnly {
		return proto.ErrReply(proto.ErrReadOnly, "You can't write against a read only replica.")
	}

	// MULTI queuing: everything except the transaction-control commands
	// themselves gets queued rather than executed.
	if sess.TxState == session.TxQueuing {
		switch name {
		case "exec", "discard", "multi", "watch", "reset":
			// fall through to execution below
		default:
			sess.Enqueue(req.Args)
			return proto.OK()
		}
	}

	d.feedMonitors(sess, req.Args)

	ctx := &Context{
		Engine:  d.Engine,
		Sess:    sess,
		DB:      d.Engine.DB(sess.DB),
		Config:  d.Config,
		Scripts: d.Scripts,
		Log:     d.Log,
	}
	var reply proto.Reply
	if isBlockingCommand(name) {
		reply = spec.handler(ctx, req.Args)
	} else {
		d.execMu.Lock()
		reply = spec.handler(ctx, req.Args)
		d.execMu.Unlock()
	}
	if d.Metrics != nil {
		d.Metrics.CommandsTotal.WithLabelValues(name).Inc()
	}

	if spec.isWrite {
		if _, isErr := reply.(proto.Error); !isErr {
			d.Engine.Propagate(sess.DB, req.Args)
		}
	}
	return reply
}

// ExecQueued runs one already-queued command during EXEC, bypassing
// arity/auth/subscribe checks (already validated, or deliberately
// skipped, at queue time).
func (d *Dispatcher) ExecQueued(sess *session.Session, args [][]byte) proto.Reply {
	name := strings.ToLower(string(args[0]))
	spec, ok := d.table[name]
	if !ok {
		return proto.ErrReply(proto.ErrGeneric, "unknown command '%s'", name)
	}
	ctx := &Context{Engine: d.Engine, Sess: sess, DB: d.Engine.DB(sess.DB), Config: d.Config, Scripts: d.Scripts, Log: d.Log, NoBlock: true}
	reply := spec.handler(ctx, args)
	if spec.isWrite {
		if _, isErr := reply.(proto.Error); !isErr {
			d.Engine.Propagate(sess.DB, args)
		}
	}
	return reply
}

// CallFromScript executes a command on behalf of redis.call/pcall,
// rejecting the handful of commands scripts may not invoke.
func (d *Dispatcher) CallFromScript(sess *session.Session, args [][]byte) proto.Reply {
	if len(args) == 0 {
		return proto.ErrReply(proto.ErrGeneric, "empty command")
	}
	name := strings.ToLower(string(args[0]))
	spec, ok := d.table[name]
	if !ok {
		return proto.ErrReply(proto.ErrGeneric, "unknown command '%s'", name)
	}
	if spec.noScript {
		return proto.ErrReply(proto.ErrGeneric, "this Redis command is not allowed from script")
	}
	if !checkArity(spec, len(args)) {
		return proto.ErrReply(proto.ErrGeneric, "wrong number of arguments for '%s' command", name)
	}
	return d.ExecQueued(sess, args)
}
