// Package storage owns the server-wide state that sits above any single
// Keyspace: the fixed array of numbered databases, the pub/sub
// registry, the blocking-command coordinator, the EVALSHA script
// cache, and the replication fan-out hook.
package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/ferrousdb/ferrous/internal/keyspace"
)

// PropagationSink receives every write command accepted by the engine,
// in execution order, for AOF/replica fan-out. A nil
// sink (the default) disables propagation.
type PropagationSink interface {
	Propagate(db int, args [][]byte)
}

// Engine is the top-level storage handle a Dispatcher is built over.
type Engine struct {
	dbs      []*keyspace.Keyspace
	PubSub   *PubSub
	Blocking *BlockingRegistry

	scriptMu sync.Mutex
	scripts  map[string]string // sha1 hex -> source

	propMu sync.Mutex
	sink   PropagationSink
}

// New builds an Engine with n numbered databases (config's "databases"
// directive). clock is injectable for tests; nil uses wall-clock time.
func New(n int, clock func() time.Time) *Engine {
	dbs := make([]*keyspace.Keyspace, n)
	for i := range dbs {
		dbs[i] = keyspace.New(clock)
	}
	return &Engine{
		dbs:      dbs,
		PubSub:   NewPubSub(),
		Blocking: NewBlockingRegistry(),
		scripts:  make(map[string]string),
	}
}

func (e *Engine) Close() { e.Blocking.Close() }

// DB returns the numbered Keyspace, panicking on an out-of-range index;
// dispatch validates SELECT's argument against NumDBs before calling
// this, so an out-of-range index here is a programmer error.
func (e *Engine) DB(n int) *keyspace.Keyspace { return e.dbs[n] }

func (e *Engine) NumDBs() int { return len(e.dbs) }

// SetPropagationSink installs the AOF/replication fan-out target. Called
// once during startup wiring.
func (e *Engine) SetPropagationSink(sink PropagationSink) {
	e.propMu.Lock()
	defer e.propMu.Unlock()
	e.sink = sink
}

// FanOutSink forwards every propagated write to each of its sinks in
// order (AOF and the replication master run off the same stream).
type FanOutSink struct {
	Sinks []PropagationSink
}

func (f FanOutSink) Propagate(db int, args [][]byte) {
	for _, s := range f.Sinks {
		if s != nil {
			s.Propagate(db, args)
		}
	}
}

// Propagate forwards an accepted write command to the installed sink, if
// any. Dispatch calls this after a write command completes successfully,
// never before, so a command that errors out is never propagated.
func (e *Engine) Propagate(db int, args [][]byte) {
	e.propMu.Lock()
	sink := e.sink
	e.propMu.Unlock()
	if sink == nil {
		return
	}
	sink.Propagate(db, args)
}

// ScriptLoad registers source under its SHA1 hex digest, returning the
// digest. Used both by SCRIPT LOAD directly and by EVAL's cache-on-
// first-use.
func (e *Engine) ScriptLoad(source string) string {
	sum := sha1.Sum([]byte(source))
	sha := hex.EncodeToString(sum[:])
	e.scriptMu.Lock()
	e.scripts[sha] = source
	e.scriptMu.Unlock()
	return sha
}

// ScriptGet returns the source registered under sha (a 40-char lower-hex
// digest), or ("", false) if not cached or malformed (EVALSHA's
// NOSCRIPT case).
func (e *Engine) ScriptGet(sha string) (string, bool) {
	if validateSHA1(sha) != nil {
		return "", false
	}
	e.scriptMu.Lock()
	defer e.scriptMu.Unlock()
	src, ok := e.scripts[sha]
	return src, ok
}

// ScriptExists reports, for each sha in order, whether it is cached
// (SCRIPT EXISTS).
func (e *Engine) ScriptExists(shas []string) []bool {
	e.scriptMu.Lock()
	defer e.scriptMu.Unlock()
	out := make([]bool, len(shas))
	for i, sha := range shas {
		_, out[i] = e.scripts[sha]
	}
	return out
}

// ScriptFlush empties the script cache (SCRIPT FLUSH).
func (e *Engine) ScriptFlush() {
	e.scriptMu.Lock()
	e.scripts = make(map[string]string)
	e.scriptMu.Unlock()
}

// FlushAllDBs clears every numbered database (FLUSHALL).
func (e *Engine) FlushAllDBs() {
	for _, db := range e.dbs {
		db.Lock()
		db.FlushAll()
		db.Unlock()
	}
}

// RunActiveExpireCycle sweeps every database once; the server's
// background ticker calls this periodically.
func (e *Engine) RunActiveExpireCycle(sampleSize, maxRounds int) int {
	total := 0
	for _, db := range e.dbs {
		db.Lock()
		total += db.ActiveExpireCycle(sampleSize, maxRounds)
		db.Unlock()
	}
	return total
}

func validateSHA1(sha string) error {
	if len(sha) != 40 {
		return fmt.Errorf("invalid SHA1 digest length")
	}
	if _, err := hex.DecodeString(sha); err != nil {
		return fmt.Errorf("invalid SHA1 digest: %w", err)
	}
	return nil
}
