// Package session models one client connection's state machine:
// selected database, authentication, the
// MULTI/EXEC transaction queue and its WATCH set, and active pub/sub
// subscriptions. The storage engine owns data; a Session owns nothing
// but per-connection state layered on top of it.
package session

import (
	"sync"
	"time"

	"github.com/ferrousdb/ferrous/internal/proto"
)

// TxState is the transaction sub-state a session can be in.
type TxState int

const (
	TxNone TxState = iota
	TxQueuing
	TxAborted // CAS-style: a command inside MULTI failed to even queue (bad arity/unknown command)
)

// QueuedCommand is one command recorded while TxState is TxQueuing.
type QueuedCommand struct {
	Args [][]byte
}

// WatchedKey pins a key to the Version it had when WATCH was issued;
// EXEC aborts if any watched key's live version has since moved.
type WatchedKey struct {
	DB      int
	Key     string
	Version uint64
}

// Session is a connection's mutable state. Command dispatch holds no
// lock of its own around a Session; by construction exactly one
// goroutine (the connection's read loop) ever touches a given Session,
// so access needs no synchronization except for the fields that
// cross into the pub/sub fan-out goroutine, guarded below by mu.
type Session struct {
	ID int64

	Authenticated bool
	DB            int

	TxState TxState
	Queue   []QueuedCommand
	Watches []WatchedKey

	// ReplicaLink is set once this connection has issued PSYNC/SYNC and
	// is now a replica stream target rather than an ordinary client.
	ReplicaLink bool

	// CreatedAt and Addr are set once at construction and never mutated
	// afterward, so CLIENT LIST can read them from another connection's
	// goroutine without locking.
	CreatedAt time.Time
	Addr      string

	mu       sync.Mutex
	name     string
	channels map[string]struct{}
	patterns map[string]struct{}
	writer   *proto.Writer
	closeFn  func() error
}

func New(id int64, w *proto.Writer) *Session {
	return &Session{
		ID:        id,
		writer:    w,
		CreatedAt: time.Now(),
		channels:  make(map[string]struct{}),
		patterns:  make(map[string]struct{}),
	}
}

// SetAddr records the connection's remote address, for CLIENT LIST.
func (s *Session) SetAddr(addr string) { s.Addr = addr }

// SetCloseFn registers the function that tears down this session's
// underlying connection, invoked by CLIENT KILL from another session's
// goroutine.
func (s *Session) SetCloseFn(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFn = fn
}

// Kill closes the underlying connection. Safe to call from any
// goroutine; the killed connection's own read loop observes the
// resulting error and exits on its next read.
func (s *Session) Kill() error {
	s.mu.Lock()
	fn := s.closeFn
	s.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// Name and SetName implement CLIENT GETNAME/SETNAME.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) SetName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.name = name
}

// Writer exposes the connection's encoder directly, for callers that
// need to write outside the normal one-reply-per-request cycle
// (pub/sub pushes, the replication handshake/stream).
func (s *Session) Writer() *proto.Writer { return s.writer }

// Publish implements storage.Subscriber: it writes a pub/sub push
// message directly to the connection's writer and flushes immediately,
// since pub/sub pushes happen outside the normal request/reply
// pipelining cycle.
func (s *Session) Publish(channel string, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := proto.Array{Items: []proto.Reply{
		proto.Bulk{Data: []byte("message")},
		proto.Bulk{Data: []byte(channel)},
		proto.Bulk{Data: payload},
	}}
	msg.WriteTo(s.writer)
	s.writer.Flush()
}

// Notify writes line as a simple-string push outside the normal
// request/reply cycle, used for the MONITOR command feed.
func (s *Session) Notify(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	proto.SimpleString(line).WriteTo(s.writer)
	s.writer.Flush()
}

func (s *Session) AddChannel(ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch] = struct{}{}
}

func (s *Session) RemoveChannel(ch string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, ch)
}

func (s *Session) AddPattern(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[p] = struct{}{}
}

func (s *Session) RemovePattern(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.patterns, p)
}

// SubscriptionCount returns the total channel+pattern subscriptions,
// used as the reply count in SUBSCRIBE/UNSUBSCRIBE acks.
func (s *Session) SubscriptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) + len(s.patterns)
}

// IsSubscribed reports whether the session has any active
// subscription, which restricts it to a limited command set until it
// unsubscribes from everything.
func (s *Session) IsSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.channels) > 0 || len(s.patterns) > 0
}

// Channels and Patterns return snapshots for cleanup on disconnect.
func (s *Session) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.channels))
	for c := range s.channels {
		out = append(out, c)
	}
	return out
}

func (s *Session) Patterns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.patterns))
	for p := range s.patterns {
		out = append(out, p)
	}
	return out
}

// StartTx enters MULTI's queuing state; a nested MULTI is the caller's
// responsibility to reject before calling this.
func (s *Session) StartTx() {
	s.TxState = TxQueuing
	s.Queue = nil
}

// Enqueue records cmd into the transaction queue.
func (s *Session) Enqueue(args [][]byte) {
	s.Queue = append(s.Queue, QueuedCommand{Args: args})
}

// AbortTx marks the in-flight transaction as doomed to fail at EXEC:
// queuing a command with bad arity or an unknown name still consumes
// the slot but dooms the whole transaction.
func (s *Session) AbortTx() { s.TxState = TxAborted }

// EndTx clears all transaction state (EXEC, DISCARD, or an aborted
// EXEC all converge here).
func (s *Session) EndTx() {
	s.TxState = TxNone
	s.Queue = nil
	s.Watches = nil
}

// Watch records a key's current version for later EXEC validation.
func (s *Session) Watch(db int, key string, version uint64) {
	s.Watches = append(s.Watches, WatchedKey{DB: db, Key: key, Version: version})
}

// Unwatch clears the WATCH set without touching transaction state
// (UNWATCH, and implicitly EXEC/DISCARD via EndTx).
func (s *Session) Unwatch() { s.Watches = nil }
