package replication

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/dispatch"
	"github.com/ferrousdb/ferrous/internal/persistence"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
)

// Replica is the replication-replica half of the link: it dials a
// master, performs the PING/REPLCONF/PSYNC handshake by hand (no
// client library involved — Ferrous speaks its own wire protocol to
// itself), ingests the snapshot, and replays the streamed command log
// through the dispatcher until told to stop.
type Replica struct {
	engine     *storage.Engine
	dispatcher *dispatch.Dispatcher
	listenPort int
	log        *zap.Logger

	mu        sync.Mutex
	host      string
	port      int
	replID    string
	offset    int64
	linkUp    bool
	cancel    func()
	runningWG sync.WaitGroup
}

func NewReplica(engine *storage.Engine, dispatcher *dispatch.Dispatcher, listenPort int, log *zap.Logger) *Replica {
	return &Replica{engine: engine, dispatcher: dispatcher, listenPort: listenPort, log: log, replID: "?", offset: -1}
}

// Status reports the fields INFO's replication section needs.
func (r *Replica) Status() (host string, port int, linkUp bool, offset int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host, r.port, r.linkUp, r.offset
}

// StartReplicaOf begins following host:port, replacing any prior
// master. Puts the dispatcher into replica mode immediately; the link
// itself connects and resyncs in the background.
func (r *Replica) StartReplicaOf(host string, port int) {
	r.stopLocked()

	r.mu.Lock()
	r.host, r.port = host, port
	r.replID, r.offset = "?", -1
	ctx, cancel := newCancelCtx()
	r.cancel = cancel
	r.mu.Unlock()

	r.dispatcher.SetReplicaMode(true)
	r.runningWG.Add(1)
	go r.run(ctx)
}

// StopReplicaOf (REPLICAOF NO ONE) promotes this server back to an
// ordinary read/write master.
func (r *Replica) StopReplicaOf() {
	r.stopLocked()
	r.dispatcher.SetReplicaMode(false)
	r.mu.Lock()
	r.host, r.port = "", 0
	r.linkUp = false
	r.mu.Unlock()
}

func (r *Replica) stopLocked() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		r.runningWG.Wait()
	}
}

// cancelCtx is a minimal done-channel "context" so this package needs
// no dependency beyond what the rest of the module already uses.
type cancelCtx struct{ done chan struct{} }

func newCancelCtx() (*cancelCtx, func()) {
	c := &cancelCtx{done: make(chan struct{})}
	var once sync.Once
	return c, func() { once.Do(func() { close(c.done) }) }
}

func (c *cancelCtx) Done() <-chan struct{} { return c.done }

func (r *Replica) run(ctx *cancelCtx) {
	defer r.runningWG.Done()
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := r.syncOnce(ctx); err != nil {
			r.log.Warn("replication link failed, retrying", zap.Error(err))
			r.mu.Lock()
			r.linkUp = false
			r.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

// syncOnce dials the master, performs the handshake, ingests the
// snapshot (full resync) or backlog tail (partial resync), then
// blocks replaying the streamed command log until the link drops or
// ctx is cancelled.
func (r *Replica) syncOnce(ctx *cancelCtx) error {
	r.mu.Lock()
	addr := net.JoinHostPort(r.host, strconv.Itoa(r.port))
	lastReplID, lastOffset := r.replID, r.offset
	r.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("replication: dial master %s: %w", addr, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	br := bufio.NewReaderSize(conn, 64*1024)
	w := proto.NewWriter(conn)

	sendCommand := func(args ...string) error {
		w.ArrayHeader(len(args))
		for _, a := range args {
			w.BulkString([]byte(a))
		}
		return w.Flush()
	}

	if err := sendCommand("PING"); err != nil {
		return err
	}
	if _, err := readLine(br); err != nil {
		return fmt.Errorf("replication: handshake PING: %w", err)
	}

	if err := sendCommand("REPLCONF", "listening-port", strconv.Itoa(r.listenPort)); err != nil {
		return err
	}
	if _, err := readLine(br); err != nil {
		return fmt.Errorf("replication: handshake REPLCONF: %w", err)
	}

	if err := sendCommand("PSYNC", lastReplID, strconv.FormatInt(lastOffset, 10)); err != nil {
		return err
	}
	status, err := readLine(br)
	if err != nil {
		return fmt.Errorf("replication: handshake PSYNC: %w", err)
	}

	switch {
	case strings.HasPrefix(status, "+FULLRESYNC "):
		fields := strings.Fields(status)
		if len(fields) != 3 {
			return fmt.Errorf("replication: malformed FULLRESYNC reply %q", status)
		}
		newReplID, offset := fields[1], fields[2]
		off, err := strconv.ParseInt(offset, 10, 64)
		if err != nil {
			return fmt.Errorf("replication: malformed FULLRESYNC offset %q", offset)
		}

		payload, err := readBulkPayload(br)
		if err != nil {
			return fmt.Errorf("replication: read RDB snapshot: %w", err)
		}
		if err := persistence.LoadRDBReader(r.engine, bytes.NewReader(payload)); err != nil {
			return fmt.Errorf("replication: load snapshot: %w", err)
		}

		r.mu.Lock()
		r.replID, r.offset = newReplID, off
		r.linkUp = true
		r.mu.Unlock()

	case strings.HasPrefix(status, "+CONTINUE"):
		r.mu.Lock()
		r.linkUp = true
		r.mu.Unlock()

	default:
		return fmt.Errorf("replication: unexpected PSYNC reply %q", status)
	}

	return r.streamCommands(ctx, br)
}

// streamCommands replays the master's live command stream through the
// dispatcher, exactly as if a client had sent them, until the
// connection drops.
func (r *Replica) streamCommands(ctx *cancelCtx, br *bufio.Reader) error {
	cmdReader := proto.NewReader(br)
	sess := session.New(0, proto.NewWriter(io.Discard))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req, err := cmdReader.ReadRequest()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("replication: read command: %w", err)
		}
		if len(req.Args) == 0 {
			continue
		}

		reply := r.dispatcher.ExecQueued(sess, req.Args)
		n := estimateEncodedLen(req.Args)
		r.mu.Lock()
		r.offset += int64(n)
		r.mu.Unlock()
		if e, isErr := reply.(proto.Error); isErr {
			r.log.Warn("replicated command failed", zap.String("command", string(req.Args[0])), zap.String("err", e.Err.Error()))
		}
	}
}

// estimateEncodedLen recomputes the RESP2-encoded size of a command so
// the replica's own offset tracks the master's, without holding onto
// the raw bytes the reader already consumed.
func estimateEncodedLen(args [][]byte) int {
	n := len(fmt.Sprintf("*%d\r\n", len(args)))
	for _, a := range args {
		n += len(fmt.Sprintf("$%d\r\n", len(a))) + len(a) + 2
	}
	return n
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readBulkPayload reads a raw `$<len>\r\n<bytes>` frame with no
// trailing CRLF after the payload, the special framing Redis uses for
// the inline RDB transfer during full resync.
func readBulkPayload(br *bufio.Reader) ([]byte, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 || line[0] != '$' {
		return nil, fmt.Errorf("expected bulk header, got %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, fmt.Errorf("invalid bulk length %q", line)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
