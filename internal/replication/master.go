package replication

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/persistence"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
)

// Master is the replication-master half of the link: it tags every
// propagated write with a byte offset, retains a trailing window of
// them in a Backlog for partial resync, and fans the same bytes out
// live to every attached replica connection. It implements
// storage.PropagationSink.
type Master struct {
	engine *storage.Engine
	log    *zap.Logger

	replID  string
	backlog *Backlog

	mu      sync.Mutex
	lastDB  int
	streams map[int64]*session.Session
}

// NewMaster builds a Master with a fresh 40-hex-char replication ID
// (Redis's own replid format), generated by concatenating two UUIDs'
// raw hex digits rather than reusing a single UUID's dashed form.
func NewMaster(engine *storage.Engine, log *zap.Logger) *Master {
	id := strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Master{
		engine:  engine,
		log:     log,
		replID:  id[:40],
		backlog: NewBacklog(1 << 20),
		lastDB:  -1,
		streams: make(map[int64]*session.Session),
	}
}

func (m *Master) ReplID() string { return m.replID }
func (m *Master) Offset() int64  { return m.backlog.Offset() }

// Propagate implements storage.PropagationSink: it encodes the
// command as a RESP2 array (prefixing SELECT when db changes), feeds
// the bytes into the backlog, and writes the same bytes to every
// currently attached replica.
func (m *Master) Propagate(db int, args [][]byte) {
	var buf bytes.Buffer
	w := proto.NewWriter(&buf)

	m.mu.Lock()
	if db != m.lastDB {
		w.ArrayHeader(2)
		w.BulkString([]byte("SELECT"))
		w.BulkString([]byte(fmt.Sprintf("%d", db)))
		m.lastDB = db
	}
	w.ArrayHeader(len(args))
	for _, a := range args {
		w.BulkString(a)
	}
	w.Flush()
	chunk := buf.Bytes()
	m.backlog.Feed(chunk)

	for id, sess := range m.streams {
		sw := sess.Writer()
		sw.Raw(chunk)
		if err := sw.Flush(); err != nil {
			m.log.Warn("replica stream write failed, detaching", zap.Int64("session", id), zap.Error(err))
			delete(m.streams, id)
		}
	}
	m.mu.Unlock()
}

// Detach removes sess from the live fan-out set, called when its
// connection closes.
func (m *Master) Detach(sess *session.Session) {
	m.mu.Lock()
	delete(m.streams, sess.ID)
	m.mu.Unlock()
}

// ReplicaCount reports how many replicas are currently attached
// (INFO's connected_slaves).
func (m *Master) ReplicaCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// HandlePSYNC performs the PSYNC handshake for sess, which has just
// issued PSYNC <replid> <offset>. It chooses partial resync when
// replID matches ours and offset is still within the backlog window,
// else falls back to full resync (a fresh RDB snapshot followed by
// the live command stream). Either way, sess is registered for live
// fan-out before returning.
func (m *Master) HandlePSYNC(sess *session.Session, replID string, offset int64) error {
	w := sess.Writer()

	m.mu.Lock()
	canPartial := replID == m.replID
	m.mu.Unlock()

	if canPartial {
		if data, ok := m.backlog.Range(offset); ok {
			w.SimpleString("CONTINUE " + m.replID)
			w.Raw(data)
			if err := w.Flush(); err != nil {
				return err
			}
			m.attach(sess)
			return nil
		}
	}

	snapshot, err := persistence.DumpRDB(m.engine)
	if err != nil {
		return fmt.Errorf("replication: snapshot for full resync: %w", err)
	}

	m.mu.Lock()
	startOffset := m.backlog.Offset()
	w.SimpleString(fmt.Sprintf("FULLRESYNC %s %d", m.replID, startOffset))
	w.Raw([]byte(fmt.Sprintf("$%d\r\n", len(snapshot))))
	w.Raw(snapshot)
	flushErr := w.Flush()
	m.mu.Unlock()
	if flushErr != nil {
		return flushErr
	}

	m.attach(sess)
	return nil
}

func (m *Master) attach(sess *session.Session) {
	sess.ReplicaLink = true
	m.mu.Lock()
	m.streams[sess.ID] = sess
	m.mu.Unlock()
}
