package persistence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/config"
	"github.com/ferrousdb/ferrous/internal/keyspace"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/storage"
	"github.com/ferrousdb/ferrous/internal/value"
)

// AOF appends every accepted write command to an append-only file as
// plain RESP2 arrays, the same wire format clients speak — so the file
// can be replayed by feeding it back through the command reader. It
// implements storage.PropagationSink.
type AOF struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	w      *proto.Writer
	policy config.FsyncPolicy
	log    *zap.Logger

	lastDB int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// OpenAOF opens (creating if absent) the append-only file at path and
// starts the everysec fsync ticker if the policy calls for one.
func OpenAOF(path string, policy config.FsyncPolicy, log *zap.Logger) (*AOF, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("persistence: open AOF %q: %w", path, err)
	}
	a := &AOF{
		path:   path,
		file:   f,
		w:      proto.NewWriter(f),
		policy: policy,
		log:    log,
		lastDB: -1,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if policy == config.FsyncEverysec {
		go a.fsyncLoop()
	} else {
		close(a.doneCh)
	}
	return a, nil
}

func (a *AOF) fsyncLoop() {
	defer close(a.doneCh)
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-t.C:
			if err := a.Sync(); err != nil {
				a.log.Warn("aof fsync failed", zap.Error(err))
			}
		}
	}
}

// Propagate writes args as a RESP array, prefixing a SELECT when db
// differs from the last command written, and fsyncs immediately under
// FsyncAlways.
func (a *AOF) Propagate(db int, args [][]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if db != a.lastDB {
		a.w.ArrayHeader(2)
		a.w.BulkString([]byte("SELECT"))
		a.w.BulkString([]byte(fmt.Sprintf("%d", db)))
		a.lastDB = db
	}
	a.w.ArrayHeader(len(args))
	for _, arg := range args {
		a.w.BulkString(arg)
	}

	if a.policy == config.FsyncAlways {
		if err := a.w.Flush(); err != nil {
			a.log.Warn("aof flush failed", zap.Error(err))
			return
		}
		if err := a.file.Sync(); err != nil {
			a.log.Warn("aof fsync failed", zap.Error(err))
		}
	}
}

// Sync flushes buffered writes and fsyncs the underlying file.
func (a *AOF) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.w.Flush(); err != nil {
		return err
	}
	return a.file.Sync()
}

// Close stops the fsync ticker (if any), flushes, and closes the file.
func (a *AOF) Close() error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	<-a.doneCh
	if err := a.Sync(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// LoadAOF replays the RESP2 command stream at path, calling apply for
// every command with the currently-selected database (tracked across
// SELECT commands in the file itself). A missing file is not an error.
func LoadAOF(path string, apply func(db int, args [][]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("persistence: open AOF %q: %w", path, err)
	}
	defer f.Close()

	r := proto.NewReader(f)
	db := 0
	for {
		req, err := r.ReadRequest()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("persistence: replay AOF: %w", err)
		}
		if len(req.Args) == 0 {
			continue
		}
		if strings.EqualFold(string(req.Args[0]), "SELECT") && len(req.Args) == 2 {
			n := 0
			for _, c := range req.Args[1] {
				if c < '0' || c > '9' {
					n = -1
					break
				}
				n = n*10 + int(c-'0')
			}
			if n >= 0 {
				db = n
			}
			continue
		}
		if err := apply(db, req.Args); err != nil {
			return fmt.Errorf("persistence: replay AOF command %q: %w", req.Args[0], err)
		}
	}
}

// Rewrite replaces the AOF file with a fresh, minimal log that
// reconstructs engine's exact current dataset in one command per key
// (one XADD per entry for streams, plus a PEXPIREAT for keys with an
// expiry), rather than the (possibly much longer) history of commands that
// produced it — the same compaction BGREWRITEAOF performs in real
// Redis. It swaps the file in via temp-file-then-rename, the same
// crash-safety SaveRDB uses for its own snapshot, then reopens the live
// append handle against the new file.
func (a *AOF) Rewrite(engine *storage.Engine) error {
	dir := filepath.Dir(a.path)
	tmp, err := os.CreateTemp(dir, ".aof-rewrite-*")
	if err != nil {
		return fmt.Errorf("persistence: aof rewrite temp file: %w", err)
	}
	tmpName := tmp.Name()

	w := proto.NewWriter(tmp)
	lastDB := -1
	emit := func(db int, args ...[]byte) {
		if db != lastDB {
			w.ArrayHeader(2)
			w.BulkString([]byte("SELECT"))
			w.BulkString([]byte(strconv.Itoa(db)))
			lastDB = db
		}
		w.ArrayHeader(len(args))
		for _, arg := range args {
			w.BulkString(arg)
		}
	}

	var rewriteErr error
	for i := 0; i < engine.NumDBs(); i++ {
		db := engine.DB(i)
		db.Lock()
		db.ForEach(func(key string, rec *keyspace.Record) {
			if rewriteErr != nil {
				return
			}
			rewriteErr = rewriteRecord(emit, i, key, rec)
		})
		db.Unlock()
		if rewriteErr != nil {
			break
		}
	}
	if rewriteErr == nil {
		rewriteErr = w.Flush()
	}
	if rewriteErr == nil {
		rewriteErr = tmp.Sync()
	}
	tmp.Close()
	if rewriteErr != nil {
		os.Remove(tmpName)
		return rewriteErr
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		return fmt.Errorf("persistence: aof rewrite rename: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.file.Close(); err != nil {
		a.log.Warn("aof rewrite: closing superseded file handle", zap.Error(err))
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("persistence: reopen AOF after rewrite: %w", err)
	}
	a.file = f
	a.w = proto.NewWriter(f)
	a.lastDB = -1
	return nil
}

// rewriteRecord emits the command(s) that reconstruct key's current
// value and expiry into db.
func rewriteRecord(emit func(db int, args ...[]byte), db int, key string, rec *keyspace.Record) error {
	switch v := rec.Val.(type) {
	case *value.String:
		emit(db, []byte("SET"), []byte(key), v.Data)

	case *value.List:
		if elems := v.Range(0, v.Len()-1); len(elems) > 0 {
			args := append([][]byte{[]byte("RPUSH"), []byte(key)}, elems...)
			emit(db, args...)
		}

	case *value.Hash:
		if all := v.All(); len(all) > 0 {
			args := [][]byte{[]byte("HSET"), []byte(key)}
			for f, fv := range all {
				args = append(args, []byte(f), fv)
			}
			emit(db, args...)
		}

	case *value.Set:
		if members := v.Members(); len(members) > 0 {
			args := [][]byte{[]byte("SADD"), []byte(key)}
			for _, m := range members {
				args = append(args, []byte(m))
			}
			emit(db, args...)
		}

	case *value.ZSet:
		if entries := v.RangeByRank(0, -1, false); len(entries) > 0 {
			args := [][]byte{[]byte("ZADD"), []byte(key)}
			for _, e := range entries {
				args = append(args, []byte(formatScoreAOF(e.Score)), []byte(e.Member))
			}
			emit(db, args...)
		}

	case *value.Stream:
		for _, e := range v.All() {
			args := [][]byte{[]byte("XADD"), []byte(key), []byte(fmt.Sprintf("%d-%d", e.ID.MS, e.ID.Seq))}
			for _, f := range e.Fields {
				args = append(args, []byte(f))
			}
			emit(db, args...)
		}

	default:
		return fmt.Errorf("persistence: aof rewrite: unknown value type %T", rec.Val)
	}

	if rec.ExpireAt > 0 {
		emit(db, []byte("PEXPIREAT"), []byte(key), []byte(strconv.FormatInt(rec.ExpireAt, 10)))
	}
	return nil
}

func formatScoreAOF(f float64) string {
	return strconv.FormatFloat(f, 'g', 17, 64)
}
