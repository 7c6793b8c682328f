// Command ferrous runs the server: it loads configuration, recovers
// from AOF/RDB, wires storage, scripting, replication, metrics, and
// the admin HTTP surface together, then serves RESP2 connections until
// signaled to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ferrousdb/ferrous/internal/admin"
	"github.com/ferrousdb/ferrous/internal/config"
	"github.com/ferrousdb/ferrous/internal/dispatch"
	ferrouslog "github.com/ferrousdb/ferrous/internal/log"
	"github.com/ferrousdb/ferrous/internal/metrics"
	"github.com/ferrousdb/ferrous/internal/persistence"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/replication"
	"github.com/ferrousdb/ferrous/internal/scripting"
	"github.com/ferrousdb/ferrous/internal/server"
	"github.com/ferrousdb/ferrous/internal/session"
	"github.com/ferrousdb/ferrous/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a Ferrous config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLog := flag.Bool("log-json", false, "emit JSON-encoded logs")
	flag.Parse()

	log, err := ferrouslog.New(ferrouslog.Options{Debug: *debug, JSON: *jsonLog})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ferrous: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.Named("ferrous")

	if err := run(log, *configPath); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(log *zap.Logger, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	engine := storage.New(cfg.Databases, nil)
	defer engine.Close()

	dispatcher := dispatch.New(engine, cfg, log)
	host := scripting.NewHost(dispatcher, 5*time.Second)
	dispatcher.Scripts = host

	m := metrics.New()
	dispatcher.Metrics = m

	master := replication.NewMaster(engine, log)
	dispatcher.Master = master

	replica := replication.NewReplica(engine, dispatcher, cfg.Port, log)
	dispatcher.ReplOf = replica

	var aof *persistence.AOF
	rdbPath := filepath.Join(cfg.Dir, cfg.DBFilename)
	aofPath := filepath.Join(cfg.Dir, cfg.AOFFilename)

	if cfg.AppendOnly {
		if err := recoverFromAOF(dispatcher, aofPath, log); err != nil {
			return fmt.Errorf("recover AOF: %w", err)
		}
		aof, err = persistence.OpenAOF(aofPath, cfg.AppendFsync, log)
		if err != nil {
			return fmt.Errorf("open AOF: %w", err)
		}
		defer aof.Close()
		engine.SetPropagationSink(storage.FanOutSink{Sinks: []storage.PropagationSink{aof, master}})
	} else {
		if err := persistence.LoadRDB(engine, rdbPath); err != nil {
			return fmt.Errorf("load RDB snapshot: %w", err)
		}
		engine.SetPropagationSink(master)
	}

	dispatcher.Persist = &ferrousPersister{engine: engine, rdbPath: rdbPath, aof: aof, log: log}

	srv := server.New(cfg, dispatcher, log)
	srv.OnClose(func(sess *session.Session) {
		if sess.ReplicaLink {
			master.Detach(sess)
		}
	})

	adminSrv := admin.New(engine, dispatcher, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group

	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})

	if cfg.AdminAddr != "" {
		g.Go(func() error {
			if err := adminSrv.ListenAndServe(cfg.AdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		runExpireLoop(ctx, engine)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		srv.Close()
		adminSrv.Shutdown()
		if !cfg.AppendOnly {
			if err := persistence.SaveRDB(engine, rdbPath); err != nil {
				log.Warn("final RDB save failed", zap.Error(err))
			}
		}
		return nil
	})

	return g.Wait()
}

// recoverFromAOF replays the append-only file through the dispatcher
// with propagation disabled, so recovery never re-appends to the very
// file it is reading nor streams to replicas that don't exist yet.
func recoverFromAOF(d *dispatch.Dispatcher, path string, log *zap.Logger) error {
	replaySess := session.New(0, nil)
	n := 0
	err := persistence.LoadAOF(path, func(db int, args [][]byte) error {
		replaySess.DB = db
		reply := d.ExecQueued(replaySess, args)
		if e, isErr := reply.(proto.Error); isErr {
			return errors.New(e.Err.Error())
		}
		n++
		return nil
	})
	if err != nil {
		return err
	}
	log.Info("AOF recovery complete", zap.Int("commands_replayed", n))
	return nil
}

// ferrousPersister adapts the concrete RDB/AOF machinery to
// dispatch.Persister, so the dispatch package never imports
// internal/persistence directly.
type ferrousPersister struct {
	mu      sync.Mutex
	engine  *storage.Engine
	rdbPath string
	aof     *persistence.AOF
	log     *zap.Logger
}

func (p *ferrousPersister) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return persistence.SaveRDB(p.engine, p.rdbPath)
}

func (p *ferrousPersister) BGSave() error {
	go func() {
		if err := p.Save(); err != nil {
			p.log.Warn("background save failed", zap.Error(err))
		}
	}()
	return nil
}

func (p *ferrousPersister) RewriteAOF() error {
	p.mu.Lock()
	aof := p.aof
	p.mu.Unlock()
	if aof == nil {
		return fmt.Errorf("ferrous: append only file is not enabled")
	}
	return aof.Rewrite(p.engine)
}

func runExpireLoop(ctx context.Context, engine *storage.Engine) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			engine.RunActiveExpireCycle(20, 16)
		}
	}
}
