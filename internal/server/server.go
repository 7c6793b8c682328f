// Package server owns the TCP accept loop: one goroutine per
// connection, each running a pipelined RESP2 request/reply cycle
// against a shared Dispatcher, with admission control bounding the
// number of concurrent clients.
package server

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/config"
	"github.com/ferrousdb/ferrous/internal/dispatch"
	"github.com/ferrousdb/ferrous/internal/proto"
	"github.com/ferrousdb/ferrous/internal/session"
)

// Server accepts client connections and runs each through the
// Dispatcher until it disconnects or the server shuts down.
type Server struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger

	ln    net.Listener
	slots *slotPool
	ids   *connIDAllocator

	onClose func(sess *session.Session) // replication detach hook, optional

	wg sync.WaitGroup
}

func New(cfg *config.Config, dispatcher *dispatch.Dispatcher, log *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		log:        log,
		slots:      newSlotPool(int64(cfg.MaxClients)),
		ids:        newConnIDAllocator(),
	}
}

// OnClose registers a callback invoked when a connection's read loop
// exits, used by main.go to detach a disconnecting replica from the
// replication master's fan-out set.
func (s *Server) OnClose(fn func(sess *session.Session)) { s.onClose = fn }

// ListenAndServe binds cfg.Bind:cfg.Port and serves until Close is
// called, at which point it returns net.ErrClosed (treated as a clean
// shutdown by the caller).
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.ln = ln
	s.log.Info("listening", zap.String("addr", addr))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return err
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections; in-flight connections run to
// completion.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	id := s.ids.alloc()
	defer s.ids.release(id)

	if !s.slots.tryAcquire(id) {
		w := proto.NewWriter(conn)
		w.Error(proto.Errf(proto.ErrGeneric, "max number of clients reached"))
		w.Flush()
		return
	}
	defer s.slots.release(id)

	reader := proto.NewReader(conn)
	writer := proto.NewWriter(conn)
	sess := session.New(id, writer)
	sess.SetAddr(conn.RemoteAddr().String())
	sess.SetCloseFn(conn.Close)

	s.dispatcher.Clients.Register(sess)
	defer func() {
		s.dispatcher.Clients.Unregister(sess.ID)
		s.dispatcher.StopMonitor(sess.ID)
		s.dispatcher.Engine.PubSub.UnsubscribeAll(sess)
		if s.onClose != nil {
			s.onClose(sess)
		}
	}()

	for {
		req, err := reader.ReadRequest()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug("connection closed", zap.Int64("client", id), zap.Error(err))
			}
			return
		}
		if len(req.Args) == 0 {
			continue
		}

		reply := s.dispatcher.Dispatch(sess, req)
		reply.WriteTo(writer)
		if err := writer.Flush(); err != nil {
			return
		}

		if strings.EqualFold(string(req.Args[0]), "quit") {
			return
		}
	}
}
