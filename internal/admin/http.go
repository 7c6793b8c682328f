// Package admin serves Ferrous's HTTP side channel: Prometheus
// metrics, a liveness probe, and a debug summary — never the RESP2
// wire protocol itself. Built on gin with the same middleware chain
// shape (recovery, hardening headers, CORS for a dev dashboard, a Zap
// access-log middleware) the project's own HTTP services use.
package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ferrousdb/ferrous/internal/dispatch"
	"github.com/ferrousdb/ferrous/internal/metrics"
	"github.com/ferrousdb/ferrous/internal/storage"
)

// accessLogger logs every admin HTTP request through log, the same
// shape the RESP server's own Zap logger uses for command errors.
func accessLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Server is the admin HTTP surface, bound to Config.AdminAddr.
type Server struct {
	engine  *storage.Engine
	dispatch *dispatch.Dispatcher
	metrics *metrics.Metrics
	log     *zap.Logger

	httpSrv *http.Server
}

func New(engine *storage.Engine, d *dispatch.Dispatcher, m *metrics.Metrics, log *zap.Logger) *Server {
	return &Server{engine: engine, dispatch: d, metrics: m, log: log}
}

// ListenAndServe blocks serving the admin surface on addr until
// Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(secure.New(secure.Config{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
	}))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
	}))
	r.Use(accessLogger(s.log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", func(c *gin.Context) {
		s.refresh()
		promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP(c.Writer, c.Request)
	})

	r.GET("/debugz", func(c *gin.Context) {
		info := gin.H{"databases": s.engine.NumDBs()}
		if s.dispatch.Master != nil {
			info["role"] = "master"
			info["connected_slaves"] = s.dispatch.Master.ReplicaCount()
			info["master_replid"] = s.dispatch.Master.ReplID()
			info["master_repl_offset"] = s.dispatch.Master.Offset()
		}
		if s.dispatch.ReplOf != nil {
			if host, port, up, offset := s.dispatch.ReplOf.Status(); host != "" {
				info["role"] = "replica"
				info["master_host"] = host
				info["master_port"] = port
				info["master_link_up"] = up
				info["slave_repl_offset"] = offset
			}
		}
		c.JSON(http.StatusOK, info)
	})

	s.httpSrv = &http.Server{Addr: addr, Handler: r}
	return s.httpSrv.ListenAndServe()
}

// refresh samples current engine/replication state into the gauges
// promhttp is about to serve. CommandsTotal is updated inline by the
// dispatcher as commands run; the other counters (KeyspaceHits,
// KeyspaceMisses, ExpiredKeysTotal) are registered but never
// incremented. Only point-in-time gauges need a pull-side refresh.
func (s *Server) refresh() {
	if s.dispatch.Master != nil {
		s.metrics.ReplicaCount.Set(float64(s.dispatch.Master.ReplicaCount()))
		s.metrics.MasterReplOffset.Set(float64(s.dispatch.Master.Offset()))
	}
	for i := 0; i < s.engine.NumDBs(); i++ {
		db := s.engine.DB(i)
		db.Lock()
		n := db.Len()
		db.Unlock()
		s.metrics.DBKeys.WithLabelValues(strconv.Itoa(i)).Set(float64(n))
	}
}

// Shutdown stops the admin HTTP server.
func (s *Server) Shutdown() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}
