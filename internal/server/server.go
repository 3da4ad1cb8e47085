// Package server wires the registry, the HTTP transport, metrics, and the
// hook manager into a single process: listen, serve, and shut down
// gracefully.
//
// Grounded on internal/rtmp/server/server.go's Server (Config with
// applyDefaults, a mutex-guarded listener/closing flag, Start/Stop/Addr,
// hook-manager lifecycle tied to Stop), generalized from a raw
// net.Listener accept loop to a net/http.Server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alxayo/webmrelay/internal/broadcast"
	"github.com/alxayo/webmrelay/internal/hooks"
	"github.com/alxayo/webmrelay/internal/logger"
	"github.com/alxayo/webmrelay/internal/metrics"
	"github.com/alxayo/webmrelay/internal/registry"
	"github.com/alxayo/webmrelay/internal/transport"
)

// Config holds every knob cmd/webm-relay-server exposes as a flag.
type Config struct {
	ListenAddr           string
	LogLevel             string
	ReapWindow           time.Duration
	MaxHeaderBytes       int
	PublishChunkBytes    int
	SubscriberQueueDepth int

	Hooks hooks.Config
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ReapWindow == 0 {
		c.ReapWindow = registry.ReapWindow
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20
	}
	if c.PublishChunkBytes == 0 {
		c.PublishChunkBytes = 16384
	}
	if c.Hooks.Timeout == "" && c.Hooks.Concurrency == 0 && c.Hooks.StdioFormat == "" {
		c.Hooks = hooks.DefaultConfig()
	}
	if c.SubscriberQueueDepth == 0 {
		c.SubscriberQueueDepth = 1
	}
}

// Server owns the HTTP listener and every component it serves.
type Server struct {
	cfg Config
	log *slog.Logger

	reg     *registry.Registry
	metrics *metrics.Collector
	hookMgr *hooks.Manager

	mu      sync.Mutex
	httpSrv *http.Server
	ln      net.Listener
	closing bool
	serveWg sync.WaitGroup
}

// New builds an unstarted Server.
func New(cfg Config) *Server {
	cfg.applyDefaults()
	log := logger.Logger().With("component", "webm_relay_server")

	mcol := metrics.New()
	hookMgr := hooks.NewManager(cfg.Hooks, log)

	reg := registry.New(registry.Config{
		BroadcastConfig: broadcast.Config{
			MaxHeaderBytes:  cfg.MaxHeaderBytes,
			SubscriberDepth: cfg.SubscriberQueueDepth,
			Hooks:           hookMgr,
			Metrics:         mcol,
			Logger:          log,
		},
		Hooks:      hookMgr,
		Metrics:    mcol,
		Logger:     log,
		ReapWindow: cfg.ReapWindow,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", mcol.Handler())
	mux.Handle("/", transport.New(transport.Config{
		Registry:          reg,
		PublishChunkBytes: cfg.PublishChunkBytes,
		Logger:            log,
	}))

	return &Server{
		cfg:     cfg,
		log:     log,
		reg:     reg,
		metrics: mcol,
		hookMgr: hookMgr,
		httpSrv: &http.Server{Handler: mux},
	}
}

// Start binds the listener and begins serving in the background. Safe to
// call only once.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("webm relay server listening", "addr", ln.Addr().String())
	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.log.Error("serve error", "error", err)
			}
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server, stops every live Broadcast so
// each subscriber's writer observes end-of-stream and closes cleanly (rather
// than blocking until the client itself disconnects), and closes the hook
// manager.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.ln == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.reg.StopAll()
	err := s.httpSrv.Shutdown(ctx)
	s.serveWg.Wait()

	if closeErr := s.hookMgr.Close(ctx); closeErr != nil {
		s.log.Error("error closing hook manager", "error", closeErr)
	}
	s.log.Info("webm relay server stopped")
	return err
}

// Addr returns the bound listener address, or nil if Start hasn't run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Registry exposes the underlying stream registry, mainly for tests.
func (s *Server) Registry() *registry.Registry { return s.reg }
