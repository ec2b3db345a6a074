package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/switchboard/pkg/config"
	"mercator-hq/switchboard/pkg/proxy/handlers"
	"mercator-hq/switchboard/pkg/proxy/middleware"
	"mercator-hq/switchboard/pkg/telemetry/health"
	"mercator-hq/switchboard/pkg/telemetry/metrics"
	"mercator-hq/switchboard/pkg/telemetry/tracing"
)

// Closer is closed during shutdown so queued requests are released.
type Closer interface {
	Close()
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Streamer      handlers.Streamer
	Conversations handlers.Conversations
	Health        *health.Checker

	// Admission is closed after readiness starts failing. Optional.
	Admission Closer

	// Metrics serves the scrape endpoint and records HTTP requests. Optional.
	Metrics *metrics.Collector

	Logger *slog.Logger

	Version   string
	Commit    string
	BuildDate string
}

// Server is the relay's HTTP server.
type Server struct {
	config *config.Config
	deps   Deps
	logger *slog.Logger

	httpServer   *http.Server
	listener     net.Listener
	ready        chan struct{}
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a server. Routes are built when the server starts or
// when Handler is called.
func NewServer(cfg *config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = health.New(0)
	}
	return &Server{
		config:       cfg,
		deps:         deps,
		logger:       logger.With("component", "server"),
		ready:        make(chan struct{}),
		shutdownChan: make(chan struct{}),
	}
}

// Start listens on the configured address and serves until ctx is
// cancelled, SIGINT or SIGTERM arrives, or Stop is called. It then shuts
// down gracefully. A server starts once.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning || s.httpServer != nil {
		s.mu.Unlock()
		return fmt.Errorf("server was already started")
	}

	ln, err := net.Listen("tcp", s.config.Server.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.Server.ListenAddress, err)
	}

	srvCfg := s.config.Server
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    srvCfg.ReadTimeout,
		WriteTimeout:   srvCfg.WriteTimeout,
		IdleTimeout:    srvCfg.IdleTimeout,
		MaxHeaderBytes: srvCfg.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.listener = ln
	s.isRunning = true
	s.mu.Unlock()
	close(s.ready)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"address", ln.Addr().String(),
			"stream_path", srvCfg.StreamPath,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		s.logger.Info("shutdown requested")
	}
	return s.Shutdown(context.Background())
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop asks a running Start to shut down.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// Shutdown drains the server. Readiness fails first so load balancers stop
// routing, then queued admissions are rejected and in-flight streams get up
// to the shutdown timeout to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		timeout := s.config.Server.ShutdownTimeout
		s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

		s.deps.Health.SetDraining()
		if s.deps.Admission != nil {
			s.deps.Admission.Close()
		}

		shutdownCtx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("graceful shutdown incomplete, closing connections", "error", err)
			s.httpServer.Close()
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("server stopped")
	})

	return shutdownErr
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	streamPath := s.config.Server.StreamPath
	if streamPath == "" {
		streamPath = config.DefaultStreamPath
	}
	mux.Handle("POST "+streamPath,
		handlers.NewStreamHandler(s.deps.Streamer, s.config.Server.MaxBodyBytes, s.deps.Logger))
	mux.Handle("/v1/conversations/{user}",
		handlers.NewConversationHandler(s.deps.Conversations, s.deps.Logger))

	mux.Handle("GET /health", s.deps.Health.LivenessHandler())
	mux.Handle("GET /ready", s.deps.Health.ReadinessHandler())
	mux.Handle("GET /version", health.VersionHandler(s.deps.Version, s.deps.Commit, s.deps.BuildDate))

	var recorder middleware.RequestRecorder
	if m := s.deps.Metrics; m != nil && m.Enabled() {
		path := s.config.Telemetry.Metrics.Path
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, m.Handler())
		recorder = m
	}

	route := func(r *http.Request) string {
		if _, pattern := mux.Handler(r); pattern != "" {
			return pattern
		}
		return "unmatched"
	}

	// Outermost first: request ID, recovery, logging, identity, trace
	// context, routes.
	var handler http.Handler = mux
	handler = tracing.HTTPMiddleware(handler)
	handler = middleware.IdentityMiddleware(s.config.Identity)(handler)
	handler = middleware.LoggingMiddleware(s.deps.Logger, recorder, route)(handler)
	handler = middleware.RecoveryMiddleware(s.deps.Logger)(handler)
	handler = middleware.RequestIDMiddleware(handler)
	return handler
}
