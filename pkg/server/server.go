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

	"mercator-hq/ilm/pkg/config"
	"mercator-hq/ilm/pkg/lifecycle/manager"
	"mercator-hq/ilm/pkg/telemetry/health"
	"mercator-hq/ilm/pkg/telemetry/metrics"
	"mercator-hq/ilm/pkg/telemetry/tracing"
)

// Option configures optional Server collaborators.
type Option func(*Server)

// WithHealth serves /health, /ready and /version from checker.
func WithHealth(checker *health.Checker, info health.VersionInfo) Option {
	return func(s *Server) {
		s.checker = checker
		s.version = info
	}
}

// WithMetrics serves the collector's registry at path.
func WithMetrics(c *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = c
		s.metricsPath = path
	}
}

// WithTracer traces every request, continuing the caller's trace.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Server) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source for evaluations and manual cycles.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server is the lifecycle HTTP API.
type Server struct {
	config  *config.ServerConfig
	manager *manager.Manager

	checker     *health.Checker
	version     health.VersionInfo
	metrics     *metrics.Collector
	metricsPath string
	tracer      *tracing.Tracer
	logger      *slog.Logger
	now         func() time.Time

	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// New creates an API server for m.
func New(cfg *config.ServerConfig, m *manager.Manager, opts ...Option) *Server {
	s := &Server{
		config:  cfg,
		manager: m,
		logger:  slog.Default(),
		tracer:  tracing.Disabled(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server, waiting at most the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.RLock()
		running := s.isRunning
		s.mu.RUnlock()
		if !running {
			return
		}

		s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("API server stopped")
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

	mux.HandleFunc("POST /v1/streams/{stream}/writes", s.handleWrite)
	mux.HandleFunc("GET /v1/streams/{stream}/records", s.handleRecords)
	mux.HandleFunc("GET /v1/streams/{stream}/actions", s.handleActions)
	mux.HandleFunc("GET /v1/policies", s.handleListPolicies)
	mux.HandleFunc("GET /v1/policies/{stream}", s.handleGetPolicy)
	mux.HandleFunc("PUT /v1/policies/{stream}", s.handlePutPolicy)
	mux.HandleFunc("DELETE /v1/policies/{stream}", s.handleDeletePolicy)
	mux.HandleFunc("POST /v1/cycles", s.handleRunCycle)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)

	if s.checker != nil {
		health.Register(mux, s.checker, s.version)
	}
	if s.metrics != nil {
		path := s.metricsPath
		if path == "" {
			path = config.DefaultMetricsPath
		}
		mux.Handle("GET "+path, s.metrics.Handler())
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, ErrorTypeNotFound,
			fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})

	return chain(mux, recoverPanics(s.logger), requestID, s.tracer.Middleware, accessLog(s.logger))
}
