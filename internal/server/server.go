// Package server exposes the module registry and the execution supervisor
// over HTTP. The server is importable so tests can start and stop it on a
// random port without going through main.
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

	"github.com/dkoosis/cukedash/internal/execution"
	"github.com/dkoosis/cukedash/internal/registry"
	"github.com/dkoosis/cukedash/pkg/gherkin"
)

// Config holds server configuration options.
type Config struct {
	Addr        string        // Listen address (e.g., ":3001" or ":0" for random port)
	ReadTimeout time.Duration // HTTP read timeout
	// KeepAlive is the interval between SSE comment frames.
	KeepAlive   time.Duration
	ResultsFile string // cucumber JSON report read by /api/tests/results
	// Headless is used when a run request leaves "headless" out.
	Headless bool
	Version  string
	// HistoryLimit caps archived executions returned by /api/tests/history.
	HistoryLimit int
}

// DefaultConfig returns a configuration suitable for testing.
// Uses ":0" to bind to a random available port.
func DefaultConfig() Config {
	return Config{
		Addr:         ":0",
		ReadTimeout:  30 * time.Second,
		KeepAlive:    15 * time.Second,
		ResultsFile:  "test_results.json",
		Headless:     true,
		Version:      "dev",
		HistoryLimit: 100,
	}
}

// Modules is the read side of the module registry.
type Modules interface {
	Discover(ctx context.Context) ([]registry.Module, error)
	Find(ctx context.Context, id string) (registry.Module, error)
	Features(ctx context.Context) ([]gherkin.Feature, error)
}

// Enricher adds issue tracker data to modules.
type Enricher interface {
	Enrich(ctx context.Context, modules []registry.Module) []registry.Module
}

// Archive lists executions persisted across restarts.
type Archive interface {
	List(ctx context.Context, limit int) ([]execution.Record, error)
}

// Deps are the collaborators the handlers call. Tracker and Archive are
// optional.
type Deps struct {
	Modules Modules
	Service *execution.Service
	Tracker Enricher
	Archive Archive
	Logger  *slog.Logger
}

// Server is the dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	addr       string
	mu         sync.Mutex
	running    bool
	logger     *slog.Logger
}

// NewServer creates a new server with the given configuration.
// The server is not started until Start() is called.
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.Modules == nil || deps.Service == nil {
		return nil, errors.New("server requires a module registry and an execution service")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}

	h := &handlers{cfg: cfg, deps: deps, logger: deps.Logger, quit: make(chan struct{})}

	// WriteTimeout stays zero: SSE responses live as long as the run.
	httpServer := &http.Server{
		Addr:        cfg.Addr,
		Handler:     h.routes(),
		ReadTimeout: cfg.ReadTimeout,
	}
	// Shutdown waits for idle connections; streams must end first.
	httpServer.RegisterOnShutdown(h.closeStreams)

	return &Server{httpServer: httpServer, logger: deps.Logger}, nil
}

// Handler returns the routed handler, for httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests.
// Returns the actual address the server is listening on (useful when port is 0).
// This method is non-blocking - the server runs in a goroutine.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = ln
	s.addr = ln.Addr().String()
	s.running = true

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()

	return s.addr, nil
}

// Shutdown gracefully shuts down the server. Open SSE streams are ended
// first so idle connections can drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	// draining can take until ctx ends; Addr must stay answerable meanwhile
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return s.httpServer.Close()
	}
	return err
}

// Addr returns the address the server is listening on.
// Returns empty string if server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
