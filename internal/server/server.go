package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/thruflo/cc-automator/internal/logging"
	"github.com/thruflo/cc-automator/internal/state"
)

// ProgressSource supplies the progress snapshot served on /progress.
// *state.Store satisfies it.
type ProgressSource interface {
	LoadProgress() (*state.Progress, error)
}

// Server represents the status HTTP server.
type Server struct {
	addr     string
	progress ProgressSource
	metrics  http.Handler

	// HTTP server
	server   *http.Server
	listener net.Listener

	mu      sync.RWMutex
	started bool
}

// Config holds server configuration options.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:9464". Port 0 picks a free port.
	Addr     string
	Progress ProgressSource
	Metrics  http.Handler
}

// NewServer creates a new Server instance.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Addr == "" {
		return nil, errors.New("listen address is required")
	}
	if cfg.Progress == nil {
		return nil, errors.New("progress source is required")
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	return &Server{
		addr:     cfg.Addr,
		progress: cfg.Progress,
		metrics:  metrics,
	}, nil
}

// Start starts the HTTP server.
// The server runs until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		if err := s.Stop(); err != nil {
			logging.Warn("status server shutdown failed", "error", err)
		}
	}()

	logging.Info("status server listening", "addr", listener.Addr().String())

	// Blocks until error or server closed
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.started = false
	return nil
}

// ListenAddr returns the actual address the server is listening on.
// Useful when port 0 is used to get an available port.
// Returns empty string if not started.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return mux
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)
	mux.Handle("/metrics", s.metrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	p, err := s.progress.LoadProgress()
	if err != nil {
		logging.Warn("failed to load progress", "error", err)
		http.Error(w, "failed to load progress", http.StatusInternalServerError)
		return
	}
	if p == nil {
		http.Error(w, "no run in progress", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(p); err != nil {
		logging.Warn("failed to encode progress", "error", err)
	}
}
