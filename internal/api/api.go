// Package api provides HTTP handlers and the main API server for the
// conversation orchestration engine.
//
// It exposes RESTful endpoints for chat turns, conversation history, task
// listing, zone control, the analysis audit trail, and full state reset.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hareem123931/mr-french/internal/flow"
)

// Default server configuration constants
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout guards against slow-header clients.
	DefaultReadHeaderTimeout = 5 * time.Second
)

// Opts holds API server configuration.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the server listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server hosts the engine's HTTP endpoints.
type Server struct {
	orchestrator *flow.ConversationOrchestrator
	httpServer   *http.Server
}

// NewServer creates an API server around the orchestrator.
func NewServer(orchestrator *flow.ConversationOrchestrator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{orchestrator: orchestrator}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.healthHandler)
	mux.HandleFunc("POST /chat", s.chatHandler)
	mux.HandleFunc("GET /chat/{channel}/history", s.historyHandler)
	mux.HandleFunc("GET /tasks", s.tasksHandler)
	mux.HandleFunc("GET /zone", s.getZoneHandler)
	mux.HandleFunc("POST /zone", s.postZoneHandler)
	mux.HandleFunc("GET /analysis-logs", s.analysisLogsHandler)
	mux.HandleFunc("DELETE /reset", s.resetHandler)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	return s
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("Server.Run: shut down cleanly")
	return nil
}

// Handler exposes the server's routes, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
