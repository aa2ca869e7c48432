// Package server provides the headless HTTP API that drives the position
// engine: open, close, and recover hedges, inspect positions and trades, and
// administer the distributed locks.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundarb/internal/server/handler"
	"github.com/alanyoungcy/fundarb/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// DefaultUser, when set, is used as the caller identity for requests
	// that carry no X-User-ID header.
	DefaultUser string
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Locks     *handler.LockHandler
}

// Server is the HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux
// and the logging and CORS middleware applied.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Position lifecycle.
	mux.HandleFunc("POST /api/positions", handlers.Positions.OpenPosition)
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)
	mux.HandleFunc("POST /api/positions/{id}/resume-close", handlers.Positions.ResumePartialClose)
	mux.HandleFunc("GET /api/positions/{id}/trade", handlers.Positions.GetTrade)
	mux.HandleFunc("GET /api/trades", handlers.Positions.ListTrades)

	// Lock administration.
	if handlers.Locks != nil {
		mux.HandleFunc("GET /api/locks", handlers.Locks.ListLocks)
		mux.HandleFunc("DELETE /api/locks/{user}/{symbol}", handlers.Locks.ClearLock)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	if cfg.DefaultUser != "" {
		h = middleware.DefaultUser(cfg.DefaultUser)(h)
	}
	h = middleware.Logging(logger)(h)
	if len(cfg.CORSOrigins) > 0 {
		h = middleware.CORS(cfg.CORSOrigins)(h)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
