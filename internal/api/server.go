package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/radio-control/daxiq/internal/auth"
)

// Deps are the collaborators served by the API. Only Session is required.
type Deps struct {
	Session   SessionPort
	Telemetry TelemetryPort
	Feed      *IQFeed
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Auth    *auth.Middleware
}

// Server represents the HTTP API server.
type Server struct {
	httpServer  *http.Server
	deps        Deps
	startTime   time.Time
	readTimeout time.Duration
	idleTimeout time.Duration
}

// NewServer creates a new API server. There is no write timeout: the
// telemetry and IQ endpoints hold their responses open.
func NewServer(deps Deps, readTimeout, idleTimeout time.Duration) *Server {
	if deps.Auth == nil {
		deps.Auth = auth.NewMiddleware()
	}
	return &Server{
		deps:        deps,
		startTime:   time.Now(),
		readTimeout: readTimeout,
		idleTimeout: idleTimeout,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Start serves on addr until Stop.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.readTimeout,
		IdleTimeout: s.idleTimeout,
	}
	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
