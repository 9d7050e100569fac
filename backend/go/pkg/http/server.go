package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Server wraps http.Server with option-based configuration and graceful shutdown.
type Server struct {
	httpServer *http.Server
}

// ServerOption defines a function for configuring a Server.
type ServerOption func(*Server)

// WithAddress sets the address for the server to listen on.
func WithAddress(addr string) ServerOption {
	return func(s *Server) {
		s.httpServer.Addr = addr
	}
}

// WithWriteTimeout overrides the write timeout. Streaming chat responses need
// this to exceed the chat timeout.
func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		s.httpServer.WriteTimeout = d
	}
}

// NewServer creates a Server serving handler (typically a *gin.Engine).
func NewServer(handler http.Handler, opts ...ServerOption) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is nil")
	}
	srv := &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      150 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.httpServer.Addr == "" {
		srv.httpServer.Addr = ":8080"
	}
	return srv, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// ListenAndServe starts the HTTP server. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
