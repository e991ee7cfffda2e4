// Package httpapi is the versioned HTTP surface over the command and query
// handlers. All bodies are JSON; failures use the uniform error envelope.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/eventfold/userd/pkg/app"
	"github.com/eventfold/userd/pkg/auth"
)

// Server serves the /v1 API and implements runner.Service.
type Server struct {
	addr          string
	commands      *app.Commands
	queries       *app.Queries
	authenticator *auth.Authenticator
	tokens        *auth.Tokens
	logger        *slog.Logger
	corsOrigins   []string
	allowedHosts  []string

	httpServer *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithAddr sets the listen address. Default ":8000".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins allows cross-origin calls from the listed origins, or from
// anywhere with "*". Empty (the default) disables CORS.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithAllowedHosts restricts the Host header to the listed values. Empty
// (the default) accepts any host.
func WithAllowedHosts(hosts []string) Option {
	return func(s *Server) { s.allowedHosts = hosts }
}

// NewServer creates the API server.
func NewServer(commands *app.Commands, queries *app.Queries, authenticator *auth.Authenticator, tokens *auth.Tokens, opts ...Option) *Server {
	s := &Server{
		addr:          ":8000",
		commands:      commands,
		queries:       queries,
		authenticator: authenticator,
		tokens:        tokens,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login/{$}", s.handleLogin)

	mux.HandleFunc("POST /v1/users/{$}", s.requireScope(auth.ScopeUserCreate, s.handleCreateUser))
	mux.HandleFunc("GET /v1/users/{$}", s.requireScope(auth.ScopeUserRead, s.handleListUsers))
	mux.HandleFunc("GET /v1/users/{id}/{$}", s.requireScope(auth.ScopeUserRead, s.handleGetUser))
	mux.HandleFunc("GET /v1/users/{id}/history/{$}", s.requireScope(auth.ScopeUserRead, s.handleUserHistory))
	mux.HandleFunc("PUT /v1/users/{id}/{$}", s.requireScope(auth.ScopeUserUpdate, s.handleUpdateUser))
	mux.HandleFunc("PUT /v1/users/{id}/password/{$}", s.requireScope(auth.ScopeUserUpdate, s.handleChangePassword))
	mux.HandleFunc("DELETE /v1/users/{id}/{$}", s.requireScope(auth.ScopeUserDelete, s.handleDeleteUser))

	return s.recoverPanics(s.logRequests(s.restrictHosts(s.allowCORS(mux))))
}

// Name implements runner.Service.
func (s *Server) Name() string { return "http-server" }

// Start begins serving. It returns once the listener is up; serve errors
// after that are logged, not returned.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", slog.Any("error", err))
			errCh <- err
		}
	}()

	// Give an immediately failing listen (port in use) a chance to surface.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		s.logger.Info("http server listening", slog.String("addr", s.addr))
		return nil
	}
}

// Stop drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
