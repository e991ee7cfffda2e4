package httpapi

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/eventfold/userd/pkg/auth"
)

type contextKey struct{}

var principalKey contextKey

// principalFrom returns the authenticated principal attached by requireAuth.
func principalFrom(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	return p, ok
}

// requireAuth verifies the bearer token and attaches the principal.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeUnauthorized(w, "missing bearer token")
			return
		}

		principal, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next(w, r.WithContext(ctx))
	}
}

// requireScope gates the handler on a token scope. Runs inside requireAuth.
func (s *Server) requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFrom(r.Context())
		if !ok || !principal.HasScope(scope) {
			writeForbidden(w, "insufficient permissions")
			return
		}
		next(w, r)
	})
}

// restrictHosts rejects requests whose Host header is not on the configured
// list. An empty list accepts everything.
func (s *Server) restrictHosts(next http.Handler) http.Handler {
	if len(s.allowedHosts) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		for _, allowed := range s.allowedHosts {
			if host == allowed {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeBadRequest(w, "host not allowed")
	})
}

// allowCORS answers preflight requests and marks responses for the
// configured origins. Nothing else changes: authorization still happens per
// request via the bearer token.
func (s *Server) allowCORS(next http.Handler) http.Handler {
	if len(s.corsOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// recoverPanics converts a handler panic into a 500 envelope.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in handler",
					"path", r.URL.Path,
					"panic", rec)
				writeEnvelope(w, http.StatusInternalServerError, categoryInternal,
					"internal server error", nil, "InternalError")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// logRequests emits one line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
