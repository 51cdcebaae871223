package httpserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// statusResponseWriter wraps http.ResponseWriter to capture the status code
// written by the handler, for access logging and metrics.
type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

var _ http.Flusher = &statusResponseWriter{}

func newStatusResponseWriter(w http.ResponseWriter) *statusResponseWriter {
	return &statusResponseWriter{w, http.StatusOK}
}

func (w *statusResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// requestIDMiddleware assigns a correlation ID to every request, honoring
// an inbound X-Request-ID so a reverse proxy's ID survives end to end.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// accessLogMiddleware logs one structured line per request: method, path,
// status, duration, request ID. Never logs headers or bodies.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := newStatusResponseWriter(w)
		next.ServeHTTP(ww, r)
		s.log.V(1).Info("request completed",
			"request_id", RequestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration", time.Since(start).String(),
		)
	})
}

// modeGateMiddleware rejects every non-setup route until the Hub has been
// bootstrapped into local or WorkOS mode (spec §4.13's ordering: mode gate
// runs before the authenticator, since there is nothing to authenticate
// against in UNCONFIGURED mode).
func (s *Server) modeGateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := s.modeMgr.Current()
		if err != nil {
			httperr.WriteJSON(w, httperr.NewInternal("failed to resolve app mode", err))
			return
		}
		if m == store.ModeUnconfigured {
			httperr.WriteJSON(w, httperr.NewSetupRequired("/setup"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the caller's auth.Principal via the configured
// AuthProvider and attaches it to the request context. Accepts both a
// Bearer token and a session cookie, per the dispatch rules in
// internal/identity.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.authProvider.Authenticate(r.Context(), r.Header, r.URL.Query())
		if err != nil {
			httperr.WriteJSON(w, err)
			return
		}
		ctx := auth.WithSession(r.Context(), sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// workspaceMiddleware resolves and attaches the caller's Workspace, so
// handlers never have to re-derive tenancy from the principal.
func (s *Server) workspaceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := auth.AuthSessionFrom(r.Context())
		if !ok {
			httperr.WriteJSON(w, httperr.NewUnauthenticated("no session"))
			return
		}
		ws, err := s.tenancy.Resolve(r.Context(), sess.Principal())
		if err != nil {
			httperr.WriteJSON(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withWorkspace(r.Context(), ws)))
	})
}

// isStateChanging reports whether a method can mutate server state, the
// set CSRF protection cares about.
func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

// usedCookieAuth reports whether the request carries session-cookie
// credentials rather than a bearer token. A cross-site form post or image
// tag can ride a cookie automatically but cannot set a custom header, so
// requiring one on cookie-authenticated mutations defeats CSRF without a
// separate token to issue and validate.
func usedCookieAuth(r *http.Request) bool {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return false
	}
	return r.Header.Get("Cookie") != ""
}

// csrfMiddleware requires a custom header on cookie-authenticated
// mutations. Bearer-token callers (CLIs, the MCP clients) are exempt —
// they cannot be driven by a browser's ambient credentials.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isStateChanging(r.Method) && usedCookieAuth(r) && r.Header.Get("X-Requested-With") == "" {
			httperr.WriteJSON(w, httperr.NewForbidden("missing X-Requested-With header on cookie-authenticated mutation"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
