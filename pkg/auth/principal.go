// Package auth defines the Principal/Session contract shared by every
// identity adapter (internal/identity) and consumed by the permission
// checker (internal/permissions), tenancy resolver (internal/tenancy),
// and the front door's middleware chain.
package auth

import "context"

// User is the authenticated end-user a request is attributed to.
type User struct {
	ID          string
	WorkspaceID string
	Email       string
	Name        string
	Roles       []string
}

// Agent identifies the calling agent identity when an MCP session
// declares one (see SPEC_FULL.md Open Question 2).
type Agent struct {
	ID        string
	ProjectID string
}

// Principal is the authenticated actor attached to a request.
type Principal struct {
	User         User
	WorkspaceID  string
	IsSuperAdmin bool
	Groups       []string
	Agent        *Agent
	Claims       map[string]any
}

// Session is the per-request handle an Authenticator produces; it is
// cheap to keep around for the lifetime of one request.
type Session interface {
	Principal() Principal
}

// SimpleSession is a Session over a fixed Principal, the common case for
// every adapter that doesn't need lazy claim resolution.
type SimpleSession struct {
	P Principal
}

func (s *SimpleSession) Principal() Principal { return s.P }

// AuthProvider authenticates incoming HTTP requests and, where the
// transport requires it, produces headers to forward to an upstream.
type AuthProvider interface {
	// Authenticate inspects request headers/cookies and returns a Session
	// or an *httperr.Error of kind Unauthenticated.
	Authenticate(ctx context.Context, headers map[string][]string, query map[string][]string) (Session, error)
	// UpstreamAuth returns headers to attach when the Hub itself calls out
	// (e.g. propagating trace/session context to a child tool server).
	UpstreamAuth(ctx context.Context) (map[string]string, error)
}

type sessionKey struct{}

// WithSession attaches a Session to ctx for downstream handlers.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// AuthSessionFrom extracts the Session attached by the authenticator
// middleware, if any.
func AuthSessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
