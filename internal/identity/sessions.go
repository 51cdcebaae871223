package identity

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// SessionStore holds server-side sessions keyed by an opaque cookie
// value, so logout is real (spec §4.5: "Sessions must be server-side
// (not JWT alone)"). Single-node, in-memory, matching C2's "single-node
// by default" scope — a restart invalidates sessions, which is
// acceptable for a deployment of this scale and forces a fresh login
// rather than trusting a stale signed token.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]sessionEntry
	ttl      time.Duration
}

type sessionEntry struct {
	principal auth.Principal
	expiresAt time.Time
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{sessions: make(map[string]sessionEntry), ttl: ttl}
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Create issues a new session token for p.
func (s *SessionStore) Create(p auth.Principal) (token string, err error) {
	token, err = newToken()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sessionEntry{principal: p, expiresAt: time.Now().Add(s.ttl)}
	return token, nil
}

// Lookup returns the Principal for a token, or ok=false if missing or
// expired (treated as Unauthenticated by the caller).
func (s *SessionStore) Lookup(token string) (auth.Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[token]
	if !ok || time.Now().After(e.expiresAt) {
		delete(s.sessions, token)
		return auth.Principal{}, false
	}
	return e.principal, true
}

// Revoke deletes a session immediately (logout).
func (s *SessionStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// stateEntry backs the OAuth authorize/callback state TTL (spec §4.5:
// "bounded state TTL (default 10 minutes)").
type stateEntry struct {
	verifier  string
	expiresAt time.Time
}

type StateStore struct {
	mu    sync.Mutex
	state map[string]stateEntry
	ttl   time.Duration
}

func NewStateStore(ttl time.Duration) *StateStore {
	return &StateStore{state: make(map[string]stateEntry), ttl: ttl}
}

func (s *StateStore) Put(state, pkceVerifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[state] = stateEntry{verifier: pkceVerifier, expiresAt: time.Now().Add(s.ttl)}
}

// Consume returns the PKCE verifier for state and deletes it — state is
// single-use. ok is false if the state is unknown or its TTL expired;
// CompleteCallback reports both cases as the same Unauthenticated error,
// with no separate error kind for an expired state.
func (s *StateStore) Consume(state string) (verifier string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.state[state]
	delete(s.state, state)
	if !found || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.verifier, true
}
