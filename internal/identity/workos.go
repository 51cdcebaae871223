package identity

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"

	"github.com/namastexlabs/mcp-hub/internal/configstore"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

const jwksCacheDuration = time.Hour

// WorkOSAuthenticator is the multi-tenant identity adapter backing
// AuthKit-managed login (spec §4.5 WORKOS). Unlike LocalAuthenticator it
// authenticates via a bearer session token minted by CompleteCallback;
// the ID token AuthKit returns at callback time is validated through a
// cached JWKS, mirroring the double-checked-locking cache idiom used for
// OIDC discovery.
type WorkOSAuthenticator struct {
	cfg    *configstore.Store
	db     *store.Manager
	states *StateStore
	sess   *SessionStore
	audit  Auditor

	jwksMu        sync.RWMutex
	jwksCache     jwk.Set
	jwksCacheTime time.Time
	jwksDomain    string
}

func NewWorkOSAuthenticator(cfg *configstore.Store, db *store.Manager, states *StateStore, sess *SessionStore) *WorkOSAuthenticator {
	return &WorkOSAuthenticator{cfg: cfg, db: db, states: states, sess: sess, audit: noopAuditor{}}
}

// SetAuditor wires the audit sink in after construction, so existing
// callers that never set one keep working against the no-op default.
func (a *WorkOSAuthenticator) SetAuditor(auditor Auditor) {
	a.audit = auditor
}

var _ auth.AuthProvider = (*WorkOSAuthenticator)(nil)

// Validate implements mode.WorkOSValidator: performs a lightweight check
// that the AuthKit domain actually serves a JWKS before the credentials
// are persisted by configure_workos/upgrade_to_workos.
func (a *WorkOSAuthenticator) Validate(ctx context.Context, clientID, apiKey, authKitDomain string) error {
	if clientID == "" || authKitDomain == "" {
		return fmt.Errorf("workos client_id and authkit_domain are required")
	}
	_, err := jwk.Fetch(ctx, jwksURL(authKitDomain))
	if err != nil {
		return fmt.Errorf("failed to reach AuthKit JWKS endpoint: %w", err)
	}
	return nil
}

func jwksURL(authKitDomain string) string {
	return strings.TrimSuffix(authKitDomain, "/") + "/oauth2/jwks"
}

func (a *WorkOSAuthenticator) oauthConfig(ctx context.Context, hubBaseURL string) (*oauth2.Config, error) {
	clientID, _, err := a.cfg.Get(configstore.KeyWorkOSClientID)
	if err != nil {
		return nil, err
	}
	domain, _, err := a.cfg.Get(configstore.KeyWorkOSAuthKitDomain)
	if err != nil {
		return nil, err
	}
	domain = strings.TrimSuffix(domain, "/")
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: strings.TrimSuffix(hubBaseURL, "/") + "/api/auth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:  domain + "/oauth2/authorize",
			TokenURL: domain + "/oauth2/token",
		},
		Scopes: []string{"openid", "profile", "email"},
	}, nil
}

// BeginAuthorize implements GET /api/auth/authorize: issues a fresh PKCE
// verifier/state pair and returns the URL to redirect the browser to.
func (a *WorkOSAuthenticator) BeginAuthorize(ctx context.Context, hubBaseURL string) (redirectURL string, err error) {
	cfg, err := a.oauthConfig(ctx, hubBaseURL)
	if err != nil {
		return "", err
	}
	state, err := randomToken()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()
	a.states.Put(state, verifier)
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteCallback implements POST /api/auth/callback: exchanges the
// authorization code, validates the returned ID token against AuthKit's
// JWKS, derives is_super_admin from the persisted allow-list, and mints a
// server-side session (spec §4.5: "Sessions must be server-side").
func (a *WorkOSAuthenticator) CompleteCallback(ctx context.Context, hubBaseURL, code, state string) (sessionToken string, err error) {
	verifier, ok := a.states.Consume(state)
	if !ok {
		a.audit.LoginFailed(ctx, "", "authorization state expired or unknown")
		return "", httperr.NewUnauthenticated("authorization state expired or unknown")
	}
	cfg, err := a.oauthConfig(ctx, hubBaseURL)
	if err != nil {
		return "", err
	}
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		a.audit.LoginFailed(ctx, "", fmt.Sprintf("code exchange failed: %v", err))
		return "", httperr.NewUnauthenticated(fmt.Sprintf("code exchange failed: %v", err))
	}
	idTokenRaw, _ := tok.Extra("id_token").(string)
	if idTokenRaw == "" {
		a.audit.LoginFailed(ctx, "", "callback response did not include an id_token")
		return "", httperr.NewUnauthenticated("callback response did not include an id_token")
	}
	principal, err := a.principalFromIDToken(ctx, idTokenRaw)
	if err != nil {
		a.audit.LoginFailed(ctx, "", fmt.Sprintf("id_token rejected: %v", err))
		return "", err
	}
	a.audit.LoginSucceeded(ctx, principal.WorkspaceID, principal.User.ID, principal.User.Email)
	return a.sess.Create(principal)
}

// Logout implements POST /api/auth/logout: revoking the server-side
// session is what makes logout real, independent of token expiry.
func (a *WorkOSAuthenticator) Logout(sessionToken string) {
	a.sess.Revoke(sessionToken)
}

func (a *WorkOSAuthenticator) Authenticate(ctx context.Context, headers map[string][]string, _ map[string][]string) (auth.Session, error) {
	token := bearerOrCookie(headers)
	if token == "" {
		return nil, httperr.NewUnauthenticated("missing session token")
	}
	p, ok := a.sess.Lookup(token)
	if !ok {
		return nil, httperr.NewUnauthenticated("session expired or unknown")
	}
	return &auth.SimpleSession{P: p}, nil
}

func (a *WorkOSAuthenticator) UpstreamAuth(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

func (a *WorkOSAuthenticator) principalFromIDToken(ctx context.Context, idTokenRaw string) (auth.Principal, error) {
	domain, _, err := a.cfg.Get(configstore.KeyWorkOSAuthKitDomain)
	if err != nil {
		return auth.Principal{}, err
	}
	keySet, err := a.getJWKS(ctx, domain)
	if err != nil {
		return auth.Principal{}, httperr.NewUnauthenticated(fmt.Sprintf("failed to fetch JWKS: %v", err))
	}

	token, err := jwt.ParseString(idTokenRaw, jwt.WithKeySet(keySet), jwt.WithValidate(true))
	if err != nil {
		return auth.Principal{}, httperr.NewUnauthenticated(fmt.Sprintf("id_token validation failed: %v", err))
	}

	email, _ := token.Get("email")
	emailStr, _ := email.(string)
	name, _ := token.Get("name")
	nameStr, _ := name.(string)
	orgID, _ := token.Get("org_id")
	orgIDStr, _ := orgID.(string)

	ws, err := a.resolveWorkspace(orgIDStr)
	if err != nil {
		return auth.Principal{}, err
	}
	u, err := a.upsertUser(ws.ID, token.Subject(), emailStr, nameStr)
	if err != nil {
		return auth.Principal{}, err
	}

	superAdmins, _, err := a.cfg.Get(configstore.KeyWorkOSSuperAdmins)
	if err != nil {
		return auth.Principal{}, err
	}
	isSuperAdmin := containsFoldCSV(superAdmins, emailStr)

	return auth.Principal{
		User:         auth.User{ID: u.ID, WorkspaceID: ws.ID, Email: u.Email, Name: u.DisplayName},
		WorkspaceID:  ws.ID,
		IsSuperAdmin: isSuperAdmin,
	}, nil
}

// resolveWorkspace maps an AuthKit organization to a Workspace, creating
// it on first sign-in. WorkOS mode is multi-tenant, so unlike LOCAL the
// org_id (not a single fixed workspace) determines tenancy.
func (a *WorkOSAuthenticator) resolveWorkspace(orgID string) (*store.Workspace, error) {
	if orgID == "" {
		orgID = "default"
	}
	ws, err := a.db.GetWorkspaceBySlug(orgID)
	if err != nil {
		return nil, err
	}
	if ws != nil {
		return ws, nil
	}
	ws = &store.Workspace{ID: uuid.NewString(), Name: orgID, Slug: orgID}
	if err := a.db.CreateWorkspace(ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (a *WorkOSAuthenticator) upsertUser(workspaceID, subject, email, name string) (*store.User, error) {
	existing, err := a.db.GetUserByEmail(workspaceID, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		_ = a.db.UpdateUserLastSeen(existing.ID, time.Now())
		return existing, nil
	}
	u := &store.User{ID: uuid.NewString(), WorkspaceID: workspaceID, Email: email, DisplayName: name, ExternalSubject: subject}
	if err := a.db.CreateUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// getJWKS mirrors the cached-with-double-checked-locking pattern used for
// OIDC discovery: a read-locked fast path when the cache is fresh, a
// write-locked refresh with a second freshness check afterward.
func (a *WorkOSAuthenticator) getJWKS(ctx context.Context, authKitDomain string) (jwk.Set, error) {
	a.jwksMu.RLock()
	if a.jwksCache != nil && a.jwksDomain == authKitDomain && time.Since(a.jwksCacheTime) < jwksCacheDuration {
		defer a.jwksMu.RUnlock()
		return a.jwksCache, nil
	}
	a.jwksMu.RUnlock()

	a.jwksMu.Lock()
	defer a.jwksMu.Unlock()
	if a.jwksCache != nil && a.jwksDomain == authKitDomain && time.Since(a.jwksCacheTime) < jwksCacheDuration {
		return a.jwksCache, nil
	}

	keySet, err := jwk.Fetch(ctx, jwksURL(authKitDomain))
	if err != nil {
		return nil, err
	}
	a.jwksCache = keySet
	a.jwksCacheTime = time.Now()
	a.jwksDomain = authKitDomain
	return keySet, nil
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func bearerOrCookie(headers map[string][]string) string {
	for _, v := range headers["Authorization"] {
		if strings.HasPrefix(v, "Bearer ") {
			return strings.TrimPrefix(v, "Bearer ")
		}
	}
	for _, v := range headers["Cookie"] {
		for _, pair := range strings.Split(v, ";") {
			pair = strings.TrimSpace(pair)
			if strings.HasPrefix(pair, "hub_session=") {
				return strings.TrimPrefix(pair, "hub_session=")
			}
		}
	}
	return ""
}

func containsFoldCSV(csv, email string) bool {
	if csv == "" || email == "" {
		return false
	}
	for _, e := range strings.Split(csv, ",") {
		if strings.EqualFold(strings.TrimSpace(e), email) {
			return true
		}
	}
	return false
}
