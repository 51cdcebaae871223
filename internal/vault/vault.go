// Package vault implements C8: the per-user credential vault storing
// API keys and OAuth2 token sets, sealed at rest via internal/crypto.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

// tokenExpiryGrace matches spec §4.8: a token within 60s of expiry is
// treated as already expired, forcing a refresh before it actually lapses.
const tokenExpiryGrace = 60 * time.Second

const oauthStateTTL = 10 * time.Minute

// ProviderRegistry resolves a provider name to its OAuth2 client
// configuration. StaticProviderRegistry is the map-backed implementation;
// cmd/hub wires an empty one, so no provider credentials are loaded at
// startup.
type ProviderRegistry interface {
	Get(provider string) (oauth2.Config, bool)
}

type StaticProviderRegistry map[string]oauth2.Config

func (r StaticProviderRegistry) Get(provider string) (oauth2.Config, bool) {
	cfg, ok := r[provider]
	return cfg, ok
}

// Auditor is the narrow slice of internal/audit.Logger this package
// needs, kept local so vault never imports audit directly.
type Auditor interface {
	TokenIssued(ctx context.Context, workspaceID, userID, provider string)
	TokenRefreshed(ctx context.Context, userID, provider string)
	TokenRevoked(ctx context.Context, userID, provider string)
	CredentialWritten(ctx context.Context, userID, provider string)
}

type noopAuditor struct{}

func (noopAuditor) TokenIssued(context.Context, string, string, string) {}
func (noopAuditor) TokenRefreshed(context.Context, string, string)      {}
func (noopAuditor) TokenRevoked(context.Context, string, string)        {}
func (noopAuditor) CredentialWritten(context.Context, string, string)   {}

// refreshBackoff is the delay schedule between oauth_refresh_failed
// retries (spec §7): two retries, 250ms then 1s.
var refreshBackoff = []time.Duration{250 * time.Millisecond, time.Second}

type Vault struct {
	db        *store.Manager
	sealer    *crypto.Sealer
	providers ProviderRegistry
	audit     Auditor

	sf singleflight.Group

	stateMu sync.Mutex
	state   map[string]oauthState

	// sleep is refreshBackoff's clock, overridden in tests to avoid
	// waiting out the real delay schedule.
	sleep func(time.Duration)
}

type oauthState struct {
	userID      string
	provider    string
	scopes      []string
	pkceVerifer string
	expiresAt   time.Time
}

func New(db *store.Manager, sealer *crypto.Sealer, providers ProviderRegistry) *Vault {
	return &Vault{db: db, sealer: sealer, providers: providers, audit: noopAuditor{}, state: make(map[string]oauthState), sleep: time.Sleep}
}

// SetAuditor wires the audit sink in after construction, so existing
// callers that never set one keep working against the no-op default.
func (v *Vault) SetAuditor(auditor Auditor) {
	v.audit = auditor
}

// PutAPIKey implements put_api_key: seals and upserts a plain API key
// credential, replacing whatever was previously stored for (user, provider).
func (v *Vault) PutAPIKey(workspaceID, userID, provider, secret string) error {
	sealed, err := v.sealer.Seal([]byte(secret))
	if err != nil {
		return httperr.NewCryptoError(err)
	}
	if err := v.db.UpsertCredential(&store.Credential{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		UserID:       userID,
		Provider:     provider,
		Kind:         store.CredentialAPIKey,
		SealedSecret: sealed,
		IssuedAt:     time.Now(),
		UpdatedAt:    time.Now(),
	}); err != nil {
		return err
	}
	v.audit.CredentialWritten(context.Background(), userID, provider)
	return nil
}

// GetAPIKey implements get_api_key.
func (v *Vault) GetAPIKey(userID, provider string) (string, error) {
	cred, err := v.db.GetCredential(userID, provider)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.Kind != store.CredentialAPIKey {
		return "", httperr.NewNotFound("no api key stored for provider " + provider)
	}
	plaintext, err := v.sealer.Open(cred.SealedSecret)
	if err != nil {
		return "", httperr.NewCryptoError(err)
	}
	return string(plaintext), nil
}

// StartOAuth implements start_oauth: binds state to (user_id, provider,
// scopes) with a 10 minute TTL and returns the URL to send the user to.
func (v *Vault) StartOAuth(userID, provider string, scopes []string) (authorizeURL string, err error) {
	cfg, ok := v.providers.Get(provider)
	if !ok {
		return "", httperr.NewNotFound("unknown oauth provider " + provider)
	}
	cfg.Scopes = scopes

	state, err := randomState()
	if err != nil {
		return "", err
	}
	verifier := oauth2.GenerateVerifier()

	v.stateMu.Lock()
	v.state[state] = oauthState{userID: userID, provider: provider, scopes: scopes, pkceVerifer: verifier, expiresAt: time.Now().Add(oauthStateTTL)}
	v.stateMu.Unlock()

	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// CompleteOAuth implements complete_oauth: exchanges the code at the
// provider and replaces any previous token for (user, provider).
func (v *Vault) CompleteOAuth(ctx context.Context, state, code string) error {
	st, ok := v.consumeState(state)
	if !ok {
		return httperr.NewUnauthenticated("oauth state expired or unknown")
	}
	cfg, ok := v.providers.Get(st.provider)
	if !ok {
		return httperr.NewNotFound("unknown oauth provider " + st.provider)
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(st.pkceVerifer))
	if err != nil {
		return httperr.NewBadRequest("oauth code exchange failed", err)
	}
	if err := v.persistToken(st.userID, st.provider, st.scopes, tok); err != nil {
		return err
	}
	v.audit.TokenIssued(ctx, "", st.userID, st.provider)
	return nil
}

func (v *Vault) persistToken(userID, provider string, scopes []string, tok *oauth2.Token) error {
	sealedAccess, err := v.sealer.Seal([]byte(tok.AccessToken))
	if err != nil {
		return httperr.NewCryptoError(err)
	}
	var sealedRefresh []byte
	if tok.RefreshToken != "" {
		sealedRefresh, err = v.sealer.Seal([]byte(tok.RefreshToken))
		if err != nil {
			return httperr.NewCryptoError(err)
		}
	}
	var expiresAt *time.Time
	if !tok.Expiry.IsZero() {
		e := tok.Expiry
		expiresAt = &e
	}
	cred, err := v.db.GetCredential(userID, provider)
	if err != nil {
		return err
	}
	workspaceID := ""
	id := uuid.NewString()
	if cred != nil {
		workspaceID = cred.WorkspaceID
		id = cred.ID
	}
	return v.db.UpsertCredential(&store.Credential{
		ID:            id,
		WorkspaceID:   workspaceID,
		UserID:        userID,
		Provider:      provider,
		Kind:          store.CredentialOAuth2,
		SealedAccess:  sealedAccess,
		SealedRefresh: sealedRefresh,
		ExpiresAt:     expiresAt,
		Scopes:        strings.Join(scopes, " "),
		IssuedAt:      time.Now(),
		UpdatedAt:     time.Now(),
	})
}

// GetOAuth implements get_oauth: returns a live access token, refreshing
// at the provider when expired (coalesced via singleflight per spec §4.8/
// §8 invariant 6), or fails ReauthRequired when no refresh path exists.
func (v *Vault) GetOAuth(ctx context.Context, userID, provider string, requiredScopes []string) (string, error) {
	cred, err := v.db.GetCredential(userID, provider)
	if err != nil {
		return "", err
	}
	if cred == nil || cred.Kind != store.CredentialOAuth2 {
		return "", v.reauthRequired(userID, provider, requiredScopes)
	}
	have := strings.Fields(cred.Scopes)
	if !scopesSatisfy(have, requiredScopes) {
		return "", v.reauthRequired(userID, provider, requiredScopes)
	}
	if cred.ExpiresAt != nil && time.Until(*cred.ExpiresAt) > tokenExpiryGrace {
		plaintext, err := v.sealer.Open(cred.SealedAccess)
		if err != nil {
			return "", httperr.NewCryptoError(err)
		}
		return string(plaintext), nil
	}
	if len(cred.SealedRefresh) == 0 {
		return "", v.reauthRequired(userID, provider, requiredScopes)
	}

	key := userID + "|" + provider
	result, err, _ := v.sf.Do(key, func() (any, error) {
		return v.refresh(ctx, userID, provider, cred)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// refresh exchanges the stored refresh token for a new access token at
// the provider. Provider refusal (invalid_grant etc.) marks the
// credential NeedsReauth immediately by deleting it — retrying a
// definitive rejection wastes time and won't succeed. A transient
// network/5xx error is retried up to len(refreshBackoff) times with the
// 250ms/1s backoff from spec §7; tokens are left untouched throughout,
// and if every attempt fails the caller still gets NeedsReauth rather
// than a bare tool error, since a hub client can't distinguish "retry
// later yourself" from "the token is actually dead".
func (v *Vault) refresh(ctx context.Context, userID, provider string, cred *store.Credential) (string, error) {
	cfg, ok := v.providers.Get(provider)
	if !ok {
		return "", httperr.NewNotFound("unknown oauth provider " + provider)
	}
	refreshPlain, err := v.sealer.Open(cred.SealedRefresh)
	if err != nil {
		return "", httperr.NewCryptoError(err)
	}
	src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: string(refreshPlain)})

	for attempt := 0; ; attempt++ {
		newTok, err := src.Token()
		if err == nil {
			if err := v.persistToken(userID, provider, strings.Fields(cred.Scopes), newTok); err != nil {
				return "", err
			}
			v.audit.TokenRefreshed(ctx, userID, provider)
			return newTok.AccessToken, nil
		}
		if isProviderRefusal(err) {
			_ = v.db.DeleteCredential(userID, provider)
			return "", httperr.NewReauthRequired(provider, strings.Fields(cred.Scopes), "")
		}
		if attempt >= len(refreshBackoff) {
			return "", httperr.NewReauthRequired(provider, strings.Fields(cred.Scopes), "")
		}
		select {
		case <-ctx.Done():
			return "", httperr.NewToolError("oauth_refresh_failed", ctx.Err())
		default:
		}
		v.sleep(refreshBackoff[attempt])
	}
}

// Revoke implements revoke: best-effort revocation at the provider
// (swallowed on failure — the local delete is the half that must succeed),
// then deletes the local credential.
func (v *Vault) Revoke(ctx context.Context, userID, provider string) error {
	cred, err := v.db.GetCredential(userID, provider)
	if err != nil {
		return err
	}
	if cred != nil && cred.Kind == store.CredentialOAuth2 {
		if cfg, ok := v.providers.Get(provider); ok {
			if plaintext, err := v.sealer.Open(cred.SealedAccess); err == nil {
				revokeAtProvider(ctx, cfg, string(plaintext))
			}
		}
	}
	if err := v.db.DeleteCredential(userID, provider); err != nil {
		return err
	}
	v.audit.TokenRevoked(ctx, userID, provider)
	return nil
}

func (v *Vault) reauthRequired(userID, provider string, requiredScopes []string) error {
	authorizeURL, err := v.StartOAuth(userID, provider, requiredScopes)
	if err != nil {
		return httperr.NewReauthRequired(provider, requiredScopes, "")
	}
	return httperr.NewReauthRequired(provider, requiredScopes, authorizeURL)
}

func (v *Vault) consumeState(state string) (oauthState, bool) {
	v.stateMu.Lock()
	defer v.stateMu.Unlock()
	st, ok := v.state[state]
	delete(v.state, state)
	if !ok || time.Now().After(st.expiresAt) {
		return oauthState{}, false
	}
	return st, true
}

func scopesSatisfy(have, required []string) bool {
	haveSet := make(map[string]bool, len(have))
	for _, s := range have {
		haveSet[s] = true
	}
	for _, r := range required {
		if !haveSet[r] {
			return false
		}
	}
	return true
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
