package vault

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

func setupTestVault(t *testing.T, providers ProviderRegistry) (*Vault, *store.Manager) {
	t.Helper()
	db, err := store.NewManager(&store.Config{DatabaseType: store.DatabaseTypeSqlite, SqlitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(salt)
	require.NoError(t, err)

	return New(db, sealer, providers), db
}

func TestPutGetAPIKey(t *testing.T) {
	v, _ := setupTestVault(t, StaticProviderRegistry{})

	require.NoError(t, v.PutAPIKey("ws-1", "u1", "openai", "sk-secret"))

	got, err := v.GetAPIKey("u1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", got)

	require.NoError(t, v.PutAPIKey("ws-1", "u1", "openai", "sk-rotated"))
	got, err = v.GetAPIKey("u1", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-rotated", got, "put_api_key must replace the previous secret")
}

func TestGetAPIKeyNotFound(t *testing.T) {
	v, _ := setupTestVault(t, StaticProviderRegistry{})
	_, err := v.GetAPIKey("u1", "openai")
	require.Error(t, err)
	var herr *httperr.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, httperr.KindNotFound, herr.K)
}

// fakeOAuthProvider serves a minimal authorization_code + refresh_token
// token endpoint so CompleteOAuth/GetOAuth exercise a real HTTP round trip.
func fakeOAuthProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"token_type":    "Bearer",
				"expires_in":    3600,
			})
		case "refresh_token":
			if r.Form.Get("refresh_token") != "refresh-1" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	return httptest.NewServer(mux)
}

func TestOAuthFullLifecycle(t *testing.T) {
	srv := fakeOAuthProvider(t)
	t.Cleanup(srv.Close)

	providers := StaticProviderRegistry{
		"gmail": {
			ClientID: "client-1",
			Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"},
		},
	}
	v, _ := setupTestVault(t, providers)

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	assert.Contains(t, authorizeURL, srv.URL)

	state := extractState(t, authorizeURL)
	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))

	token, err := v.GetOAuth(context.Background(), "u1", "gmail", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
}

func TestOAuthReauthRequiredWhenMissingScopes(t *testing.T) {
	srv := fakeOAuthProvider(t)
	t.Cleanup(srv.Close)
	providers := StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v, _ := setupTestVault(t, providers)

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	state := extractState(t, authorizeURL)
	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))

	_, err = v.GetOAuth(context.Background(), "u1", "gmail", []string{"read", "write"})
	require.Error(t, err)
	var herr *httperr.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, httperr.KindReauthRequired, herr.K)
}

func TestOAuthStateSingleUse(t *testing.T) {
	srv := fakeOAuthProvider(t)
	t.Cleanup(srv.Close)
	providers := StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v, _ := setupTestVault(t, providers)

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	state := extractState(t, authorizeURL)

	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))
	err = v.CompleteOAuth(context.Background(), state, "auth-code-1")
	require.Error(t, err)
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	srv := fakeOAuthProvider(t)
	t.Cleanup(srv.Close)
	providers := StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v, db := setupTestVault(t, providers)

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	state := extractState(t, authorizeURL)
	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))

	// Force the stored token to look already-expired so GetOAuth refreshes.
	cred, err := db.GetCredential("u1", "gmail")
	require.NoError(t, err)
	expired := time.Now().Add(-time.Minute)
	cred.ExpiresAt = &expired
	require.NoError(t, db.UpsertCredential(cred))

	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		go func() {
			tok, err := v.GetOAuth(context.Background(), "u1", "gmail", []string{"read"})
			require.NoError(t, err)
			results <- tok
		}()
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, "access-2", <-results)
	}
}

// TestRefreshRetriesTransientFailureBeforeSucceeding exercises the
// 250ms/1s backoff: the token endpoint returns a transient 500 twice,
// then succeeds on the third attempt, which must still produce a live
// token rather than surfacing NeedsReauth.
func TestRefreshRetriesTransientFailureBeforeSucceeding(t *testing.T) {
	var calls int
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-1", "refresh_token": "refresh-1",
				"token_type": "Bearer", "expires_in": 3600,
			})
		case "refresh_token":
			calls++
			if calls <= 2 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-2", "token_type": "Bearer", "expires_in": 3600,
			})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	providers := StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v, db := setupTestVault(t, providers)
	v.sleep = func(time.Duration) {}

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	state := extractState(t, authorizeURL)
	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))

	cred, err := db.GetCredential("u1", "gmail")
	require.NoError(t, err)
	expired := time.Now().Add(-time.Minute)
	cred.ExpiresAt = &expired
	require.NoError(t, db.UpsertCredential(cred))

	token, err := v.GetOAuth(context.Background(), "u1", "gmail", []string{"read"})
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, 3, calls, "must attempt the initial call plus both retries before succeeding")
}

// TestRefreshSurfacesReauthAfterExhaustingRetries confirms that once the
// retry budget is spent on a persistently transient failure, GetOAuth
// surfaces NeedsReauth rather than a bare tool error.
func TestRefreshSurfacesReauthAfterExhaustingRetries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"access_token": "access-1", "refresh_token": "refresh-1",
				"token_type": "Bearer", "expires_in": 3600,
			})
		case "refresh_token":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	providers := StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v, db := setupTestVault(t, providers)
	v.sleep = func(time.Duration) {}

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	state := extractState(t, authorizeURL)
	require.NoError(t, v.CompleteOAuth(context.Background(), state, "auth-code-1"))

	cred, err := db.GetCredential("u1", "gmail")
	require.NoError(t, err)
	expired := time.Now().Add(-time.Minute)
	cred.ExpiresAt = &expired
	require.NoError(t, db.UpsertCredential(cred))

	_, err = v.GetOAuth(context.Background(), "u1", "gmail", []string{"read"})
	require.Error(t, err)
	var herr *httperr.Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, httperr.KindReauthRequired, herr.K)
}

func extractState(t *testing.T, authorizeURL string) string {
	t.Helper()
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}
