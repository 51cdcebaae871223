package activation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/registry"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/vault"
)

func writeDescriptor(t *testing.T, dir, name, raw string) {
	t.Helper()
	toolDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(toolDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "tool.json"), []byte(raw), 0o644))
}

func setupTestManager(t *testing.T) (*Manager, *store.Manager) {
	t.Helper()
	db, err := store.NewManager(&store.Config{DatabaseType: store.DatabaseTypeSqlite, SqlitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(salt)
	require.NoError(t, err)

	reg := registry.New(db, logr.Discard())
	v := vault.New(db, sealer, vault.StaticProviderRegistry{})

	dir := t.TempDir()
	writeDescriptor(t, dir, "slack", `{
		"name": "slack", "display_name": "Slack", "description": "d", "category": "c",
		"auth_type": "api_key",
		"config_schema": {"type":"object","properties":{
			"workspace": {"type":"string"},
			"token": {"type":"string","x-encrypted":true}
		},"required":["workspace"]},
		"invocation": {"kind":"stdio","command":"slack-mcp"}
	}`)
	writeDescriptor(t, dir, "gmail", `{
		"name": "gmail", "display_name": "Gmail", "description": "d", "category": "c",
		"auth_type": "oauth", "required_oauth": ["gmail"],
		"config_schema": {"type":"object"},
		"invocation": {"kind":"http","url":"http://localhost:9001"}
	}`)
	require.NoError(t, reg.Refresh(dir))

	return New(db, reg, v, sealer), db
}

func TestActivateSucceedsAndSealsEncryptedKeys(t *testing.T) {
	m, db := setupTestManager(t)

	result, err := m.Activate(context.Background(), "ws-1", "u1", "slack", map[string]any{
		"workspace": "acme", "token": "xoxb-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeActivated, result.Outcome)

	ut, err := db.GetUserTool("u1", "slack")
	require.NoError(t, err)
	require.NotNil(t, ut)
	assert.True(t, ut.Enabled)

	configs, err := db.GetToolConfigs(ut.ID)
	require.NoError(t, err)
	for _, c := range configs {
		if c.Key == "token" {
			assert.True(t, c.Encrypted)
			assert.NotContains(t, c.Value, "xoxb-secret", "sealed value must not contain the plaintext secret")
		}
	}

	got, err := m.GetConfig("u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "acme", got["workspace"])
	assert.Equal(t, "xoxb-secret", got["token"], "get_config must transparently open sealed values")
}

func TestActivateUnknownTool(t *testing.T) {
	m, _ := setupTestManager(t)
	_, err := m.Activate(context.Background(), "ws-1", "u1", "nonexistent", nil)
	require.Error(t, err)
}

func TestActivateInvalidConfig(t *testing.T) {
	m, _ := setupTestManager(t)
	_, err := m.Activate(context.Background(), "ws-1", "u1", "slack", map[string]any{})
	require.Error(t, err)
}

func TestActivateNeedsOAuthWithoutDBMutation(t *testing.T) {
	m, db := setupTestManager(t)

	result, err := m.Activate(context.Background(), "ws-1", "u1", "gmail", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsOAuth, result.Outcome)
	assert.Equal(t, "gmail", result.Provider)

	ut, err := db.GetUserTool("u1", "gmail")
	require.NoError(t, err)
	assert.Nil(t, ut, "activate must not mutate the DB when oauth is still pending")
}

// fakeOAuthProvider mirrors internal/vault's test double: a minimal
// authorization_code token endpoint, enough to mint a credential whose
// granted scopes can then be checked against a tool's requirement.
func fakeOAuthProvider(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-1", "refresh_token": "refresh-1",
			"token_type": "Bearer", "expires_in": 3600,
		})
	})
	return httptest.NewServer(mux)
}

// TestActivateNeedsOAuthWhenGrantedTokenLacksRequiredScope is the scope-
// insufficient scenario: a tool declares required_oauth with scopes, the
// user already completed OAuth but only granted a narrower scope, and
// Activate must surface NeedsOAuth rather than silently forwarding the
// under-scoped token (spec §7 S4). This only holds if Activate actually
// threads desc.RequiredOAuth[i].Scopes into vault.GetOAuth.
func TestActivateNeedsOAuthWhenGrantedTokenLacksRequiredScope(t *testing.T) {
	db, err := store.NewManager(&store.Config{DatabaseType: store.DatabaseTypeSqlite, SqlitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	salt, err := crypto.NewSalt()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(salt)
	require.NoError(t, err)

	srv := fakeOAuthProvider(t)
	t.Cleanup(srv.Close)
	providers := vault.StaticProviderRegistry{
		"gmail": {Endpoint: oauth2.Endpoint{AuthURL: srv.URL + "/oauth2/authorize", TokenURL: srv.URL + "/oauth2/token"}},
	}
	v := vault.New(db, sealer, providers)

	reg := registry.New(db, logr.Discard())
	dir := t.TempDir()
	writeDescriptor(t, dir, "gmail", `{
		"name": "gmail", "display_name": "Gmail", "description": "d", "category": "c",
		"auth_type": "oauth",
		"required_oauth": [{"provider": "gmail", "scopes": ["read", "send"]}],
		"config_schema": {"type":"object"},
		"invocation": {"kind":"http","url":"http://localhost:9001"}
	}`)
	require.NoError(t, reg.Refresh(dir))

	m := New(db, reg, v, sealer)

	authorizeURL, err := v.StartOAuth("u1", "gmail", []string{"read"})
	require.NoError(t, err)
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	require.NoError(t, v.CompleteOAuth(context.Background(), u.Query().Get("state"), "auth-code-1"))

	result, err := m.Activate(context.Background(), "ws-1", "u1", "gmail", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNeedsOAuth, result.Outcome, "a token granted only 'read' must not satisfy a 'read send' requirement")
	assert.Equal(t, "gmail", result.Provider)
}

func TestDeactivateIsSoftDeleteAndReactivateFlipsRow(t *testing.T) {
	m, db := setupTestManager(t)
	_, err := m.Activate(context.Background(), "ws-1", "u1", "slack", map[string]any{"workspace": "acme"})
	require.NoError(t, err)

	require.NoError(t, m.Deactivate("ws-1", "u1", "slack"))
	ut, err := db.GetUserTool("u1", "slack")
	require.NoError(t, err)
	assert.False(t, ut.Enabled)

	_, err = m.Activate(context.Background(), "ws-1", "u1", "slack", map[string]any{"workspace": "acme"})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.DB().Model(&store.UserTool{}).Where("user_id = ? AND tool_name = ?", "u1", "slack").Count(&count).Error)
	assert.Equal(t, int64(1), count, "reactivation must never create a second UserTool row")
}

func TestUpdateConfigMergesPatch(t *testing.T) {
	m, _ := setupTestManager(t)
	_, err := m.Activate(context.Background(), "ws-1", "u1", "slack", map[string]any{"workspace": "acme"})
	require.NoError(t, err)

	require.NoError(t, m.UpdateConfig("u1", "slack", map[string]any{"token": "xoxb-new"}))

	got, err := m.GetConfig("u1", "slack")
	require.NoError(t, err)
	assert.Equal(t, "acme", got["workspace"], "update_config must merge, not replace, unrelated keys")
	assert.Equal(t, "xoxb-new", got["token"])
}
