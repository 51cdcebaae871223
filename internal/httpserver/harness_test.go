package httpserver

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/namastexlabs/mcp-hub/internal/activation"
	"github.com/namastexlabs/mcp-hub/internal/audit"
	"github.com/namastexlabs/mcp-hub/internal/configstore"
	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/identity"
	"github.com/namastexlabs/mcp-hub/internal/mode"
	"github.com/namastexlabs/mcp-hub/internal/permissions"
	"github.com/namastexlabs/mcp-hub/internal/proxy"
	"github.com/namastexlabs/mcp-hub/internal/registry"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/tenancy"
	"github.com/namastexlabs/mcp-hub/internal/vault"
)

// testHarness wires a full Server against an in-memory sqlite database, the
// same way setupTestProxy does in internal/proxy, so route-level tests
// exercise real component wiring instead of mocks.
type testHarness struct {
	db     *store.Manager
	mode   *mode.Manager
	server *Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := store.NewManager(&store.Config{DatabaseType: store.DatabaseTypeSqlite, SqlitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	boot := mode.New(db, nil, nil)
	require.NoError(t, boot.EnsureBootstrapped(crypto.NewSalt))
	sysCfg, err := db.GetSystemConfig()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(sysCfg.EncryptionSalt)
	require.NoError(t, err)

	cfg := configstore.New(db, sealer)
	sessions := identity.NewSessionStore(time.Hour)
	states := identity.NewStateStore(time.Hour)
	local := identity.NewLocalAuthenticator(db)
	workos := identity.NewWorkOSAuthenticator(cfg, db, states, sessions)
	modeMgr := mode.New(db, cfg, workos)
	dispatch := identity.NewModeAwareAuthenticator(modeMgr, local, workos)

	auditLog := audit.NewLogger(db, 16, logr.Discard())
	local.SetAuditor(auditLog)
	workos.SetAuditor(auditLog)

	reg := registry.New(db, logr.Discard())
	toolsDir := t.TempDir()
	writeDescriptor(t, toolsDir, "echo", `{
		"name": "echo", "display_name": "Echo", "description": "d", "category": "c",
		"auth_type": "none",
		"config_schema": {"type":"object","properties":{"greeting":{"type":"string"}}},
		"invocation": {"kind":"in_process","command":"echo"}
	}`)
	require.NoError(t, reg.Refresh(toolsDir))

	providers := vault.StaticProviderRegistry{}
	v := vault.New(db, sealer, providers)
	v.SetAuditor(auditLog)

	activationMgr := activation.New(db, reg, v, sealer)
	activationMgr.SetAuditor(auditLog)

	checker := permissions.New(db)
	sessionCache := proxy.NewSessionCache(10, 5, time.Hour)
	t.Cleanup(sessionCache.Close)
	toolProxy := proxy.New(db, reg, v, sealer, checker, sessionCache, proxy.StaticInProcessRegistry{}, auditLog)

	discoveryMgr := discovery.NewManager(db, 12, 0, logr.Discard())

	tenancyResolver := tenancy.New(db)

	srv := New(Deps{
		DB: db, ModeMgr: modeMgr, Tenancy: tenancyResolver, AuthProvider: dispatch,
		Activation: activationMgr, Vault: v, Proxy: toolProxy, Discovery: discoveryMgr,
		AuditLog: auditLog, Local: local, WorkOS: workos,
		Log: logr.Discard(), Version: "test", HubBaseURL: "http://localhost:8787",
	})

	return &testHarness{db: db, mode: modeMgr, server: srv}
}

func writeDescriptor(t *testing.T, dir, name, raw string) {
	t.Helper()
	toolDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(toolDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(toolDir, "tool.json"), []byte(raw), 0o644))
}

// configureLocal bootstraps the harness into LOCAL mode with one admin
// user and returns the created workspace and admin user.
func (h *testHarness) configureLocal(t *testing.T, adminEmail string) (*store.Workspace, *store.User) {
	t.Helper()
	require.NoError(t, h.mode.ConfigureLocal(context.Background(), adminEmail))
	require.NoError(t, identity.EnsureLocalAdmin(h.db, func() string { return "admin-id" }, adminEmail))
	ws, err := h.db.FirstWorkspace()
	require.NoError(t, err)
	require.NotNil(t, ws)
	user, err := h.db.GetUserByEmail(ws.ID, adminEmail)
	require.NoError(t, err)
	require.NotNil(t, user)
	return ws, user
}
