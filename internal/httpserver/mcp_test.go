package httpserver

import (
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

func TestAgentScopedPrincipalPopulatesAgentAndToolkitClaims(t *testing.T) {
	h := newTestHarness(t)
	ws, admin := h.configureLocal(t, "admin@example.com")
	_, agentID := h.seedProjectWithAgent(t, ws)

	toolkit := discovery.ToolkitInner{
		Tools:               []discovery.ToolGrant{{Name: "github", Permissions: []string{"read"}}},
		InheritProjectTools: true,
	}
	require.NoError(t, h.server.discovery.UpdateToolkit(agentID, toolkit, admin.Email))

	base := auth.Principal{User: auth.User{ID: admin.ID, WorkspaceID: ws.ID}, WorkspaceID: ws.ID}
	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set(agentIDHeader, agentID)

	scoped := h.server.agentScopedPrincipal(req, base)
	require.NotNil(t, scoped.Agent)
	assert.Equal(t, agentID, scoped.Agent.ID)
	assert.Equal(t, []string{"github"}, scoped.Claims["toolkit_tools"])
	assert.Equal(t, true, scoped.Claims["inherit_project_tools"])
}

func TestAgentScopedPrincipalIgnoresUnknownAgent(t *testing.T) {
	h := newTestHarness(t)
	ws, admin := h.configureLocal(t, "admin@example.com")

	base := auth.Principal{User: auth.User{ID: admin.ID, WorkspaceID: ws.ID}, WorkspaceID: ws.ID}
	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set(agentIDHeader, uuid.NewString())

	scoped := h.server.agentScopedPrincipal(req, base)
	assert.Nil(t, scoped.Agent, "an unresolvable agent id must not scope the principal")
}

func TestAgentScopedPrincipalIgnoresCrossWorkspaceAgent(t *testing.T) {
	h := newTestHarness(t)
	ws, admin := h.configureLocal(t, "admin@example.com")

	other := &store.Workspace{ID: uuid.NewString(), Name: "other", Slug: "other"}
	require.NoError(t, h.db.CreateWorkspace(other))
	_, agentID := h.seedProjectWithAgent(t, other)

	base := auth.Principal{User: auth.User{ID: admin.ID, WorkspaceID: ws.ID}, WorkspaceID: ws.ID}
	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set(agentIDHeader, agentID)

	scoped := h.server.agentScopedPrincipal(req, base)
	assert.Nil(t, scoped.Agent, "an agent owned by another workspace must not scope the principal")
}
