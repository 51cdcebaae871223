package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

func TestGetWorkspaceReturnsResolvedTenant(t *testing.T) {
	h := newTestHarness(t)
	ws, _ := h.configureLocal(t, "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/workspace", nil)
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, ws.ID, body["ID"])
}

func TestListUsersIncludesBootstrappedAdmin(t *testing.T) {
	h := newTestHarness(t)
	_, admin := h.configureLocal(t, "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/workspace/users", nil)
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var users []store.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, admin.Email, users[0].Email)
}

func TestSetSuperAdminRecordsAuditEntry(t *testing.T) {
	h := newTestHarness(t)
	ws, admin := h.configureLocal(t, "admin@example.com")

	body, _ := json.Marshal(map[string]any{"is_super_admin": true})
	req := httptest.NewRequest(http.MethodPut, "/api/admin/users/"+admin.ID+"/super-admin", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	// Audit writes are asynchronous (internal/audit.Logger.drain runs on its
	// own goroutine), so give the drain loop a moment to persist the event.
	require.Eventually(t, func() bool {
		events, err := h.server.auditLog.Query(ws.ID, store.AuditQuery{})
		if err != nil {
			return false
		}
		for _, e := range events {
			if e.Action == "set_super_admin" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "super-admin grant must be audited")
}

func TestListAuditLogsReflectsToolActivity(t *testing.T) {
	h := newTestHarness(t)
	ws, _ := h.configureLocal(t, "admin@example.com")

	activateBody, _ := json.Marshal(activateToolBody{ToolName: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(activateBody))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	require.Eventually(t, func() bool {
		events, err := h.server.auditLog.Query(ws.ID, store.AuditQuery{})
		return err == nil && len(events) > 0
	}, time.Second, 5*time.Millisecond)

	req = httptest.NewRequest(http.MethodGet, "/api/audit-logs", nil)
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var events []store.AuditEvent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &events))
	assert.NotEmpty(t, events, "tool activation must have been audited")
}
