package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCatalogueReturnsRegisteredDescriptors(t *testing.T) {
	h := newTestHarness(t)
	h.configureLocal(t, "admin@example.com")

	req := httptest.NewRequest(http.MethodGet, "/api/catalogue", nil)
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var descriptors []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &descriptors))
	require.Len(t, descriptors, 1)
	assert.Equal(t, "echo", descriptors[0]["name"])
}

func TestActivateAndListActiveToolsRoundtrip(t *testing.T) {
	h := newTestHarness(t)
	h.configureLocal(t, "admin@example.com")

	body, _ := json.Marshal(activateToolBody{ToolName: "echo", Config: map[string]any{"greeting": "hi"}})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "activated", resp["status"])

	req = httptest.NewRequest(http.MethodGet, "/api/tools", nil)
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var active []map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	require.Len(t, active, 1)
	assert.Equal(t, "echo", active[0]["ToolName"])
}

func TestActivateRejectsUnknownTool(t *testing.T) {
	h := newTestHarness(t)
	h.configureLocal(t, "admin@example.com")

	body, _ := json.Marshal(activateToolBody{ToolName: "ghost"})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDeactivateToolThenConfigLookupFails(t *testing.T) {
	h := newTestHarness(t)
	h.configureLocal(t, "admin@example.com")

	activateBody, _ := json.Marshal(activateToolBody{ToolName: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(activateBody))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/tools/echo", nil)
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tools/echo/config", nil)
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code, "config lookup on a deactivated tool must fail")
}

func TestPutToolConfigRejectsUnknownField(t *testing.T) {
	h := newTestHarness(t)
	h.configureLocal(t, "admin@example.com")

	activateBody, _ := json.Marshal(activateToolBody{ToolName: "echo"})
	req := httptest.NewRequest(http.MethodPost, "/api/tools", bytes.NewReader(activateBody))
	rr := httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	patch, _ := json.Marshal(map[string]any{"greeting": "hello"})
	req = httptest.NewRequest(http.MethodPut, "/api/tools/echo/config", bytes.NewReader(patch))
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/tools/echo/config", nil)
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cfg))
	assert.Equal(t, "hello", cfg["greeting"])

	unknown, _ := json.Marshal(map[string]any{"no_such_key": "x"})
	req = httptest.NewRequest(http.MethodPut, "/api/tools/echo/config", bytes.NewReader(unknown))
	rr = httptest.NewRecorder()
	h.server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, "a config key the schema does not declare must be rejected")
}
