package httpserver

import (
	"net/http"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// principalFrom extracts the authenticated Principal attached by
// authMiddleware. Handlers never re-derive it from raw headers.
func principalFrom(r *http.Request) auth.Principal {
	sess, ok := auth.AuthSessionFrom(r.Context())
	if !ok {
		return auth.Principal{}
	}
	return sess.Principal()
}

func (s *Server) handleListCatalogue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.activation.ListCatalogue())
}

func (s *Server) handleListActiveTools(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	tools, err := s.activation.ListActive(p.User.ID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to list active tools", err))
		return
	}
	writeJSON(w, http.StatusOK, tools)
}

type activateToolBody struct {
	ToolName string         `json:"tool_name"`
	Config   map[string]any `json:"config"`
}

func (s *Server) handleActivateTool(w http.ResponseWriter, r *http.Request) {
	var body activateToolBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	p := principalFrom(r)
	result, err := s.activation.Activate(r.Context(), p.WorkspaceID, p.User.ID, body.ToolName, body.Config)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	resp := map[string]any{"status": string(result.Outcome)}
	if result.Provider != "" {
		resp["provider"] = result.Provider
	}
	if result.AuthorizeURL != "" {
		resp["authorize_url"] = result.AuthorizeURL
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeactivateTool(w http.ResponseWriter, r *http.Request) {
	toolName := s.pathVar(r, "tool_name")
	p := principalFrom(r)
	if err := s.activation.Deactivate(p.WorkspaceID, p.User.ID, toolName); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetToolConfig(w http.ResponseWriter, r *http.Request) {
	toolName := s.pathVar(r, "tool_name")
	p := principalFrom(r)
	cfg, err := s.activation.GetConfig(p.User.ID, toolName)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePutToolConfig(w http.ResponseWriter, r *http.Request) {
	toolName := s.pathVar(r, "tool_name")
	var patch map[string]any
	if err := decodeJSON(r, &patch); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	p := principalFrom(r)
	if err := s.activation.UpdateConfig(p.User.ID, toolName, patch); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
