package httpserver

import (
	"net/http"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
)

type putAPIKeyBody struct {
	Provider string `json:"provider"`
	Secret   string `json:"secret"`
}

func (s *Server) handlePutAPIKey(w http.ResponseWriter, r *http.Request) {
	var body putAPIKeyBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	p := principalFrom(r)
	if err := s.vault.PutAPIKey(p.WorkspaceID, p.User.ID, body.Provider, body.Secret); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type startOAuthBody struct {
	Provider string   `json:"provider"`
	Scopes   []string `json:"scopes"`
}

func (s *Server) handleStartOAuth(w http.ResponseWriter, r *http.Request) {
	var body startOAuthBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	p := principalFrom(r)
	url, err := s.vault.StartOAuth(p.User.ID, body.Provider, body.Scopes)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": url})
}

type oauthCallbackBody struct {
	State string `json:"state"`
	Code  string `json:"code"`
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var body oauthCallbackBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if err := s.vault.CompleteOAuth(r.Context(), body.State, body.Code); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	provider := s.pathVar(r, "provider")
	p := principalFrom(r)
	if err := s.vault.Revoke(r.Context(), p.User.ID, provider); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
