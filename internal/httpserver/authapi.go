package httpserver

import (
	"net/http"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

// handleAuthAuthorize implements GET /api/auth/authorize. Only meaningful
// in WORKOS mode: LOCAL mode has no login flow, since every request is
// attributed to the sole admin unconditionally (spec §4.5 LOCAL).
func (s *Server) handleAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	m, err := s.modeMgr.Current()
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to resolve app mode", err))
		return
	}
	if m != store.ModeWorkOS {
		httperr.WriteJSON(w, httperr.NewConflict("authorize is only available in WORKOS mode"))
		return
	}
	url, err := s.workos.BeginAuthorize(r.Context(), s.hubBaseURL)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorization_url": url})
}

type authCallbackBody struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	var body authCallbackBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	token, err := s.workos.CompleteCallback(r.Context(), s.hubBaseURL, body.Code, body.State)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "hub_session",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	user := map[string]any{}
	if sess, err := s.workos.Authenticate(r.Context(), map[string][]string{"Cookie": {"hub_session=" + token}}, nil); err == nil {
		p := sess.Principal()
		user = map[string]any{"id": p.User.ID, "email": p.User.Email, "workspace_id": p.WorkspaceID, "is_super_admin": p.IsSuperAdmin}
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	token := sessionTokenFromRequest(r)
	if token != "" && s.workos != nil {
		s.workos.Logout(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name: "hub_session", Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

func sessionTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie("hub_session"); err == nil {
		return c.Value
	}
	return ""
}
