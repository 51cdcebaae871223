package httpserver

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/identity"
	"github.com/namastexlabs/mcp-hub/internal/mode"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

func (s *Server) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.modeMgr.Current()
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to resolve app mode", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              m,
		"is_setup_required": m == store.ModeUnconfigured,
	})
}

type setupLocalBody struct {
	AdminEmail string `json:"admin_email"`
}

func (s *Server) handleSetupLocal(w http.ResponseWriter, r *http.Request) {
	var body setupLocalBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if body.AdminEmail == "" {
		httperr.WriteJSON(w, httperr.NewBadRequest("admin_email is required", nil))
		return
	}
	if err := s.modeMgr.ConfigureLocal(r.Context(), body.AdminEmail); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	// Workspace/admin creation follows the mode transition rather than
	// preceding it: ConfigureLocal's UNCONFIGURED precondition is the
	// actual guard against double setup, so it must run first.
	if err := identity.EnsureLocalAdmin(s.db, uuid.NewString, body.AdminEmail); err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to bootstrap local admin", err))
		return
	}
	if s.auditLog != nil {
		s.auditLog.ModeTransition(r.Context(), string(store.ModeUnconfigured), string(store.ModeLocal))
	}
	w.WriteHeader(http.StatusNoContent)
}

type setupWorkOSBody struct {
	ClientID         string   `json:"client_id"`
	APIKey           string   `json:"api_key"`
	AuthKitDomain    string   `json:"authkit_domain"`
	SuperAdminEmails []string `json:"super_admin_emails"`
}

func (b setupWorkOSBody) toParams() mode.WorkOSParams {
	return mode.WorkOSParams{
		ClientID: b.ClientID, APIKey: b.APIKey, AuthKitDomain: b.AuthKitDomain,
		SuperAdminEmails: b.SuperAdminEmails,
	}
}

func (s *Server) handleSetupWorkOS(w http.ResponseWriter, r *http.Request) {
	var body setupWorkOSBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if err := s.modeMgr.ConfigureWorkOS(r.Context(), body.toParams()); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if s.auditLog != nil {
		s.auditLog.ModeTransition(r.Context(), string(store.ModeUnconfigured), string(store.ModeWorkOS))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpgradeToWorkOS(w http.ResponseWriter, r *http.Request) {
	var body setupWorkOSBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if err := s.modeMgr.UpgradeToWorkOS(r.Context(), body.toParams()); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if s.auditLog != nil {
		s.auditLog.ModeTransition(r.Context(), string(store.ModeLocal), string(store.ModeWorkOS))
	}
	w.WriteHeader(http.StatusNoContent)
}
