package httpserver

import (
	"net/http"
	"strconv"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := WorkspaceFrom(r.Context())
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("workspace not resolved"))
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ws, ok := WorkspaceFrom(r.Context())
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("workspace not resolved"))
		return
	}
	users, err := s.db.ListUsers(ws.ID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to list users", err))
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ws, ok := WorkspaceFrom(r.Context())
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("workspace not resolved"))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	events, err := s.auditLog.Query(ws.ID, store.AuditQuery{
		Category: q.Get("category"), Limit: limit, Offset: offset,
	})
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to list audit logs", err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleSetSuperAdmin implements the platform-admin super-admin grant.
// Only a super admin may call it; the permission layer itself doesn't
// gate management endpoints, so the check is inline here.
func (s *Server) handleSetSuperAdmin(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if !p.IsSuperAdmin {
		httperr.WriteJSON(w, httperr.NewForbidden("only a super admin may grant super admin"))
		return
	}
	userID := s.pathVar(r, "id")
	var body struct {
		IsSuperAdmin bool `json:"is_super_admin"`
	}
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if err := s.db.SetUserSuperAdmin(userID, body.IsSuperAdmin); err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to update user", err))
		return
	}
	if s.auditLog != nil {
		s.auditLog.AdminAction(r.Context(), p.WorkspaceID, p.User.ID, p.User.Email, "set_super_admin", "user", userID)
	}
	w.WriteHeader(http.StatusNoContent)
}
