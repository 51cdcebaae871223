package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/discovery"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/tenancy"
)

func (s *Server) handleListBaseFolders(w http.ResponseWriter, r *http.Request) {
	ws, ok := WorkspaceFrom(r.Context())
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("workspace not resolved"))
		return
	}
	folders, err := s.db.ListBaseFolders(ws.ID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to list base folders", err))
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

type createBaseFolderBody struct {
	Path  string `json:"path"`
	Label string `json:"label"`
}

func (s *Server) handleCreateBaseFolder(w http.ResponseWriter, r *http.Request) {
	ws, ok := WorkspaceFrom(r.Context())
	if !ok {
		httperr.WriteJSON(w, httperr.NewNotFound("workspace not resolved"))
		return
	}
	var body createBaseFolderBody
	if err := decodeJSON(r, &body); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	if body.Path == "" {
		httperr.WriteJSON(w, httperr.NewBadRequest("path is required", nil))
		return
	}
	bf := &store.BaseFolder{ID: uuid.NewString(), WorkspaceID: ws.ID, Path: body.Path, Label: body.Label}
	if err := s.db.CreateBaseFolder(bf); err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to create base folder", err))
		return
	}
	writeJSON(w, http.StatusCreated, bf)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	baseFolderID := r.URL.Query().Get("base_folder_id")
	if baseFolderID == "" {
		httperr.WriteJSON(w, httperr.NewBadRequest("base_folder_id query parameter is required", nil))
		return
	}
	bf, err := s.db.GetBaseFolder(baseFolderID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to load base folder", err))
		return
	}
	if bf == nil {
		httperr.WriteJSON(w, httperr.NewNotFound("base folder not found"))
		return
	}
	if err := tenancy.AssertSameWorkspace(bf.WorkspaceID, principalFrom(r)); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	projects, err := s.db.ListProjects(bf.ID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to list projects", err))
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// handleSyncProject implements POST /api/discovery/projects/{id}/sync.
// The only sync primitive the discovery manager exposes operates at
// base-folder granularity, so {id} is resolved to its owning BaseFolder
// and the whole folder is rescanned; the response is every project found,
// including (but not limited to) the one named in the path.
func (s *Server) handleSyncProject(w http.ResponseWriter, r *http.Request) {
	projectID := s.pathVar(r, "id")
	project, err := s.db.GetProject(projectID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to load project", err))
		return
	}
	if project == nil {
		httperr.WriteJSON(w, httperr.NewNotFound("project not found"))
		return
	}
	bf, err := s.db.GetBaseFolder(project.BaseFolderID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to load base folder", err))
		return
	}
	if bf == nil {
		httperr.WriteJSON(w, httperr.NewNotFound("base folder not found"))
		return
	}
	if err := tenancy.AssertSameWorkspace(bf.WorkspaceID, principalFrom(r)); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	projects, err := s.discovery.SyncBaseFolder(r.Context(), bf)
	if err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

// agentWorkspace resolves the workspace that owns an agent by walking
// Agent -> Project -> BaseFolder, the only path to a workspace ID an
// Agent row carries. If any link in the chain is missing it returns a nil
// BaseFolder and a nil error (the Agent is nil too when the agent itself
// is missing), which callers treat as a 404.
func (s *Server) agentWorkspace(agentID string) (*store.Agent, *store.BaseFolder, error) {
	agent, err := s.db.GetAgent(agentID)
	if err != nil || agent == nil {
		return agent, nil, err
	}
	project, err := s.db.GetProject(agent.ProjectID)
	if err != nil || project == nil {
		return agent, nil, err
	}
	bf, err := s.db.GetBaseFolder(project.BaseFolderID)
	if err != nil || bf == nil {
		return agent, nil, err
	}
	return agent, bf, nil
}

func (s *Server) handleGetAgentToolkit(w http.ResponseWriter, r *http.Request) {
	agentID := s.pathVar(r, "id")
	agent, bf, err := s.agentWorkspace(agentID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to load agent", err))
		return
	}
	if agent == nil || bf == nil {
		httperr.WriteJSON(w, httperr.NewNotFound("agent not found"))
		return
	}
	if err := tenancy.AssertSameWorkspace(bf.WorkspaceID, principalFrom(r)); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	var toolkit discovery.ToolkitInner
	if agent.Toolkit != "" {
		if err := json.Unmarshal([]byte(agent.Toolkit), &toolkit); err != nil {
			httperr.WriteJSON(w, httperr.NewInternal("stored toolkit is corrupt", err))
			return
		}
	}
	writeJSON(w, http.StatusOK, toolkit)
}

func (s *Server) handlePutAgentToolkit(w http.ResponseWriter, r *http.Request) {
	agentID := s.pathVar(r, "id")
	agent, bf, err := s.agentWorkspace(agentID)
	if err != nil {
		httperr.WriteJSON(w, httperr.NewInternal("failed to load agent", err))
		return
	}
	if agent == nil || bf == nil {
		httperr.WriteJSON(w, httperr.NewNotFound("agent not found"))
		return
	}
	if err := tenancy.AssertSameWorkspace(bf.WorkspaceID, principalFrom(r)); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	var inner discovery.ToolkitInner
	if err := decodeJSON(r, &inner); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	p := principalFrom(r)
	if err := s.discovery.UpdateToolkit(agentID, inner, p.User.Email); err != nil {
		httperr.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
