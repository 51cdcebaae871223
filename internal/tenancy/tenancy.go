// Package tenancy implements C6: resolving a Workspace from a Principal
// and enforcing workspace-boundary assertions (spec §4.6).
package tenancy

import (
	"context"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

type Resolver struct {
	db *store.Manager
}

func New(db *store.Manager) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the Workspace for the authenticated principal.
func (r *Resolver) Resolve(ctx context.Context, p auth.Principal) (*store.Workspace, error) {
	ws, err := r.db.GetWorkspace(p.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, httperr.NewNotFound("workspace not found")
	}
	return ws, nil
}

// AssertSameWorkspace is used by the management endpoints to reject
// cross-tenant access before any row is mutated.
func AssertSameWorkspace(resourceWorkspaceID string, p auth.Principal) error {
	if p.IsSuperAdmin {
		return nil
	}
	if resourceWorkspaceID != p.WorkspaceID {
		return httperr.NewForbidden("resource belongs to a different workspace")
	}
	return nil
}
