// Package identity implements C5: the two concrete Authenticator adapters
// (Local, WorkOS) sharing the auth.AuthProvider contract (spec §4.5).
package identity

import (
	"context"
	"fmt"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// LocalAuthenticator treats every request as the single admin user
// unconditionally, still establishing a session so audit logs attribute
// an actor (spec §4.4 LOCAL).
type LocalAuthenticator struct {
	db    *store.Manager
	audit Auditor
}

func NewLocalAuthenticator(db *store.Manager) *LocalAuthenticator {
	return &LocalAuthenticator{db: db, audit: noopAuditor{}}
}

// SetAuditor wires the audit sink in after construction, so existing
// callers that never set one keep working against the no-op default.
func (a *LocalAuthenticator) SetAuditor(auditor Auditor) {
	a.audit = auditor
}

var _ auth.AuthProvider = (*LocalAuthenticator)(nil)

func (a *LocalAuthenticator) Authenticate(ctx context.Context, _ map[string][]string, _ map[string][]string) (auth.Session, error) {
	ws, err := a.db.FirstWorkspace()
	if err != nil {
		return nil, err
	}
	if ws == nil {
		a.audit.LoginFailed(ctx, "", "local workspace not bootstrapped")
		return nil, httperr.NewUnauthenticated("local workspace not bootstrapped")
	}
	users, err := a.db.ListUsers(ws.ID)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.IsSuperAdmin {
			return &auth.SimpleSession{P: auth.Principal{
				User:         auth.User{ID: u.ID, WorkspaceID: u.WorkspaceID, Email: u.Email, Name: u.DisplayName},
				WorkspaceID:  u.WorkspaceID,
				IsSuperAdmin: true,
			}}, nil
		}
	}
	a.audit.LoginFailed(ctx, "", "local mode: no admin user found")
	return nil, fmt.Errorf("local mode: no admin user found")
}

func (a *LocalAuthenticator) UpstreamAuth(ctx context.Context) (map[string]string, error) {
	return nil, nil
}

// EnsureLocalAdmin creates the sole Workspace and its single admin User
// on first ConfigureLocal call. Idempotent: if a workspace already
// exists it is reused (upgrade path keeps it).
func EnsureLocalAdmin(db *store.Manager, newID func() string, email string) error {
	ws, err := db.FirstWorkspace()
	if err != nil {
		return err
	}
	if ws == nil {
		ws = &store.Workspace{ID: newID(), Name: "default", Slug: "default"}
		if err := db.CreateWorkspace(ws); err != nil {
			return err
		}
	}
	existing, err := db.GetUserByEmail(ws.ID, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return db.CreateUser(&store.User{
		ID:           newID(),
		WorkspaceID:  ws.ID,
		Email:        email,
		IsSuperAdmin: true,
	})
}
