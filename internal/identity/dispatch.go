package identity

import (
	"context"

	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/mode"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// ModeAwareAuthenticator is the single auth.AuthProvider wired into the
// front door's middleware chain. It defers to LocalAuthenticator or
// WorkOSAuthenticator depending on the live bootstrap mode, so the mode
// gate (C4) and authentication (C5) compose without the front door
// needing to know which identity backend is active.
type ModeAwareAuthenticator struct {
	modeMgr *mode.Manager
	local   *LocalAuthenticator
	workos  *WorkOSAuthenticator
}

func NewModeAwareAuthenticator(modeMgr *mode.Manager, local *LocalAuthenticator, workos *WorkOSAuthenticator) *ModeAwareAuthenticator {
	return &ModeAwareAuthenticator{modeMgr: modeMgr, local: local, workos: workos}
}

var _ auth.AuthProvider = (*ModeAwareAuthenticator)(nil)

func (a *ModeAwareAuthenticator) Authenticate(ctx context.Context, headers, query map[string][]string) (auth.Session, error) {
	current, err := a.modeMgr.Current()
	if err != nil {
		return nil, err
	}
	switch current {
	case store.ModeLocal:
		return a.local.Authenticate(ctx, headers, query)
	case store.ModeWorkOS:
		return a.workos.Authenticate(ctx, headers, query)
	default:
		return nil, httperr.NewSetupRequired("/setup")
	}
}

func (a *ModeAwareAuthenticator) UpstreamAuth(ctx context.Context) (map[string]string, error) {
	current, err := a.modeMgr.Current()
	if err != nil {
		return nil, err
	}
	if current == store.ModeWorkOS {
		return a.workos.UpstreamAuth(ctx)
	}
	return a.local.UpstreamAuth(ctx)
}
