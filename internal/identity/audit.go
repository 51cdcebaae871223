package identity

import "context"

// Auditor is the narrow slice of internal/audit.Logger this package needs,
// kept local so identity never imports audit directly (audit imports
// store only, and wiring it in by interface keeps existing New* call
// sites — and their tests — untouched).
type Auditor interface {
	LoginSucceeded(ctx context.Context, workspaceID, userID, email string)
	LoginFailed(ctx context.Context, email, reason string)
}

type noopAuditor struct{}

func (noopAuditor) LoginSucceeded(context.Context, string, string, string) {}
func (noopAuditor) LoginFailed(context.Context, string, string)            {}
