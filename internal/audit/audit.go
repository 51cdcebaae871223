// Package audit implements C14: a fire-and-forget append-only log of the
// well-defined security-relevant events from spec §4.14. Writers never
// block the request path; the queue is bounded, and overflow drops the
// oldest pending entry while recording that the drop happened.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

const (
	CategoryAuth       = "auth"
	CategoryTool       = "tool"
	CategoryCredential = "credential"
	CategoryAdmin      = "admin"
	CategoryWorkspace  = "workspace"
)

// Logger buffers AuditEvents on a channel and drains them to the store
// from a single background goroutine, so concurrent callers never
// contend on the DB write itself.
type Logger struct {
	db  *store.Manager
	ch  chan *store.AuditEvent
	log logr.Logger

	dropMu    sync.Mutex
	dropCount int
}

// Asserted structurally against the package-local Auditor interfaces each
// consumer declares (internal/proxy, internal/identity, internal/vault,
// internal/activation) so a signature drift here fails at compile time
// rather than silently falling back to a no-op.
var (
	_ interface {
		ForbiddenToolCall(ctx context.Context, userID, toolName, reason string)
		ToolCallFailed(ctx context.Context, userID, toolName, kind, message string)
	} = (*Logger)(nil)
	_ interface {
		LoginSucceeded(ctx context.Context, workspaceID, userID, email string)
		LoginFailed(ctx context.Context, email, reason string)
	} = (*Logger)(nil)
	_ interface {
		TokenIssued(ctx context.Context, workspaceID, userID, provider string)
		TokenRefreshed(ctx context.Context, userID, provider string)
		TokenRevoked(ctx context.Context, userID, provider string)
		CredentialWritten(ctx context.Context, userID, provider string)
	} = (*Logger)(nil)
	_ interface {
		ToolActivated(ctx context.Context, workspaceID, userID, toolName string)
		ToolDeactivated(ctx context.Context, workspaceID, userID, toolName string)
	} = (*Logger)(nil)
)

func NewLogger(db *store.Manager, bufferSize int, log logr.Logger) *Logger {
	l := &Logger{db: db, ch: make(chan *store.AuditEvent, bufferSize), log: log.WithName("audit")}
	go l.drain()
	return l
}

func (l *Logger) drain() {
	for e := range l.ch {
		if err := l.db.InsertAuditEvent(e); err != nil {
			l.log.Error(err, "failed to persist audit event", "category", e.Category, "action", e.Action)
		}
	}
}

// enqueue never blocks: a full buffer drops the oldest pending event and
// records that fact as its own best-effort audit entry (spec §4.14).
func (l *Logger) enqueue(e *store.AuditEvent) {
	select {
	case l.ch <- e:
		return
	default:
	}

	select {
	case <-l.ch:
	default:
	}
	select {
	case l.ch <- e:
	default:
	}
	l.recordDrop()
}

func (l *Logger) recordDrop() {
	l.dropMu.Lock()
	l.dropCount++
	count := l.dropCount
	l.dropMu.Unlock()
	// Written synchronously, bypassing the bounded channel: a drop event
	// must never itself be the thing that gets dropped silently.
	_ = l.db.InsertAuditEvent(&store.AuditEvent{
		ID: uuid.NewString(), Category: CategoryAdmin, Action: "audit_queue_overflow",
		Success: false, ErrorMessage: "oldest pending audit event dropped", TargetName: "audit_queue",
		OccurredAt: time.Now(), TargetType: "overflow", TargetID: "",
	})
	l.log.Info("audit queue overflowed, dropped oldest pending event", "total_drops", count)
}

func (l *Logger) base(workspaceID, actorUserID, actorEmail, category, action string, success bool) *store.AuditEvent {
	return &store.AuditEvent{
		ID: uuid.NewString(), WorkspaceID: workspaceID, ActorUserID: actorUserID, ActorEmail: actorEmail,
		Category: category, Action: action, Success: success, OccurredAt: time.Now(),
	}
}

// LoginSucceeded/LoginFailed implement the C5 login audit points.
func (l *Logger) LoginSucceeded(ctx context.Context, workspaceID, userID, email string) {
	l.enqueue(l.base(workspaceID, userID, email, CategoryAuth, "login_succeeded", true))
}

func (l *Logger) LoginFailed(ctx context.Context, email, reason string) {
	e := l.base("", "", email, CategoryAuth, "login_failed", false)
	e.ErrorMessage = reason
	l.enqueue(e)
}

// TokenIssued/TokenRefreshed/TokenRevoked implement C8's vault lifecycle
// audit points.
func (l *Logger) TokenIssued(ctx context.Context, workspaceID, userID, provider string) {
	e := l.base(workspaceID, userID, "", CategoryCredential, "token_issued", true)
	e.TargetType, e.TargetName = "oauth_provider", provider
	l.enqueue(e)
}

func (l *Logger) TokenRefreshed(ctx context.Context, userID, provider string) {
	e := l.base("", userID, "", CategoryCredential, "token_refreshed", true)
	e.TargetType, e.TargetName = "oauth_provider", provider
	l.enqueue(e)
}

func (l *Logger) TokenRevoked(ctx context.Context, userID, provider string) {
	e := l.base("", userID, "", CategoryCredential, "token_revoked", true)
	e.TargetType, e.TargetName = "oauth_provider", provider
	l.enqueue(e)
}

// CredentialWritten implements the put_api_key audit point — never the
// secret value itself, only that a write occurred.
func (l *Logger) CredentialWritten(ctx context.Context, userID, provider string) {
	e := l.base("", userID, "", CategoryCredential, "credential_written", true)
	e.TargetType, e.TargetName = "credential", provider
	l.enqueue(e)
}

// ToolActivated/ToolDeactivated implement the C10 activation audit points.
func (l *Logger) ToolActivated(ctx context.Context, workspaceID, userID, toolName string) {
	e := l.base(workspaceID, userID, "", CategoryTool, "tool_activated", true)
	e.TargetType, e.TargetName = "tool", toolName
	l.enqueue(e)
}

func (l *Logger) ToolDeactivated(ctx context.Context, workspaceID, userID, toolName string) {
	e := l.base(workspaceID, userID, "", CategoryTool, "tool_deactivated", true)
	e.TargetType, e.TargetName = "tool", toolName
	l.enqueue(e)
}

// ForbiddenToolCall and ToolCallFailed satisfy internal/proxy.Auditor —
// the tool-invocation audit point records only category and tool name,
// never call arguments or results (spec §4.14).
func (l *Logger) ForbiddenToolCall(ctx context.Context, userID, toolName, reason string) {
	e := l.base("", userID, "", CategoryTool, "tool_call_forbidden", false)
	e.TargetType, e.TargetName, e.ErrorMessage = "tool", toolName, reason
	l.enqueue(e)
}

func (l *Logger) ToolCallFailed(ctx context.Context, userID, toolName, kind, message string) {
	e := l.base("", userID, "", CategoryTool, "tool_call_failed", false)
	e.TargetType, e.TargetName, e.ErrorMessage = kind, toolName, message
	l.enqueue(e)
}

// AdminAction implements the generic admin-endpoint audit point.
func (l *Logger) AdminAction(ctx context.Context, workspaceID, actorUserID, actorEmail, action, targetType, targetID string) {
	e := l.base(workspaceID, actorUserID, actorEmail, CategoryAdmin, action, true)
	e.TargetType, e.TargetID = targetType, targetID
	l.enqueue(e)
}

// ModeTransition implements the C4 bootstrap audit point.
func (l *Logger) ModeTransition(ctx context.Context, from, to string) {
	e := l.base("", "", "", CategoryWorkspace, "mode_transition", true)
	e.TargetType, e.TargetName = "mode", from+" -> "+to
	l.enqueue(e)
}

// Query is a read-through to the store for the management API.
func (l *Logger) Query(workspaceID string, q store.AuditQuery) ([]store.AuditEvent, error) {
	return l.db.ListAuditEvents(workspaceID, q)
}
