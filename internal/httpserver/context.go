package httpserver

import (
	"context"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	workspaceKey
)

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the correlation ID assigned by requestIDMiddleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func withWorkspace(ctx context.Context, ws *store.Workspace) context.Context {
	return context.WithValue(ctx, workspaceKey, ws)
}

// WorkspaceFrom returns the Workspace resolved by workspaceMiddleware.
func WorkspaceFrom(ctx context.Context) (*store.Workspace, bool) {
	ws, ok := ctx.Value(workspaceKey).(*store.Workspace)
	return ws, ok
}
