// Package proxy implements C11, the Tool Proxy: the call pipeline that
// authorizes, materializes per-user credentials and config, routes to
// the right child tool server, and streams results back to the client
// without ever letting one user's materials leak into another's call.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/permissions"
	"github.com/namastexlabs/mcp-hub/internal/registry"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/vault"
	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

const toolListMemoTTL = 30 * time.Second

// Auditor receives the well-defined audit points from the call pipeline
// (spec §4.14); implemented by internal/audit.
type Auditor interface {
	ForbiddenToolCall(ctx context.Context, userID, toolName, reason string)
	ToolCallFailed(ctx context.Context, userID, toolName, kind, message string)
}

type Proxy struct {
	db        *store.Manager
	registry  *registry.Registry
	vault     *vault.Vault
	sealer    *crypto.Sealer
	checker   *permissions.Checker
	sessions  *SessionCache
	inProcess InProcessRegistry
	audit     Auditor

	listMu    sync.Mutex
	listCache map[string]listCacheEntry
}

type listCacheEntry struct {
	tools     []NamespacedTool
	expiresAt time.Time
}

// NamespacedTool is one entry of tools/list, namespaced per spec §4.11.
type NamespacedTool struct {
	Name        string `json:"name"` // tool_name.child_tool
	Description string `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

func New(db *store.Manager, reg *registry.Registry, v *vault.Vault, sealer *crypto.Sealer, checker *permissions.Checker, sessions *SessionCache, inProcess InProcessRegistry, audit Auditor) *Proxy {
	return &Proxy{
		db:        db,
		registry:  reg,
		vault:     v,
		sealer:    sealer,
		checker:   checker,
		sessions:  sessions,
		inProcess: inProcess,
		audit:     audit,
		listCache: make(map[string]listCacheEntry),
	}
}

// Call implements the seven-step call pipeline from spec §4.11.
func (p *Proxy) Call(ctx context.Context, principal auth.Principal, toolName, childToolName string, args map[string]any) (ToolEvent, error) {
	// Step 1: resolve UserTool.
	ut, err := p.db.GetUserTool(principal.User.ID, toolName)
	if err != nil {
		return ToolEvent{}, err
	}
	if ut == nil || !ut.Enabled {
		return ToolEvent{}, httperr.NewToolNotActivated(toolName)
	}

	// Step 2: permission check.
	decision := p.checker.Check(ctx, principal, auth.VerbInvoke, auth.Resource{
		Kind: auth.ResourceTool, ToolName: toolName, WorkspaceID: ut.WorkspaceID, OwnerUserID: ut.UserID,
	})
	if !decision.Allowed {
		if p.audit != nil {
			p.audit.ForbiddenToolCall(ctx, principal.User.ID, toolName, decision.Reason)
		}
		return ToolEvent{}, httperr.NewForbidden(decision.Reason)
	}

	desc, ok := p.registry.Get(toolName)
	if !ok {
		return ToolEvent{}, httperr.NewUnknownTool(toolName)
	}

	// Step 3: materialize inputs.
	env, err := p.materializeEnv(ctx, principal.User.ID, ut.ID, desc)
	if err != nil {
		return ToolEvent{}, err
	}

	// Step 4: obtain/open the child session (single-flight per key).
	client, err := p.sessions.GetOrOpen(ctx, principal.User.ID, toolName, func(openCtx context.Context) (ChildClient, error) {
		return openChildClient(openCtx, childSpec{invocation: desc.Invocation, env: env}, p.inProcess)
	})
	if err != nil {
		return ToolEvent{}, httperr.NewToolError("child_open_failed", err)
	}

	// Step 5/6: forward the call, surfacing a structured ToolError on
	// child failure. No automatic retry — the child must explicitly
	// advertise idempotence, which none currently do.
	event, err := client.Call(ctx, childToolName, args)
	if err != nil {
		if p.audit != nil {
			p.audit.ToolCallFailed(ctx, principal.User.ID, toolName, "child_call_failed", err.Error())
		}
		return ToolEvent{}, httperr.NewToolError("child_call_failed", err)
	}
	return event, nil
}

// materializeEnv reads ToolConfig (opening sealed keys) and resolves a
// live access token for every required_oauth provider, failing
// ReauthRequired if any provider needs reauthorization.
func (p *Proxy) materializeEnv(ctx context.Context, userID, userToolID string, desc registry.Descriptor) (map[string]string, error) {
	env := make(map[string]string)

	configs, err := p.db.GetToolConfigs(userToolID)
	if err != nil {
		return nil, err
	}
	for _, c := range configs {
		value := c.Value
		if c.Encrypted {
			plain, err := p.sealer.OpenString(value)
			if err != nil {
				return nil, httperr.NewCryptoError(err)
			}
			value = plain
		}
		// Stored values are JSON-encoded (activation marshals every
		// config value before persisting); unwrap plain strings so the
		// child process sees "acme" rather than the literal `"acme"`.
		var decoded string
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			value = decoded
		}
		env[c.Key] = value
	}

	for _, req := range desc.RequiredOAuth {
		token, err := p.vault.GetOAuth(ctx, userID, req.Provider, req.Scopes)
		if err != nil {
			return nil, err
		}
		env["oauth_"+req.Provider+"_access_token"] = token
	}
	return env, nil
}

// listCacheKey memoizes per user normally, but an agent-scoped MCP
// session (principal.Agent set via X-Hub-Agent-Id) sees a narrower list
// than the bare user union, so it needs its own cache slot.
func listCacheKey(principal auth.Principal) string {
	if principal.Agent != nil {
		return principal.User.ID + "|agent=" + principal.Agent.ID
	}
	return principal.User.ID
}

// ListTools implements tools/list: the union of every active tool's
// advertised operations the caller is permitted to invoke, namespaced
// tool_name.child_tool, memoized for up to 30s to avoid thundering the
// child servers. For a bare user principal that is every active
// UserTool; for an agent-scoped principal (spec's Open Question 2
// decision) it is narrowed to the Permission Checker's layer 3 —
// tools named directly in the agent's toolkit, plus project-inherited
// tools when the toolkit allows it.
func (p *Proxy) ListTools(ctx context.Context, principal auth.Principal) ([]NamespacedTool, error) {
	cacheKey := listCacheKey(principal)
	p.listMu.Lock()
	if entry, ok := p.listCache[cacheKey]; ok && time.Now().Before(entry.expiresAt) {
		p.listMu.Unlock()
		return entry.tools, nil
	}
	p.listMu.Unlock()

	active, err := p.db.ListUserTools(principal.User.ID)
	if err != nil {
		return nil, err
	}

	var out []NamespacedTool
	for _, ut := range active {
		if principal.Agent != nil {
			decision := p.checker.Check(ctx, principal, auth.VerbInvoke, auth.Resource{
				Kind: auth.ResourceTool, ToolName: ut.ToolName, WorkspaceID: ut.WorkspaceID, OwnerUserID: ut.UserID,
			})
			if !decision.Allowed {
				continue
			}
		}
		desc, ok := p.registry.Get(ut.ToolName)
		if !ok {
			continue
		}
		env, err := p.materializeEnv(ctx, principal.User.ID, ut.ID, desc)
		if err != nil {
			continue // a tool needing reauth just drops out of the list, it is not a listing error
		}
		client, err := p.sessions.GetOrOpen(ctx, principal.User.ID, ut.ToolName, func(openCtx context.Context) (ChildClient, error) {
			return openChildClient(openCtx, childSpec{invocation: desc.Invocation, env: env}, p.inProcess)
		})
		if err != nil {
			continue
		}
		childTools, err := client.ListTools(ctx)
		if err != nil {
			continue
		}
		for _, ct := range childTools {
			var schema json.RawMessage
			if ct.InputSchema != nil {
				schema, _ = json.Marshal(ct.InputSchema)
			}
			out = append(out, NamespacedTool{
				Name:        fmt.Sprintf("%s.%s", ut.ToolName, ct.Name),
				Description: ct.Description,
				InputSchema: schema,
			})
		}
	}

	p.listMu.Lock()
	p.listCache[cacheKey] = listCacheEntry{tools: out, expiresAt: time.Now().Add(toolListMemoTTL)}
	p.listMu.Unlock()
	return out, nil
}
