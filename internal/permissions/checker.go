// Package permissions implements C7: the three-tier permission evaluator
// (spec §4.7). Checker is a pure function over already-loaded records —
// it performs no I/O of its own; callers (C10, C11, management handlers)
// load whatever records are needed before calling Check.
package permissions

import (
	"context"
	"fmt"

	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

// ProjectToolLookup answers whether a tool is enabled at the project
// level, used for agent-toolkit inheritance (tier 3). Implemented by
// internal/store in production, stubbed in tests.
type ProjectToolLookup interface {
	IsProjectToolEnabled(ctx context.Context, projectID, toolName string) (bool, error)
}

type Checker struct {
	projectTools ProjectToolLookup
}

func New(projectTools ProjectToolLookup) *Checker {
	return &Checker{projectTools: projectTools}
}

var _ auth.Authorizer = (*Checker)(nil)

// Check evaluates the three layers in order, first match wins (spec §4.7).
func (c *Checker) Check(ctx context.Context, p auth.Principal, verb auth.Verb, res auth.Resource) auth.Decision {
	// Layer 1: platform admin bypasses everything, across workspaces.
	if p.IsSuperAdmin {
		return auth.Decision{Allowed: true, Reason: "platform admin bypass"}
	}

	// Layer 3: an agent toolkit invoking a named tool.
	if p.Agent != nil && res.Kind == auth.ResourceTool {
		return c.checkAgentToolkit(ctx, p, res)
	}

	// Layer 2: workspace user.
	if res.WorkspaceID != "" && res.WorkspaceID != p.WorkspaceID {
		return auth.Decision{Allowed: false, Reason: "resource belongs to a different workspace"}
	}
	switch verb {
	case auth.VerbRead:
		if res.OwnerUserID == "" || res.OwnerUserID == p.User.ID {
			return auth.Decision{Allowed: true, Reason: "workspace-shared or own resource, read"}
		}
		return auth.Decision{Allowed: false, Reason: "read of another user's private resource"}
	case auth.VerbWrite, auth.VerbDelete, auth.VerbInvoke:
		if res.OwnerUserID == p.User.ID {
			return auth.Decision{Allowed: true, Reason: "owner write/delete/invoke"}
		}
		return auth.Decision{Allowed: false, Reason: fmt.Sprintf("%s requires ownership", verb)}
	default:
		return auth.Decision{Allowed: false, Reason: fmt.Sprintf("unrecognized verb %q", verb)}
	}
}

// checkAgentToolkit implements layer 3: an Agent may invoke tool T iff
// T is named directly in its toolkit, or inherited from its project.
// agentToolkit is supplied via the Claims map, since Checker itself
// performs no I/O — see Principal.Claims["toolkit_tools"] and
// Claims["inherit_project_tools"], populated by the MCP front door
// (internal/httpserver's mcp.go) before the proxy calls Check.
func (c *Checker) checkAgentToolkit(ctx context.Context, p auth.Principal, res auth.Resource) auth.Decision {
	directTools, _ := p.Claims["toolkit_tools"].([]string)
	for _, t := range directTools {
		if t == res.ToolName {
			return auth.Decision{Allowed: true, Reason: "tool granted directly in agent toolkit"}
		}
	}

	inherit, _ := p.Claims["inherit_project_tools"].(bool)
	if !inherit || c.projectTools == nil {
		return auth.Decision{Allowed: false, Reason: "tool not in agent toolkit"}
	}
	enabled, err := c.projectTools.IsProjectToolEnabled(ctx, p.Agent.ProjectID, res.ToolName)
	if err != nil || !enabled {
		return auth.Decision{Allowed: false, Reason: "tool not inherited from project"}
	}
	return auth.Decision{Allowed: true, Reason: "tool inherited from project via inherit_project_tools"}
}
