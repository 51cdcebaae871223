package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/namastexlabs/mcp-hub/pkg/auth"
)

type fakeProjectTools struct {
	enabled map[string]bool
}

func (f *fakeProjectTools) IsProjectToolEnabled(ctx context.Context, projectID, toolName string) (bool, error) {
	return f.enabled[projectID+"/"+toolName], nil
}

func TestCheckerSuperAdminBypassesEverything(t *testing.T) {
	c := New(nil)
	d := c.Check(context.Background(), auth.Principal{IsSuperAdmin: true, WorkspaceID: "other"}, auth.VerbDelete, auth.Resource{WorkspaceID: "ws-1"})
	assert.True(t, d.Allowed)
}

func TestCheckerWorkspaceUserOwnResourceReadWrite(t *testing.T) {
	c := New(nil)
	p := auth.Principal{User: auth.User{ID: "u1"}, WorkspaceID: "ws-1"}

	d := c.Check(context.Background(), p, auth.VerbRead, auth.Resource{WorkspaceID: "ws-1", OwnerUserID: "u1"})
	assert.True(t, d.Allowed)

	d = c.Check(context.Background(), p, auth.VerbWrite, auth.Resource{WorkspaceID: "ws-1", OwnerUserID: "u1"})
	assert.True(t, d.Allowed)

	d = c.Check(context.Background(), p, auth.VerbWrite, auth.Resource{WorkspaceID: "ws-1", OwnerUserID: "u2"})
	assert.False(t, d.Allowed)
}

func TestCheckerWorkspaceUserReadSharedResource(t *testing.T) {
	c := New(nil)
	p := auth.Principal{User: auth.User{ID: "u1"}, WorkspaceID: "ws-1"}
	d := c.Check(context.Background(), p, auth.VerbRead, auth.Resource{WorkspaceID: "ws-1"})
	assert.True(t, d.Allowed)
}

func TestCheckerRejectsCrossWorkspace(t *testing.T) {
	c := New(nil)
	p := auth.Principal{User: auth.User{ID: "u1"}, WorkspaceID: "ws-1"}
	d := c.Check(context.Background(), p, auth.VerbRead, auth.Resource{WorkspaceID: "ws-2"})
	assert.False(t, d.Allowed)
}

func TestCheckerAgentToolkitDirectGrant(t *testing.T) {
	c := New(&fakeProjectTools{})
	p := auth.Principal{
		Agent:  &auth.Agent{ID: "a1", ProjectID: "p1"},
		Claims: map[string]any{"toolkit_tools": []string{"wait"}},
	}
	d := c.Check(context.Background(), p, auth.VerbInvoke, auth.Resource{Kind: auth.ResourceTool, ToolName: "wait"})
	assert.True(t, d.Allowed)

	d = c.Check(context.Background(), p, auth.VerbInvoke, auth.Resource{Kind: auth.ResourceTool, ToolName: "other"})
	assert.False(t, d.Allowed)
}

func TestCheckerAgentToolkitInheritedFromProject(t *testing.T) {
	c := New(&fakeProjectTools{enabled: map[string]bool{"p1/gmail": true}})
	p := auth.Principal{
		Agent:  &auth.Agent{ID: "a1", ProjectID: "p1"},
		Claims: map[string]any{"inherit_project_tools": true},
	}
	d := c.Check(context.Background(), p, auth.VerbInvoke, auth.Resource{Kind: auth.ResourceTool, ToolName: "gmail"})
	assert.True(t, d.Allowed)

	d = c.Check(context.Background(), p, auth.VerbInvoke, auth.Resource{Kind: auth.ResourceTool, ToolName: "slack"})
	assert.False(t, d.Allowed)
}

func TestCheckerAgentToolkitNoInheritWithoutFlag(t *testing.T) {
	c := New(&fakeProjectTools{enabled: map[string]bool{"p1/gmail": true}})
	p := auth.Principal{Agent: &auth.Agent{ID: "a1", ProjectID: "p1"}}
	d := c.Check(context.Background(), p, auth.VerbInvoke, auth.Resource{Kind: auth.ResourceTool, ToolName: "gmail"})
	assert.False(t, d.Allowed, "inherit_project_tools must be explicit, revoked project tools lose agent access immediately")
}
