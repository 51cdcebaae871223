package auth

import "context"

// Verb is an action a Principal attempts against a Resource.
type Verb string

const (
	VerbRead   Verb = "read"
	VerbWrite  Verb = "write"
	VerbDelete Verb = "delete"
	VerbInvoke Verb = "invoke"
)

// ResourceKind names the kind of object a permission check is evaluated
// against (spec §4.7).
type ResourceKind string

const (
	ResourceWorkspace  ResourceKind = "workspace"
	ResourceUserTool   ResourceKind = "user_tool"
	ResourceToolConfig ResourceKind = "tool_config"
	ResourceCredential ResourceKind = "credential"
	ResourceAgent      ResourceKind = "agent"
	ResourceProject    ResourceKind = "project"
	ResourceTool       ResourceKind = "tool" // a named tool invocation target, e.g. "gmail"
)

// Resource is the target of a permission check. OwnerUserID is empty for
// workspace-shared resources.
type Resource struct {
	Kind        ResourceKind
	ID          string
	WorkspaceID string
	OwnerUserID string
	ToolName    string // set when Kind == ResourceTool
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorizer evaluates whether a Principal may perform Verb on Resource.
// Implementations work over already-loaded records; permissions.Checker
// additionally consults its injected ProjectToolLookup for layer 3.
type Authorizer interface {
	Check(ctx context.Context, p Principal, verb Verb, res Resource) Decision
}
