// Package store is the Hub's relational data layer (spec §3, C2). It wraps
// gorm.io/gorm the way internal/database/manager.go wraps it in the
// teacher: a Manager owning *gorm.DB plus a bounded scan semaphore kept
// separate from the request-serving pool.
package store

import (
	"time"
)

// AppMode is the bootstrap state machine's current state (C4).
type AppMode string

const (
	ModeUnconfigured AppMode = "UNCONFIGURED"
	ModeLocal        AppMode = "LOCAL"
	ModeWorkOS       AppMode = "WORKOS"
)

// SystemConfig is the singleton row gating the whole deployment.
type SystemConfig struct {
	ID             uint   `gorm:"primaryKey;autoIncrement:false;default:1"`
	AppMode        AppMode `gorm:"not null;default:'UNCONFIGURED'"`
	EncryptionSalt []byte `gorm:"not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConfigEntry is a single key/value row backing the Config Store (C3).
// Encrypted values hold ciphertext produced by internal/crypto.
type ConfigEntry struct {
	Key       string `gorm:"primaryKey"`
	Value     string // plaintext JSON, or base64 ciphertext when Encrypted
	Encrypted bool
	UpdatedAt time.Time
}

// Workspace is the tenant boundary (spec §3).
type Workspace struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Slug      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
}

// User is a workspace principal.
type User struct {
	ID           string `gorm:"primaryKey"`
	WorkspaceID  string `gorm:"not null;index:idx_user_workspace_email,unique"`
	Email        string `gorm:"not null;index:idx_user_workspace_email,unique"`
	DisplayName  string
	// ExternalSubject holds the identity provider's subject claim (WorkOS
	// mode only); empty in LOCAL mode.
	ExternalSubject string
	IsSuperAdmin    bool
	CreatedAt       time.Time
	LastSeenAt      *time.Time
}

// ToolRegistryEntry is the catalog row populated from the filesystem/
// embedded descriptor scan (C9). Not user-editable.
type ToolRegistryEntry struct {
	ToolName       string `gorm:"primaryKey"` // kebab-case
	DisplayName    string
	Description    string
	Category       string
	ConfigSchema   string // raw JSON Schema document
	RequiredOAuth  string // comma-joined provider names
	AuthType       string // none | api_key | oauth
	Icon           string
	Stale          bool
	UpdatedAt      time.Time
}

// UserTool is the soft-activation record (C10).
type UserTool struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"not null"`
	UserID      string `gorm:"not null;index:idx_user_tool,unique"`
	ToolName    string `gorm:"not null;index:idx_user_tool,unique"`
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToolConfig is a per-user configuration value scoped to a UserTool.
type ToolConfig struct {
	ID         string `gorm:"primaryKey"`
	UserToolID string `gorm:"not null;index:idx_tool_config,unique"`
	Key        string `gorm:"not null;index:idx_tool_config,unique"`
	Value      string // JSON, or ciphertext when Encrypted
	Encrypted  bool
	UpdatedAt  time.Time
}

// CredentialKind distinguishes API-key from OAuth2 credentials.
type CredentialKind string

const (
	CredentialAPIKey CredentialKind = "api_key"
	CredentialOAuth2 CredentialKind = "oauth2"
)

// Credential is a per-user secret bound to a provider (C8). All secret
// fields are stored sealed (ciphertext produced by internal/crypto); this
// model stores the ciphertext, never plaintext.
type Credential struct {
	ID            string `gorm:"primaryKey"`
	WorkspaceID   string `gorm:"not null"`
	UserID        string `gorm:"not null;index:idx_credential,unique"`
	Provider      string `gorm:"not null;index:idx_credential,unique"`
	Kind          CredentialKind `gorm:"not null"`
	SealedSecret  []byte // api_key path
	SealedAccess  []byte // oauth2 path
	SealedRefresh []byte // oauth2 path, may be empty
	ExpiresAt     *time.Time
	Scopes        string // space-joined
	IssuedAt      time.Time
	UpdatedAt     time.Time
}

// BaseFolder is a filesystem root the user grants the Hub to scan (C12).
type BaseFolder struct {
	ID          string `gorm:"primaryKey"`
	WorkspaceID string `gorm:"not null"`
	Path        string `gorm:"not null"`
	Label       string
	CreatedAt   time.Time
}

// Project is one discovered git repository under a BaseFolder.
type Project struct {
	ID            string `gorm:"primaryKey"`
	BaseFolderID  string `gorm:"not null;index"`
	Name          string
	AbsolutePath  string `gorm:"uniqueIndex"`
	LastScannedAt *time.Time
}

// AgentState is the discovery state machine for one Agent row (§4.12).
type AgentState string

const (
	AgentFresh  AgentState = "fresh"
	AgentDirty  AgentState = "dirty"
	AgentBroken AgentState = "broken"
)

// Agent is a Markdown-with-frontmatter file under a Project's agents dir.
type Agent struct {
	ID             string `gorm:"primaryKey"`
	ProjectID      string `gorm:"not null;index:idx_agent_project_path,unique"`
	RelativePath   string `gorm:"not null;index:idx_agent_project_path,unique"`
	Name           string
	Icon           string
	FileHash       string
	Toolkit        string // JSON serialization of the hub.toolkit subtree
	RawFrontmatter string // JSON serialization of the rest of the frontmatter
	State          AgentState
	ErrorMessage   string
	UpdatedAt      time.Time
}

// ProjectTool is a project-level tool grant agents can inherit via
// hub.toolkit.inherit_project_tools (§4.7 layer 3).
type ProjectTool struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"not null;index:idx_project_tool,unique"`
	ToolName  string `gorm:"not null;index:idx_project_tool,unique"`
	Enabled   bool
}

// AuditEvent is an append-only row; components must never update or
// delete one once written (C14).
type AuditEvent struct {
	ID           string `gorm:"primaryKey"`
	WorkspaceID  string `gorm:"index"`
	ActorUserID  string
	ActorEmail   string
	Category     string `gorm:"index"` // auth | tool | credential | admin | workspace
	Action       string
	TargetType   string
	TargetID     string
	TargetName   string
	Success      bool
	ErrorMessage string
	OccurredAt   time.Time `gorm:"index"`
}

// AllModels lists every table for AutoMigrate/migration generation.
func AllModels() []any {
	return []any{
		&SystemConfig{}, &ConfigEntry{}, &Workspace{}, &User{},
		&ToolRegistryEntry{}, &UserTool{}, &ToolConfig{}, &Credential{},
		&BaseFolder{}, &Project{}, &Agent{}, &ProjectTool{}, &AuditEvent{},
	}
}
