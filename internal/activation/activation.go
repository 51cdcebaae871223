// Package activation implements C10: per-user tool activation, its
// configuration, and the read-through catalogue view over C9.
package activation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/crypto"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/registry"
	"github.com/namastexlabs/mcp-hub/internal/store"
	"github.com/namastexlabs/mcp-hub/internal/vault"
)

// Outcome tags the two successful results of Activate (spec §4.10);
// every other result is returned as an error.
type Outcome string

const (
	OutcomeActivated  Outcome = "activated"
	OutcomeNeedsOAuth Outcome = "needs_oauth"
)

type ActivateResult struct {
	Outcome      Outcome
	Provider     string
	AuthorizeURL string
}

// Auditor is the narrow slice of internal/audit.Logger this package
// needs, kept local so activation never imports audit directly.
type Auditor interface {
	ToolActivated(ctx context.Context, workspaceID, userID, toolName string)
	ToolDeactivated(ctx context.Context, workspaceID, userID, toolName string)
}

type noopAuditor struct{}

func (noopAuditor) ToolActivated(context.Context, string, string, string)   {}
func (noopAuditor) ToolDeactivated(context.Context, string, string, string) {}

type Manager struct {
	db       *store.Manager
	registry *registry.Registry
	vault    *vault.Vault
	sealer   *crypto.Sealer
	audit    Auditor
}

func New(db *store.Manager, reg *registry.Registry, v *vault.Vault, sealer *crypto.Sealer) *Manager {
	return &Manager{db: db, registry: reg, vault: v, sealer: sealer, audit: noopAuditor{}}
}

// SetAuditor wires the audit sink in after construction, so existing
// callers that never set one keep working against the no-op default.
func (m *Manager) SetAuditor(auditor Auditor) {
	m.audit = auditor
}

// ListCatalogue implements list_catalogue: a read-through to C9.
func (m *Manager) ListCatalogue() []registry.Descriptor {
	return m.registry.List()
}

// Activate implements activate (spec §4.10 steps 1-4).
func (m *Manager) Activate(ctx context.Context, workspaceID, userID, toolName string, partialConfig map[string]any) (ActivateResult, error) {
	desc, ok := m.registry.Get(toolName)
	if !ok {
		return ActivateResult{}, httperr.NewUnknownTool(toolName)
	}

	for _, req := range desc.RequiredOAuth {
		if _, err := m.vault.GetOAuth(ctx, userID, req.Provider, req.Scopes); err != nil {
			if herr, ok := err.(*httperr.Error); ok && herr.K == httperr.KindReauthRequired {
				return ActivateResult{Outcome: OutcomeNeedsOAuth, Provider: req.Provider, AuthorizeURL: authorizeURLFrom(herr)}, nil
			}
			return ActivateResult{}, err
		}
	}

	fieldErrors, err := m.registry.ValidateConfig(toolName, partialConfig)
	if err != nil {
		return ActivateResult{}, err
	}
	if len(fieldErrors) > 0 {
		return ActivateResult{}, httperr.NewInvalidConfig(fieldErrors)
	}

	ut, err := m.upsertEnabled(workspaceID, userID, toolName, true)
	if err != nil {
		return ActivateResult{}, err
	}
	if err := m.replaceConfigs(ut.ID, toolName, partialConfig); err != nil {
		return ActivateResult{}, err
	}
	m.audit.ToolActivated(ctx, workspaceID, userID, toolName)
	return ActivateResult{Outcome: OutcomeActivated}, nil
}

// Deactivate implements deactivate: a soft delete that never touches
// credentials or configuration (spec §4.10).
func (m *Manager) Deactivate(workspaceID, userID, toolName string) error {
	ut, err := m.db.GetUserTool(userID, toolName)
	if err != nil {
		return err
	}
	if ut == nil {
		return httperr.NewToolNotActivated(toolName)
	}
	if _, err = m.upsertEnabled(workspaceID, userID, toolName, false); err != nil {
		return err
	}
	m.audit.ToolDeactivated(context.Background(), workspaceID, userID, toolName)
	return nil
}

// GetConfig implements get_config, opening any sealed values.
func (m *Manager) GetConfig(userID, toolName string) (map[string]any, error) {
	ut, err := m.activeUserTool(userID, toolName)
	if err != nil {
		return nil, err
	}
	configs, err := m.db.GetToolConfigs(ut.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(configs))
	for _, c := range configs {
		value := c.Value
		if c.Encrypted {
			plain, err := m.sealer.OpenString(value)
			if err != nil {
				return nil, httperr.NewCryptoError(err)
			}
			value = plain
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			decoded = value
		}
		out[c.Key] = decoded
	}
	return out, nil
}

// UpdateConfig implements update_config: a patch merged over the current
// config, validated and replaced atomically, same rules as activate.
func (m *Manager) UpdateConfig(userID, toolName string, patch map[string]any) error {
	ut, err := m.activeUserTool(userID, toolName)
	if err != nil {
		return err
	}
	current, err := m.GetConfig(userID, toolName)
	if err != nil {
		return err
	}
	for k, v := range patch {
		current[k] = v
	}
	fieldErrors, err := m.registry.ValidateConfig(toolName, current)
	if err != nil {
		return err
	}
	if len(fieldErrors) > 0 {
		return httperr.NewInvalidConfig(fieldErrors)
	}
	return m.replaceConfigs(ut.ID, toolName, current)
}

// ListActive implements list_active.
func (m *Manager) ListActive(userID string) ([]store.UserTool, error) {
	return m.db.ListUserTools(userID)
}

func (m *Manager) activeUserTool(userID, toolName string) (*store.UserTool, error) {
	ut, err := m.db.GetUserTool(userID, toolName)
	if err != nil {
		return nil, err
	}
	if ut == nil || !ut.Enabled {
		return nil, httperr.NewToolNotActivated(toolName)
	}
	return ut, nil
}

func (m *Manager) upsertEnabled(workspaceID, userID, toolName string, enabled bool) (*store.UserTool, error) {
	if err := m.db.UpsertUserTool(&store.UserTool{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		UserID:      userID,
		ToolName:    toolName,
		Enabled:     enabled,
	}); err != nil {
		return nil, err
	}
	return m.db.GetUserTool(userID, toolName)
}

// replaceConfigs seals any key the tool's schema marks x-encrypted before
// the atomic delete+recreate (spec §4.10 get_config/update_config).
func (m *Manager) replaceConfigs(userToolID, toolName string, config map[string]any) error {
	encryptedKeys := m.registry.EncryptedKeys(toolName)
	configs := make([]store.ToolConfig, 0, len(config))
	now := time.Now()
	for k, v := range config {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		value := string(raw)
		encrypted := encryptedKeys[k]
		if encrypted {
			sealed, err := m.sealer.SealString(value)
			if err != nil {
				return httperr.NewCryptoError(err)
			}
			value = sealed
		}
		configs = append(configs, store.ToolConfig{
			ID:        uuid.NewString(),
			Key:       k,
			Value:     value,
			Encrypted: encrypted,
			UpdatedAt: now,
		})
	}
	return m.db.ReplaceToolConfigs(userToolID, configs)
}

func authorizeURLFrom(herr *httperr.Error) string {
	if herr.Details == nil {
		return ""
	}
	url, _ := herr.Details["authorize_url"].(string)
	return url
}
