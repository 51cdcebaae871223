// Package mode implements C4, the bootstrap state machine gating all
// non-setup traffic (spec §4.4). State transitions are monotone:
// UNCONFIGURED -> LOCAL | WORKOS, LOCAL -> WORKOS, never backward.
package mode

import (
	"context"
	"strings"

	"github.com/namastexlabs/mcp-hub/internal/configstore"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

// WorkOSValidator validates WorkOS credentials against the provider
// before they are persisted (spec §4.4 configure_workos/upgrade_to_workos).
// Implemented by internal/identity so this package has no direct HTTP
// dependency on the identity provider's wire format.
type WorkOSValidator interface {
	Validate(ctx context.Context, clientID, apiKey, authKitDomain string) error
}

type Manager struct {
	db        *store.Manager
	cfg       *configstore.Store
	validator WorkOSValidator
}

func New(db *store.Manager, cfg *configstore.Store, validator WorkOSValidator) *Manager {
	return &Manager{db: db, cfg: cfg, validator: validator}
}

// Current returns the deployment's current mode, reporting UNCONFIGURED
// when the singleton SystemConfig row does not exist yet; it never creates
// the row (EnsureBootstrapped does).
func (m *Manager) Current() (store.AppMode, error) {
	sc, err := m.db.GetSystemConfig()
	if err != nil {
		return "", err
	}
	if sc == nil {
		return store.ModeUnconfigured, nil
	}
	return sc.AppMode, nil
}

// EnsureBootstrapped creates the SystemConfig row if absent, deriving a
// fresh encryption_salt. Called once at process start, before the first
// request is served.
func (m *Manager) EnsureBootstrapped(newSalt func() ([]byte, error)) error {
	sc, err := m.db.GetSystemConfig()
	if err != nil {
		return err
	}
	if sc != nil {
		return nil
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	_, err = m.db.CreateSystemConfig(salt)
	return err
}

// ConfigureLocal implements configure_local: fails unless UNCONFIGURED.
func (m *Manager) ConfigureLocal(ctx context.Context, adminEmail string) error {
	current, err := m.Current()
	if err != nil {
		return err
	}
	if current != store.ModeUnconfigured {
		return httperr.NewAlreadyConfigured("already configured")
	}
	if err := m.cfg.Set(configstore.KeyLocalAdminEmail, adminEmail, false); err != nil {
		return err
	}
	return m.db.SetAppMode(store.ModeLocal)
}

// WorkOSParams are the credentials supplied to configure_workos /
// upgrade_to_workos.
type WorkOSParams struct {
	ClientID         string
	APIKey           string
	AuthKitDomain    string
	SuperAdminEmails []string
}

// ConfigureWorkOS implements configure_workos: fails unless UNCONFIGURED;
// validates credentials against the provider before persisting.
func (m *Manager) ConfigureWorkOS(ctx context.Context, p WorkOSParams) error {
	current, err := m.Current()
	if err != nil {
		return err
	}
	if current != store.ModeUnconfigured {
		return httperr.NewAlreadyConfigured("already configured")
	}
	return m.persistWorkOS(ctx, p, nil)
}

// UpgradeToWorkOS implements upgrade_to_workos: permitted from LOCAL only,
// atomic swap, preserves the existing workspace. Per SPEC_FULL.md's Open
// Question decision, the local admin's email is carried into
// super_admin_emails automatically unless already present.
func (m *Manager) UpgradeToWorkOS(ctx context.Context, p WorkOSParams) error {
	current, err := m.Current()
	if err != nil {
		return err
	}
	if current != store.ModeLocal {
		return httperr.NewConflict("upgrade_to_workos requires LOCAL mode")
	}
	localAdmin, _, err := m.cfg.Get(configstore.KeyLocalAdminEmail)
	if err != nil {
		return err
	}
	return m.persistWorkOS(ctx, p, &localAdmin)
}

func (m *Manager) persistWorkOS(ctx context.Context, p WorkOSParams, carryOverAdmin *string) error {
	if m.validator != nil {
		if err := m.validator.Validate(ctx, p.ClientID, p.APIKey, p.AuthKitDomain); err != nil {
			return httperr.NewBadRequest("workos credential validation failed", err)
		}
	}

	emails := p.SuperAdminEmails
	if carryOverAdmin != nil && *carryOverAdmin != "" && !containsFold(emails, *carryOverAdmin) {
		emails = append(emails, *carryOverAdmin)
	}

	// The four config rows plus the mode flip must land together: a crash
	// mid-sequence must never leave WorkOS credentials persisted without
	// the mode actually having flipped (or vice versa).
	tx := m.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := m.cfg.SetTx(tx, configstore.KeyWorkOSClientID, p.ClientID, false); err != nil {
		tx.Rollback()
		return err
	}
	if err := m.cfg.SetTx(tx, configstore.KeyWorkOSAPIKey, p.APIKey, true); err != nil {
		tx.Rollback()
		return err
	}
	if err := m.cfg.SetTx(tx, configstore.KeyWorkOSAuthKitDomain, p.AuthKitDomain, false); err != nil {
		tx.Rollback()
		return err
	}
	if err := m.cfg.SetTx(tx, configstore.KeyWorkOSSuperAdmins, strings.Join(emails, ","), false); err != nil {
		tx.Rollback()
		return err
	}
	if err := m.db.SetAppModeTx(tx, store.ModeWorkOS); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
