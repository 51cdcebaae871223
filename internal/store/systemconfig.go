package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// GetSystemConfig returns the singleton row, or (nil, nil) if first boot
// hasn't created it yet.
func (m *Manager) GetSystemConfig() (*SystemConfig, error) {
	var cfg SystemConfig
	err := m.db.First(&cfg, "id = 1").Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CreateSystemConfig creates the singleton row at first boot. Fails if a
// row already exists (caller should check GetSystemConfig first).
func (m *Manager) CreateSystemConfig(salt []byte) (*SystemConfig, error) {
	cfg := &SystemConfig{ID: 1, AppMode: ModeUnconfigured, EncryptionSalt: salt}
	if err := m.db.Create(cfg).Error; err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetAppMode persists a mode transition. Callers (internal/mode) are
// responsible for enforcing monotonicity before calling this.
func (m *Manager) SetAppMode(mode AppMode) error {
	return m.SetAppModeTx(m.db, mode)
}

// SetAppModeTx is SetAppMode run against an externally managed
// transaction, letting a caller flip the mode flag atomically alongside
// the config rows the new mode depends on.
func (m *Manager) SetAppModeTx(tx *gorm.DB, mode AppMode) error {
	return tx.Model(&SystemConfig{}).Where("id = 1").Updates(map[string]any{
		"app_mode":   mode,
		"updated_at": time.Now(),
	}).Error
}
