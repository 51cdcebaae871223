package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetConfigEntry implements C3's get(key) -> value?.
func (m *Manager) GetConfigEntry(key string) (*ConfigEntry, error) {
	var e ConfigEntry
	err := m.db.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SetConfigEntry implements C3's set(key, value, encrypted).
func (m *Manager) SetConfigEntry(key, value string, encrypted bool) error {
	return m.SetConfigEntryTx(m.db, key, value, encrypted)
}

// SetConfigEntryTx is SetConfigEntry run against an externally managed
// transaction, so a caller staging several keys (e.g. mode's WorkOS
// config swap) can commit or roll them all back as one unit.
func (m *Manager) SetConfigEntryTx(tx *gorm.DB, key, value string, encrypted bool) error {
	e := ConfigEntry{Key: key, Value: value, Encrypted: encrypted, UpdatedAt: time.Now()}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "encrypted", "updated_at"}),
	}).Create(&e).Error
}
