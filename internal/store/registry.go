package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertToolRegistryEntry implements the "rewritten on every Hub start"
// lifecycle from spec §3 ToolRegistryEntry.
func (m *Manager) UpsertToolRegistryEntry(e *ToolRegistryEntry) error {
	return m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tool_name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_name", "description", "category", "config_schema",
			"required_oauth", "auth_type", "icon", "stale", "updated_at",
		}),
	}).Create(e).Error
}

// MarkRegistryEntriesStale flags every current entry as stale before a
// fresh scan; entries touched by UpsertToolRegistryEntry un-flag themselves.
func (m *Manager) MarkRegistryEntriesStale() error {
	return m.db.Model(&ToolRegistryEntry{}).Where("1 = 1").Update("stale", true).Error
}

func (m *Manager) ListToolRegistryEntries() ([]ToolRegistryEntry, error) {
	var entries []ToolRegistryEntry
	err := m.db.Order("tool_name asc").Find(&entries).Error
	return entries, err
}

func (m *Manager) GetToolRegistryEntry(name string) (*ToolRegistryEntry, error) {
	var e ToolRegistryEntry
	err := m.db.First(&e, "tool_name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &e, err
}
