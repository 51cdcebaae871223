package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *Manager) GetUserTool(userID, toolName string) (*UserTool, error) {
	var ut UserTool
	err := m.db.First(&ut, "user_id = ? AND tool_name = ?", userID, toolName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ut, err
}

// UpsertUserTool implements the at-most-one-row invariant from spec §3:
// reactivating flips `enabled` rather than inserting a second row. The
// insert-or-update is one statement, so concurrent activations of the
// same (user, tool) pair never collide on the unique index.
func (m *Manager) UpsertUserTool(ut *UserTool) error {
	now := time.Now()
	ut.CreatedAt = now
	ut.UpdatedAt = now
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "tool_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(ut).Error
}

func (m *Manager) ListUserTools(userID string) ([]UserTool, error) {
	var tools []UserTool
	err := m.db.Where("user_id = ? AND enabled = ?", userID, true).Find(&tools).Error
	return tools, err
}

// ReplaceToolConfigs atomically replaces every ToolConfig row for a
// UserTool, per §4.10 activate step 4.
func (m *Manager) ReplaceToolConfigs(userToolID string, configs []ToolConfig) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_tool_id = ?", userToolID).Delete(&ToolConfig{}).Error; err != nil {
			return err
		}
		if len(configs) == 0 {
			return nil
		}
		for i := range configs {
			configs[i].UserToolID = userToolID
			configs[i].UpdatedAt = time.Now()
		}
		return tx.Create(&configs).Error
	})
}

func (m *Manager) GetToolConfigs(userToolID string) ([]ToolConfig, error) {
	var configs []ToolConfig
	err := m.db.Where("user_tool_id = ?", userToolID).Find(&configs).Error
	return configs, err
}
