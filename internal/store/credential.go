package store

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *Manager) GetCredential(userID, provider string) (*Credential, error) {
	var c Credential
	err := m.db.First(&c, "user_id = ? AND provider = ?", userID, provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &c, err
}

// UpsertCredential replaces any previous token for (user_id, provider),
// per §4.8 complete_oauth semantics.
func (m *Manager) UpsertCredential(c *Credential) error {
	return m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "sealed_secret", "sealed_access", "sealed_refresh",
			"expires_at", "scopes", "issued_at", "updated_at",
		}),
	}).Create(c).Error
}

func (m *Manager) DeleteCredential(userID, provider string) error {
	return m.db.Where("user_id = ? AND provider = ?", userID, provider).Delete(&Credential{}).Error
}
