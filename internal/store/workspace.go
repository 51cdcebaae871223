package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

func (m *Manager) CreateWorkspace(ws *Workspace) error {
	return m.db.Create(ws).Error
}

func (m *Manager) GetWorkspace(id string) (*Workspace, error) {
	var ws Workspace
	err := m.db.First(&ws, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ws, err
}

func (m *Manager) GetWorkspaceBySlug(slug string) (*Workspace, error) {
	var ws Workspace
	err := m.db.First(&ws, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ws, err
}

func (m *Manager) FirstWorkspace() (*Workspace, error) {
	var ws Workspace
	err := m.db.Order("created_at asc").First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &ws, err
}

func (m *Manager) CreateUser(u *User) error {
	return m.db.Create(u).Error
}

func (m *Manager) GetUserByID(id string) (*User, error) {
	var u User
	err := m.db.First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &u, err
}

func (m *Manager) GetUserByEmail(workspaceID, email string) (*User, error) {
	var u User
	err := m.db.First(&u, "workspace_id = ? AND email = ?", workspaceID, email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &u, err
}

func (m *Manager) UpdateUserLastSeen(id string, when time.Time) error {
	return m.db.Model(&User{}).Where("id = ?", id).Update("last_seen_at", when).Error
}

// SetUserSuperAdmin implements the admin/super-admin-grant endpoint.
func (m *Manager) SetUserSuperAdmin(id string, isSuperAdmin bool) error {
	return m.db.Model(&User{}).Where("id = ?", id).Update("is_super_admin", isSuperAdmin).Error
}

func (m *Manager) ListUsers(workspaceID string) ([]User, error) {
	var users []User
	err := m.db.Where("workspace_id = ?", workspaceID).Find(&users).Error
	return users, err
}
