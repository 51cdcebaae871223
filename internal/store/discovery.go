package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *Manager) CreateBaseFolder(bf *BaseFolder) error { return m.db.Create(bf).Error }

func (m *Manager) ListBaseFolders(workspaceID string) ([]BaseFolder, error) {
	var folders []BaseFolder
	err := m.db.Where("workspace_id = ?", workspaceID).Find(&folders).Error
	return folders, err
}

func (m *Manager) GetBaseFolder(id string) (*BaseFolder, error) {
	var bf BaseFolder
	err := m.db.First(&bf, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &bf, err
}

func (m *Manager) UpsertProject(p *Project) error {
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "absolute_path"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "last_scanned_at"}),
	}).Create(p).Error
}

func (m *Manager) ListProjects(baseFolderID string) ([]Project, error) {
	var projects []Project
	err := m.db.Where("base_folder_id = ?", baseFolderID).Find(&projects).Error
	return projects, err
}

func (m *Manager) GetProject(id string) (*Project, error) {
	var p Project
	err := m.db.First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &p, err
}

func (m *Manager) GetAgentByPath(projectID, relativePath string) (*Agent, error) {
	var a Agent
	err := m.db.First(&a, "project_id = ? AND relative_path = ?", projectID, relativePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

func (m *Manager) GetAgent(id string) (*Agent, error) {
	var a Agent
	err := m.db.First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &a, err
}

func (m *Manager) UpsertAgent(a *Agent) error {
	a.UpdatedAt = time.Now()
	return m.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "relative_path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "icon", "file_hash", "toolkit", "raw_frontmatter",
			"state", "error_message", "updated_at",
		}),
	}).Create(a).Error
}

func (m *Manager) ListAgents(projectID string) ([]Agent, error) {
	var agents []Agent
	err := m.db.Where("project_id = ?", projectID).Find(&agents).Error
	return agents, err
}

// UpdateAgentToolkit persists just the toolkit subtree inside a
// transaction; the caller (internal/discovery) writes the frontmatter
// file within the same transaction's lifetime and rolls back on failure.
func (m *Manager) UpdateAgentToolkit(tx *gorm.DB, agentID, toolkitJSON string) error {
	return tx.Model(&Agent{}).Where("id = ?", agentID).Updates(map[string]any{
		"toolkit":    toolkitJSON,
		"state":      AgentFresh,
		"updated_at": time.Now(),
	}).Error
}

// Begin starts a transaction for callers that must straddle a DB update
// and an external side effect (frontmatter write) per §4.12 write-back.
func (m *Manager) Begin() *gorm.DB { return m.db.Begin() }

func (m *Manager) UpsertProjectTool(pt *ProjectTool) error {
	return m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "tool_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled"}),
	}).Create(pt).Error
}

func (m *Manager) ListProjectTools(projectID string) ([]ProjectTool, error) {
	var tools []ProjectTool
	err := m.db.Where("project_id = ? AND enabled = ?", projectID, true).Find(&tools).Error
	return tools, err
}

// IsProjectToolEnabled implements permissions.ProjectToolLookup, the
// tier-3 inheritance check for agent toolkits (§4.7).
func (m *Manager) IsProjectToolEnabled(ctx context.Context, projectID, toolName string) (bool, error) {
	var count int64
	err := m.db.WithContext(ctx).Model(&ProjectTool{}).
		Where("project_id = ? AND tool_name = ? AND enabled = ?", projectID, toolName, true).
		Count(&count).Error
	return count > 0, err
}
