package store

// InsertAuditEvent appends one immutable row. Callers never update or
// delete an AuditEvent afterward (spec §3 invariant).
func (m *Manager) InsertAuditEvent(e *AuditEvent) error {
	return m.db.Create(e).Error
}

type AuditQuery struct {
	Category string
	Limit    int
	Offset   int
}

func (m *Manager) ListAuditEvents(workspaceID string, q AuditQuery) ([]AuditEvent, error) {
	tx := m.db.Where("workspace_id = ?", workspaceID).Order("occurred_at desc")
	if q.Category != "" {
		tx = tx.Where("category = ?", q.Category)
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	var events []AuditEvent
	err := tx.Limit(q.Limit).Offset(q.Offset).Find(&events).Error
	return events, err
}
