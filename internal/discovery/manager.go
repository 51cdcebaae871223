package discovery

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/envreg"
	"github.com/namastexlabs/mcp-hub/internal/httperr"
	"github.com/namastexlabs/mcp-hub/internal/store"
)

func newAgentID() string { return uuid.NewString() }

// cacheEntry is keyed by the agent file's absolute path (spec §4.12 Cache).
type cacheEntry struct {
	fileHash string
	agent    ScannedAgent
}

// Manager owns the full scan → parse → cache → watch → write-back
// pipeline for every BaseFolder in a workspace.
type Manager struct {
	db       *store.Manager
	scanner  *Scanner
	debounce time.Duration
	log      logr.Logger

	mu      sync.Mutex
	cache   map[string]cacheEntry // absolute agent file path -> entry
	project map[string]string     // absolute agent file path -> project ID

	watcher *Watcher
}

func NewManager(db *store.Manager, maxDepth int, debounce time.Duration, log logr.Logger) *Manager {
	m := &Manager{
		db:       db,
		scanner:  NewScanner(maxDepth, log),
		debounce: debounce,
		log:      log.WithName("discovery-manager"),
		cache:    make(map[string]cacheEntry),
		project:  make(map[string]string),
	}
	return m
}

// SyncBaseFolder runs scan+parse+cache+store-reconcile for one base
// folder, within the HUB_DISCOVERY_SCAN_TIMEOUT budget, and (re)registers its
// projects' agents directories with the watcher if one is running.
func (m *Manager) SyncBaseFolder(ctx context.Context, bf *store.BaseFolder) ([]*store.Project, error) {
	release := m.db.AcquireScanSlot()
	defer release()

	ctx, cancel := context.WithTimeout(ctx, envreg.DiscoveryScanTimeout.Get())
	defer cancel()

	scanned, err := m.scanner.Scan(ctx, bf.Path)
	if err != nil {
		return nil, err
	}

	var result []*store.Project
	for _, proj := range scanned {
		p, err := Sync(m.db, bf.WorkspaceID, bf, proj)
		if err != nil {
			return result, err
		}
		result = append(result, p)

		m.mu.Lock()
		for _, a := range proj.Agents {
			absPath := filepath.Join(proj.AbsolutePath, a.RelativePath)
			m.cache[absPath] = cacheEntry{fileHash: a.FileHash, agent: a}
			m.project[absPath] = p.ID
		}
		m.mu.Unlock()

		if m.watcher != nil {
			if err := m.watcher.AddAgentsDir(proj.AbsolutePath); err != nil {
				m.log.Info("failed to watch agents directory", "project", proj.AbsolutePath, "error", err.Error())
			}
		}
	}
	return result, nil
}

// StartWatching launches the filesystem watcher; reparses of a changed
// file update both the in-memory cache and the Agent row (spec §4.12
// Watch: "reparse + cache update + a notification to subscribed
// sessions" — the notification hook is the onAgentChanged callback
// passed here, which reparse calls with the project ID and agent path).
func (m *Manager) StartWatching(onAgentChanged func(projectID, agentPath string)) error {
	w, err := NewWatcher(m.debounce, func(absPath string) {
		m.reparse(absPath, onAgentChanged)
	}, m.log)
	if err != nil {
		return err
	}
	m.watcher = w
	w.Start()
	return nil
}

func (m *Manager) StopWatching() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

func (m *Manager) reparse(absPath string, onAgentChanged func(projectID, agentPath string)) {
	m.mu.Lock()
	projectID, known := m.project[absPath]
	m.mu.Unlock()
	if !known {
		return
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		m.markBroken(projectID, absPath, err.Error())
		return
	}
	newHash := fileHash(raw)

	m.mu.Lock()
	prev, hadCache := m.cache[absPath]
	m.mu.Unlock()
	if hadCache && prev.fileHash == newHash {
		return // unchanged content, e.g. a touch with no write
	}

	pf, isAgent, err := parseAgentFile(raw)
	if err != nil {
		m.markBroken(projectID, absPath, err.Error())
		return
	}
	if !isAgent {
		return
	}
	rawFm, err := pf.rawFrontmatterExcludingHub()
	if err != nil {
		m.markBroken(projectID, absPath, err.Error())
		return
	}

	rel, _ := filepath.Rel(filepath.Dir(filepath.Dir(absPath)), absPath)
	toolkitJSON, _ := json.Marshal(pf.toolkit())
	agent, err := m.db.GetAgentByPath(projectID, rel)
	if err != nil {
		return
	}
	id := ""
	if agent != nil {
		id = agent.ID
	} else {
		id = newAgentID()
	}
	if err := m.db.UpsertAgent(&store.Agent{
		ID:             id,
		ProjectID:      projectID,
		RelativePath:   rel,
		Name:           pf.name,
		Icon:           pf.icon,
		FileHash:       newHash,
		Toolkit:        string(toolkitJSON),
		RawFrontmatter: rawFm,
		State:          store.AgentFresh,
	}); err != nil {
		m.log.Error(err, "failed to persist reparsed agent", "path", absPath)
		return
	}

	m.mu.Lock()
	m.cache[absPath] = cacheEntry{fileHash: newHash, agent: ScannedAgent{
		RelativePath: rel, Name: pf.name, Icon: pf.icon, FileHash: newHash,
		Toolkit: pf.toolkit(), RawFrontmatter: rawFm,
	}}
	m.mu.Unlock()

	if onAgentChanged != nil {
		onAgentChanged(projectID, rel)
	}
}

func (m *Manager) markBroken(projectID, absPath, reason string) {
	rel, _ := filepath.Rel(filepath.Dir(filepath.Dir(absPath)), absPath)
	agent, err := m.db.GetAgentByPath(projectID, rel)
	if err != nil || agent == nil {
		return
	}
	agent.State = store.AgentBroken
	agent.ErrorMessage = reason
	if err := m.db.UpsertAgent(agent); err != nil {
		m.log.Error(err, "failed to mark agent broken", "path", absPath)
	}
}

// UpdateToolkit implements the write-back steps from spec §4.12: DB
// transaction, mutate-only-hub.toolkit file rewrite, atomic rename,
// rollback-on-file-failure, best-effort file-restore-on-DB-failure.
func (m *Manager) UpdateToolkit(agentID string, inner ToolkitInner, configuredBy string) error {
	agent, err := m.db.GetAgent(agentID)
	if err != nil {
		return err
	}
	if agent == nil {
		return httperr.NewNotFound("agent not found")
	}
	project, err := m.db.GetProject(agent.ProjectID)
	if err != nil {
		return err
	}
	if project == nil {
		return httperr.NewNotFound("project not found")
	}
	absPath := filepath.Join(project.AbsolutePath, agent.RelativePath)

	originalBytes, err := os.ReadFile(absPath)
	if err != nil {
		return httperr.NewFrontmatterWriteFailed(err, false)
	}
	pf, isAgent, err := parseAgentFile(originalBytes)
	if err != nil || !isAgent {
		return httperr.NewFrontmatterWriteFailed(err, false)
	}

	tx := m.db.Begin()
	toolkitJSON, _ := json.Marshal(inner)
	if err := m.db.UpdateAgentToolkit(tx, agentID, string(toolkitJSON)); err != nil {
		tx.Rollback()
		return err
	}

	newBytes, err := pf.mutateToolkit(inner, configuredBy)
	if err != nil {
		tx.Rollback()
		return httperr.NewFrontmatterWriteFailed(err, false)
	}
	if err := atomicWrite(absPath, newBytes); err != nil {
		tx.Rollback()
		return httperr.NewFrontmatterWriteFailed(err, false)
	}

	if err := tx.Commit().Error; err != nil {
		// File write already landed; best-effort restore the previous
		// bytes so file and DB don't diverge. If that also fails, the
		// file is left as-is for the next reconcile to re-sync from it.
		if restoreErr := atomicWrite(absPath, originalBytes); restoreErr != nil {
			return httperr.NewFrontmatterWriteFailed(err, true)
		}
		return httperr.NewFrontmatterWriteFailed(err, false)
	}

	m.mu.Lock()
	m.cache[absPath] = cacheEntry{fileHash: fileHash(newBytes), agent: ScannedAgent{
		RelativePath: agent.RelativePath, Toolkit: inner,
	}}
	m.mu.Unlock()
	return nil
}

// atomicWrite implements write-to-temp + rename (spec §4.12 step 3).
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".frontmatter-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
