package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

func setupTestDB(t *testing.T) *store.Manager {
	t.Helper()
	db, err := store.NewManager(&store.Config{DatabaseType: store.DatabaseTypeSqlite, SqlitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func writeAgentFile(t *testing.T, projectDir, name, content string) string {
	t.Helper()
	agentsDir := filepath.Join(projectDir, AgentsDirName)
	require.NoError(t, os.MkdirAll(agentsDir, 0o755))
	path := filepath.Join(agentsDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleAgent = `---
name: reviewer
hub:
  icon: wand
  toolkit:
    tools:
      - name: slack
        permissions: [read]
    inherit_project_tools: true
---
# Reviewer

Body text.
`

func TestScanFindsProjectAndParsesAgent(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	writeAgentFile(t, projectDir, "reviewer.md", sampleAgent)

	s := NewScanner(12, logr.Discard())
	projects, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Len(t, projects[0].Agents, 1)

	agent := projects[0].Agents[0]
	assert.Equal(t, "reviewer", agent.Name)
	assert.Equal(t, "wand", agent.Icon)
	assert.False(t, agent.Broken)
	assert.True(t, agent.Toolkit.InheritProjectTools)
	require.Len(t, agent.Toolkit.Tools, 1)
	assert.Equal(t, "slack", agent.Toolkit.Tools[0].Name)
}

func TestScanSkipsHiddenDirectoriesAndRespectsDepth(t *testing.T) {
	root := t.TempDir()
	hidden := filepath.Join(root, ".hidden")
	require.NoError(t, os.MkdirAll(filepath.Join(hidden, ".git"), 0o755))

	s := NewScanner(12, logr.Discard())
	projects, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, projects)

	deep := filepath.Join(root, "a", "b", "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(deep, ".git"), 0o755))
	projects, err = NewScanner(2, logr.Discard()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, projects, "a project deeper than maxDepth must not be reached")

	projects, err = NewScanner(3, logr.Discard()).Scan(context.Background(), root)
	require.NoError(t, err)
	assert.Len(t, projects, 1, "a project at exactly maxDepth is found")
}

func TestScanMarksMalformedFrontmatterBroken(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	writeAgentFile(t, projectDir, "broken.md", "---\nname: [unterminated\n---\nbody\n")

	s := NewScanner(12, logr.Discard())
	projects, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Len(t, projects[0].Agents, 1)
	assert.True(t, projects[0].Agents[0].Broken)
}

func TestSyncPersistsProjectAndAgents(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	writeAgentFile(t, projectDir, "reviewer.md", sampleAgent)

	s := NewScanner(12, logr.Discard())
	scanned, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, scanned, 1)

	bf := &store.BaseFolder{ID: "bf-1", WorkspaceID: "ws-1", Path: root}
	require.NoError(t, db.CreateBaseFolder(bf))

	p, err := Sync(db, "ws-1", bf, scanned[0])
	require.NoError(t, err)
	require.NotNil(t, p)

	agents, err := db.ListAgents(p.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, store.AgentFresh, agents[0].State)
	assert.Equal(t, "reviewer", agents[0].Name)
}

func TestUpdateToolkitRewritesFileAndDB(t *testing.T) {
	db := setupTestDB(t)
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	agentPath := writeAgentFile(t, projectDir, "reviewer.md", sampleAgent)

	s := NewScanner(12, logr.Discard())
	scanned, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	bf := &store.BaseFolder{ID: "bf-1", WorkspaceID: "ws-1", Path: root}
	require.NoError(t, db.CreateBaseFolder(bf))
	p, err := Sync(db, "ws-1", bf, scanned[0])
	require.NoError(t, err)
	agents, err := db.ListAgents(p.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)

	mgr := NewManager(db, 12, 500*time.Millisecond, logr.Discard())
	newToolkit := ToolkitInner{
		Tools:               []ToolGrant{{Name: "gmail", Permissions: []string{"send"}}},
		InheritProjectTools: false,
	}
	require.NoError(t, mgr.UpdateToolkit(agents[0].ID, newToolkit, "admin@example.com"))

	raw, err := os.ReadFile(agentPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gmail")

	_, origBody, ok := splitFrontmatter([]byte(sampleAgent))
	require.True(t, ok)
	_, rewrittenBody, ok := splitFrontmatter(raw)
	require.True(t, ok)
	assert.Equal(t, origBody, rewrittenBody, "write-back must preserve the Markdown body byte-for-byte, not just contain a substring of it")

	reparsed, ok, err := parseAgentFile(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "reviewer", reparsed.name)
	assert.Equal(t, "wand", reparsed.icon, "sibling hub keys untouched by the toolkit update must survive")

	updated, err := db.GetAgent(agents[0].ID)
	require.NoError(t, err)
	assert.Contains(t, updated.Toolkit, "gmail")
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "proj")
	require.NoError(t, os.MkdirAll(filepath.Join(projectDir, ".git"), 0o755))
	agentPath := writeAgentFile(t, projectDir, "reviewer.md", sampleAgent)

	var fired []string
	w, err := NewWatcher(50*time.Millisecond, func(p string) { fired = append(fired, p) }, logr.Discard())
	require.NoError(t, err)
	require.NoError(t, w.AddAgentsDir(projectDir))
	w.Start()
	t.Cleanup(w.Stop)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(agentPath, []byte(sampleAgent), 0o644))
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	assert.LessOrEqual(t, len(fired), 1, "rapid successive writes within the debounce window must coalesce")
}
