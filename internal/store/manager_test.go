package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(&Config{
		DatabaseType: DatabaseTypeSqlite,
		SqlitePath:   ":memory:",
	})
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestSystemConfigLifecycle(t *testing.T) {
	m := setupTestManager(t)

	cfg, err := m.GetSystemConfig()
	require.NoError(t, err)
	assert.Nil(t, cfg, "no system config should exist before first boot")

	created, err := m.CreateSystemConfig([]byte("salt"))
	require.NoError(t, err)
	assert.Equal(t, ModeUnconfigured, created.AppMode)

	require.NoError(t, m.SetAppMode(ModeLocal))
	fetched, err := m.GetSystemConfig()
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, fetched.AppMode)
}

// TestConcurrentUserToolUpserts mirrors the teacher's concurrent-upsert
// style: the at-most-one-row invariant (spec §3, §8 invariant 1) must
// hold under concurrent activations of the same (user, tool) pair.
func TestConcurrentUserToolUpserts(t *testing.T) {
	m := setupTestManager(t)

	const goroutines = 10
	const attempts = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := range goroutines {
		go func(n int) {
			defer wg.Done()
			for j := range attempts {
				err := m.UpsertUserTool(&UserTool{
					ID:       fmt.Sprintf("ut-%d-%d", n, j),
					UserID:   "user-1",
					ToolName: "wait",
					Enabled:  true,
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	tools, err := m.ListUserTools("user-1")
	require.NoError(t, err)
	assert.Len(t, tools, 1, "at most one UserTool row per (user, tool)")
}

func TestToolConfigReplaceIsAtomic(t *testing.T) {
	m := setupTestManager(t)
	require.NoError(t, m.UpsertUserTool(&UserTool{ID: "ut-1", UserID: "u1", ToolName: "wait", Enabled: true}))

	err := m.ReplaceToolConfigs("ut-1", []ToolConfig{
		{ID: "c1", Key: "seconds_limit", Value: "60"},
	})
	require.NoError(t, err)

	configs, err := m.GetToolConfigs("ut-1")
	require.NoError(t, err)
	require.Len(t, configs, 1)

	err = m.ReplaceToolConfigs("ut-1", []ToolConfig{
		{ID: "c2", Key: "seconds_limit", Value: "120"},
		{ID: "c3", Key: "retries", Value: "3"},
	})
	require.NoError(t, err)

	configs, err = m.GetToolConfigs("ut-1")
	require.NoError(t, err)
	assert.Len(t, configs, 2, "replace must remove stale keys, not just upsert new ones")
}
