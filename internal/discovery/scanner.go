// Package discovery implements C12: the agent discovery pipeline —
// scan → parse → cache → watch → write-back — over a configured set of
// base folders on disk.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/namastexlabs/mcp-hub/internal/store"
)

// AgentsDirName is the project-relative directory Markdown agent files
// live under.
const AgentsDirName = "agents"

// ScannedProject is one BFS-discovered Project (a directory containing
// a .git subdirectory) together with its parsed Agents.
type ScannedProject struct {
	AbsolutePath string
	Agents       []ScannedAgent
}

type ScannedAgent struct {
	RelativePath   string
	Name           string
	Icon           string
	FileHash       string
	Toolkit        ToolkitInner
	RawFrontmatter string
	Broken         bool
	ErrorMessage   string
}

// Scanner walks a BaseFolder and produces Projects/Agents, enforcing a
// depth limit and never following a symlink that would escape the root
// (spec §4.12).
type Scanner struct {
	maxDepth int
	log      logr.Logger
}

func NewScanner(maxDepth int, log logr.Logger) *Scanner {
	return &Scanner{maxDepth: maxDepth, log: log.WithName("discovery")}
}

// Scan walks root breadth-first, pruning hidden directories (except
// AgentsDirName) and treating any directory with a .git subdirectory as
// a Project boundary — scanning stops descending past a Project root
// since nested projects under .git repos are out of scope.
func (s *Scanner) Scan(ctx context.Context, root string) ([]ScannedProject, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	absRoot, err = filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("discovery: resolve base folder: %w", err)
	}

	var projects []ScannedProject
	type queueEntry struct {
		path  string
		depth int
	}
	queue := []queueEntry{{path: absRoot, depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return projects, err
		}
		entry := queue[0]
		queue = queue[1:]

		if entry.depth > s.maxDepth {
			continue
		}

		isProject, err := hasDotGit(entry.path)
		if err != nil {
			s.log.Info("skipping unreadable directory", "path", entry.path, "error", err.Error())
			continue
		}
		if isProject {
			agents, err := s.scanAgents(entry.path)
			if err != nil {
				s.log.Info("failed to scan agents directory", "project", entry.path, "error", err.Error())
			}
			projects = append(projects, ScannedProject{AbsolutePath: entry.path, Agents: agents})
			continue // do not descend into a project's internals looking for nested projects
		}

		children, err := os.ReadDir(entry.path)
		if err != nil {
			s.log.Info("skipping unreadable directory", "path", entry.path, "error", err.Error())
			continue
		}
		for _, child := range children {
			if !child.IsDir() {
				continue
			}
			name := child.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}
			childPath := filepath.Join(entry.path, name)
			if within, err := isWithinRoot(absRoot, childPath); err != nil || !within {
				continue // symlink escaping the base folder; never followed
			}
			queue = append(queue, queueEntry{path: childPath, depth: entry.depth + 1})
		}
	}
	return projects, nil
}

func hasDotGit(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil // a .git directory or worktree file both mark a Project
}

// isWithinRoot resolves symlinks on path and checks it still lives under
// root, preventing a symlink from walking the scanner outside the
// configured base folder.
func isWithinRoot(root, path string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return false, err
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)), nil
}

// scanAgents parses every Markdown file directly under <project>/agents.
func (s *Scanner) scanAgents(projectPath string) ([]ScannedAgent, error) {
	agentsDir := filepath.Join(projectPath, AgentsDirName)
	entries, err := os.ReadDir(agentsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var agents []ScannedAgent
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		relPath := filepath.Join(AgentsDirName, e.Name())
		absPath := filepath.Join(agentsDir, e.Name())

		raw, err := os.ReadFile(absPath)
		if err != nil {
			agents = append(agents, ScannedAgent{RelativePath: relPath, Broken: true, ErrorMessage: err.Error()})
			continue
		}

		pf, isAgent, err := parseAgentFile(raw)
		if err != nil {
			agents = append(agents, ScannedAgent{RelativePath: relPath, Broken: true, ErrorMessage: err.Error()})
			continue
		}
		if !isAgent {
			continue
		}

		rawFm, err := pf.rawFrontmatterExcludingHub()
		if err != nil {
			agents = append(agents, ScannedAgent{RelativePath: relPath, Broken: true, ErrorMessage: err.Error()})
			continue
		}

		name := pf.name
		if name == "" {
			name = strings.TrimSuffix(e.Name(), ".md")
		}
		agents = append(agents, ScannedAgent{
			RelativePath:   relPath,
			Name:           name,
			Icon:           pf.icon,
			FileHash:       fileHash(raw),
			Toolkit:        pf.toolkit(),
			RawFrontmatter: rawFm,
		})
	}
	return agents, nil
}

func fileHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Sync reconciles one ScannedProject's Agents against the store: create
// or update Agent rows, marking each fresh or broken per scan outcome
// (spec §4.12 state machine).
func Sync(db *store.Manager, workspaceID string, bf *store.BaseFolder, proj ScannedProject) (*store.Project, error) {
	p := &store.Project{
		ID:            uuid.NewString(),
		BaseFolderID:  bf.ID,
		Name:          filepath.Base(proj.AbsolutePath),
		AbsolutePath:  proj.AbsolutePath,
		LastScannedAt: timePtr(time.Now()),
	}
	if err := db.UpsertProject(p); err != nil {
		return nil, err
	}
	existing, err := db.ListProjects(bf.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		if e.AbsolutePath == proj.AbsolutePath {
			p = &e
			break
		}
	}

	for _, a := range proj.Agents {
		state := store.AgentFresh
		if a.Broken {
			state = store.AgentBroken
		}
		toolkitJSON, _ := json.Marshal(a.Toolkit)
		if err := db.UpsertAgent(&store.Agent{
			ID:             uuid.NewString(),
			ProjectID:      p.ID,
			RelativePath:   a.RelativePath,
			Name:           a.Name,
			Icon:           a.Icon,
			FileHash:       a.FileHash,
			Toolkit:        string(toolkitJSON),
			RawFrontmatter: a.RawFrontmatter,
			State:          state,
			ErrorMessage:   a.ErrorMessage,
		}); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func timePtr(t time.Time) *time.Time { return &t }
