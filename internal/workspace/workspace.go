// Package workspace manages the agent workspace directory: the root
// where bootstrap files, skills, and session transcripts live.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// SubdirSkills holds skill definitions, one directory per skill.
	SubdirSkills = "skills"
	// SubdirSessions holds session transcript files.
	SubdirSessions = "sessions"
)

// defaultAgentsFile seeds a fresh workspace so the first run has a
// system prompt.
const defaultAgentsFile = `# Agent

You are a personal assistant. Be concise and direct.
`

// Workspace is a resolved workspace directory.
type Workspace struct {
	path string
}

// New creates a Workspace for the given path, expanding a leading ~.
func New(path string) (*Workspace, error) {
	if path == "" {
		return nil, fmt.Errorf("workspace path cannot be empty")
	}
	return &Workspace{path: expandHome(path)}, nil
}

// Path returns the expanded workspace root.
func (w *Workspace) Path() string {
	return w.path
}

// SkillsDir returns the skills directory path.
func (w *Workspace) SkillsDir() string {
	return filepath.Join(w.path, SubdirSkills)
}

// SessionsDir returns the session transcript directory path.
func (w *Workspace) SessionsDir() string {
	return filepath.Join(w.path, SubdirSessions)
}

// Ensure creates the workspace layout if it does not exist and seeds a
// default AGENTS.md on first creation.
func (w *Workspace) Ensure() error {
	fresh := false
	if _, err := os.Stat(w.path); os.IsNotExist(err) {
		fresh = true
	}

	for _, dir := range []string{w.path, w.SkillsDir(), w.SessionsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create workspace directory %s: %w", dir, err)
		}
	}

	if fresh {
		agents := filepath.Join(w.path, "AGENTS.md")
		if err := os.WriteFile(agents, []byte(defaultAgentsFile), 0o644); err != nil {
			return fmt.Errorf("failed to seed AGENTS.md: %w", err)
		}
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
