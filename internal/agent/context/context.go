// Package context assembles the system prompt handed to a reasoning run
// from workspace bootstrap files and the discovered skill set.
package context

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/skills"
)

// Bootstrap files read from the workspace root, in priority order.
var bootstrapFiles = []string{"AGENTS.md", "IDENTITY.md", "USER.md"}

// Builder builds system prompts from workspace context components.
type Builder struct {
	workspace string
	timezone  string
	skills    *skills.Loader
	logger    *logger.Logger
}

// Config holds configuration for the context builder.
type Config struct {
	Workspace string
	Timezone  string
	SkillsDir string // defaults to <workspace>/skills
}

// NewBuilder creates a new context builder.
func NewBuilder(cfg Config, log *logger.Logger) (*Builder, error) {
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace path cannot be empty")
	}
	if _, err := os.Stat(cfg.Workspace); err != nil {
		return nil, fmt.Errorf("workspace directory not found: %w", err)
	}
	skillsDir := cfg.SkillsDir
	if skillsDir == "" {
		skillsDir = filepath.Join(cfg.Workspace, "skills")
	}

	return &Builder{
		workspace: cfg.Workspace,
		timezone:  cfg.Timezone,
		skills:    skills.NewLoader(skillsDir, log),
		logger:    log,
	}, nil
}

// Build creates the system prompt: bootstrap files in priority order,
// followed by the skill summary and the current time.
func (b *Builder) Build() (string, error) {
	var out strings.Builder

	for _, name := range bootstrapFiles {
		content, err := b.readFile(name)
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s: %w", name, err)
		}
		if content != "" {
			out.WriteString(content)
			out.WriteString("\n\n---\n\n")
		}
	}

	loaded, err := b.skills.Load()
	if err != nil {
		b.logger.Warn("failed to load skills",
			logger.Field{Key: "error", Value: err.Error()})
	} else if summary := skills.Summary(loaded); summary != "" {
		out.WriteString(summary)
		out.WriteString("\n\n---\n\n")
	}

	out.WriteString(b.currentTime())
	return out.String(), nil
}

func (b *Builder) readFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.workspace, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (b *Builder) currentTime() string {
	now := time.Now()
	if b.timezone != "" {
		if loc, err := time.LoadLocation(b.timezone); err == nil {
			now = now.In(loc)
		}
	}
	return fmt.Sprintf("Current time: %s", now.Format("2006-01-02 15:04:05 MST"))
}
