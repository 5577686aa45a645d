package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// Loader discovers skill files under a workspace directory. A skill lives
// at <dir>/<skill-name>/SKILL.md. Files that fail to parse are skipped
// with a warning rather than failing the whole load.
type Loader struct {
	dir    string
	logger *logger.Logger
}

// NewLoader creates a loader for the given skills directory.
func NewLoader(dir string, log *logger.Logger) *Loader {
	return &Loader{dir: dir, logger: log}
}

// Load parses every skill under the directory. A missing directory yields
// an empty slice, not an error.
func (l *Loader) Load() ([]*Skill, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read skills directory: %w", err)
	}

	var loaded []*Skill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), "SKILL.md")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		skill, err := Parse(string(data))
		if err != nil {
			l.logger.Warn("skipping invalid skill file",
				logger.Field{Key: "path", Value: path},
				logger.Field{Key: "error", Value: err.Error()})
			continue
		}
		skill.FilePath = path
		loaded = append(loaded, skill)
	}

	sort.Slice(loaded, func(i, j int) bool {
		return loaded[i].Metadata.Name < loaded[j].Metadata.Name
	})
	return loaded, nil
}

// Summary renders a one-line-per-skill listing for the system prompt.
// Returns an empty string when no skills are available.
func Summary(items []*Skill) string {
	if len(items) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Available Skills\n\n")
	for _, skill := range items {
		fmt.Fprintf(&b, "- %s: %s", skill.Metadata.Name, skill.Metadata.Description)
		if len(skill.Metadata.Tags) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(skill.Metadata.Tags, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
