package skills

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Metadata is the YAML frontmatter of a skill file.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Version     string   `yaml:"version,omitempty"`
	Category    string   `yaml:"category,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// Skill is a parsed skill: frontmatter metadata plus the markdown body.
type Skill struct {
	Metadata Metadata
	Content  string
	FilePath string
}

// Parse parses skill file content of the form:
//
//	---
//	name: skill-name
//	description: What the skill does
//	---
//
//	Markdown instructions...
//
// Returns an error if the frontmatter is missing, unterminated, or lacks
// the required name/description fields.
func Parse(content string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	var metadata Metadata
	if err := yaml.Unmarshal([]byte(frontmatter), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse YAML frontmatter: %w", err)
	}
	if metadata.Name == "" {
		return nil, fmt.Errorf("skill metadata must have a 'name' field")
	}
	if metadata.Description == "" {
		return nil, fmt.Errorf("skill metadata must have a 'description' field")
	}

	return &Skill{
		Metadata: metadata,
		Content:  strings.TrimSpace(body),
	}, nil
}

// splitFrontmatter splits content into the YAML frontmatter between "---"
// delimiters and the markdown body after them.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("content must start with YAML frontmatter delimited by '---'")
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			frontmatter = strings.Join(lines[1:i], "\n")
			body = strings.Join(lines[i+1:], "\n")
			if strings.TrimSpace(frontmatter) == "" {
				return "", "", fmt.Errorf("YAML frontmatter is empty")
			}
			return frontmatter, body, nil
		}
	}

	return "", "", fmt.Errorf("YAML frontmatter must be closed with '---'")
}
