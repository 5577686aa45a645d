package tools

import (
	"fmt"
	"time"
)

// SystemTimeTool implements the Tool interface for getting system time.
type SystemTimeTool struct{}

// NewSystemTimeTool creates a new SystemTimeTool instance.
func NewSystemTimeTool() *SystemTimeTool {
	return &SystemTimeTool{}
}

// Name returns the tool name.
func (t *SystemTimeTool) Name() string {
	return "system_time"
}

// Description returns a description of what the tool does.
func (t *SystemTimeTool) Description() string {
	return "Returns the current system date and time"
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *SystemTimeTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
		"required":   []string{},
	}
}

// Execute executes the system time tool.
func (t *SystemTimeTool) Execute(args string) (string, error) {
	now := time.Now().Local()

	result := fmt.Sprintf("RFC3339: %s\n", now.Format(time.RFC3339))
	result += fmt.Sprintf("Human readable: %s", now.Format("Monday, 02 January 2006, 15:04:05 MST"))

	return result, nil
}
