package tools

import (
	"fmt"
	"strings"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

const spawnLabelMax = 30

// SpawnTool implements the Tool interface for launching background tasks.
// Spawned tasks run asynchronously on their own agent loop and report
// their results back to the originating session when they finish.
type SpawnTool struct {
	spawner agent.TaskSpawner
	logger  *logger.Logger

	sessionID string
}

// SpawnArgs represents the arguments for the spawn tool.
type SpawnArgs struct {
	Task  string `json:"task"`
	Label string `json:"label,omitempty"`
}

// NewSpawnTool creates a new SpawnTool instance.
func NewSpawnTool(spawner agent.TaskSpawner, log *logger.Logger) *SpawnTool {
	return &SpawnTool{
		spawner: spawner,
		logger:  log,
		sessionID: "cli:direct",
	}
}

// SetSession records the session the spawned task should announce its
// result to.
func (t *SpawnTool) SetSession(sessionID string) {
	t.sessionID = sessionID
}

// Name returns the tool name.
func (t *SpawnTool) Name() string {
	return "spawn"
}

// Description returns a description of what the tool does.
func (t *SpawnTool) Description() string {
	return "Spawn a background subagent to work on a task asynchronously. " +
		"The subagent runs independently with its own context and reports back when done. " +
		"Use this for long-running work that should not block the conversation."
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *SpawnTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "Description of the task for the subagent to perform",
			},
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Short human-readable label for the task (optional)",
			},
		},
		"required": []string{"task"},
	}
}

// Execute executes the spawn tool.
func (t *SpawnTool) Execute(args string) (string, error) {
	var params SpawnArgs
	if err := parseJSON(args, &params); err != nil {
		return "", fmt.Errorf("failed to parse spawn arguments: %w", err)
	}

	if strings.TrimSpace(params.Task) == "" {
		return "Error: task is required", nil
	}

	label := params.Label
	if label == "" {
		label = params.Task
		if len(label) > spawnLabelMax {
			label = label[:spawnLabelMax] + "..."
		}
	}

	taskID := t.spawner.CreateTask(label, params.Task, t.sessionID)
	if err := t.spawner.Dispatch(taskID); err != nil {
		return fmt.Sprintf("Failed to start task: %v", err), nil
	}

	t.logger.Info("subagent task spawned",
		logger.Field{Key: "task_id", Value: taskID},
		logger.Field{Key: "label", Value: label})

	return fmt.Sprintf("Spawned background task '%s' (ID: %s). "+
		"The result will be reported when the task completes.", label, taskID), nil
}
