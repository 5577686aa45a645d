package agent

// TaskSpawner is a domain-level interface for spawning background subagent
// tasks. Implemented by the subagent manager; consumed by the spawn tool.
type TaskSpawner interface {
	// CreateTask records a new pending task and returns its id.
	CreateTask(label, message, sessionID string) string

	// Dispatch begins background execution of a pending task.
	Dispatch(taskID string) error
}
