package agent

import "time"

// JobStatus is the outcome of a job's most recent execution.
type JobStatus string

const (
	JobStatusOK      JobStatus = "ok"
	JobStatusError   JobStatus = "error"
	JobStatusSkipped JobStatus = "skipped"
)

// Job represents a scheduled job (domain model).
type Job struct {
	ID         string     `json:"id"`                   // Unique job identifier
	Name       string     `json:"name"`                 // Human-readable job name
	Schedule   string     `json:"schedule"`             // 5-field cron expression (e.g., "0 9 * * *")
	Message    string     `json:"message"`              // Instruction processed by the agent when the job fires
	Enabled    bool       `json:"enabled"`              // Disabled jobs are excluded from wake computation
	Channel    string     `json:"channel,omitempty"`    // Delivery channel, empty when no delivery target
	ChatID     string     `json:"chat_id,omitempty"`    // Delivery destination within the channel
	NextRun    *time.Time `json:"next_run,omitempty"`   // Earliest future instant consistent with Schedule
	LastRun    *time.Time `json:"last_run,omitempty"`   // When the job last executed
	LastStatus JobStatus  `json:"last_status,omitempty"` // Outcome of the last execution
	LastError  string     `json:"last_error,omitempty"` // Error text of the last failed execution
	RunCount   int        `json:"run_count"`            // Total executions
	ErrorCount int        `json:"error_count"`          // Total failed executions
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CronManager is a domain-level interface for job administration.
// Implemented by the scheduler; consumed by the cron tool and the CLI.
type CronManager interface {
	// AddJob validates the schedule and registers a new job.
	AddJob(job Job) (Job, error)

	// RemoveJob removes a job by ID and cancels any pending timer dependency.
	RemoveJob(jobID string) error

	// ListJobs returns all known jobs.
	ListJobs() []Job

	// GetJob retrieves a specific job by ID.
	GetJob(jobID string) (Job, error)

	// SetEnabled enables or disables a job and returns the updated record.
	SetEnabled(jobID string, enabled bool) (Job, error)

	// RunJobNow requests immediate execution. Returns a conflict error if
	// the job is already executing.
	RunJobNow(jobID string) error
}
