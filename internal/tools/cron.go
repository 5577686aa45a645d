package tools

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// CronTool implements the Tool interface for scheduled job management.
// It lets the agent create, list, and manage recurring tasks.
type CronTool struct {
	manager agent.CronManager
	logger  *logger.Logger

	mu      sync.Mutex
	channel string
	chatID  string
}

// CronArgs represents the arguments for the cron tool.
type CronArgs struct {
	Action           string `json:"action"`
	Name             string `json:"name,omitempty"`
	Schedule         string `json:"schedule,omitempty"`
	Message          string `json:"message,omitempty"`
	JobID            string `json:"job_id,omitempty"`
	DeliverToChannel bool   `json:"deliver_to_channel,omitempty"`
}

// NewCronTool creates a new CronTool instance.
func NewCronTool(manager agent.CronManager, log *logger.Logger) *CronTool {
	return &CronTool{
		manager: manager,
		logger:  log,
		channel: "cli",
		chatID:  "system",
	}
}

// SetContext records the channel the current conversation arrived on, so
// jobs created with deliver_to_channel target the right destination.
func (t *CronTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

// Name returns the tool name.
func (t *CronTool) Name() string {
	return "cron"
}

// Description returns a description of what the tool does.
func (t *CronTool) Description() string {
	return `Schedule reminders and recurring tasks using cron expressions.

Actions:
- add: Create a new scheduled job
- list: List all scheduled jobs
- remove: Remove a job by ID
- enable: Enable a disabled job
- disable: Disable a job

Cron expression format: "minute hour day month weekday"
Examples:
- "0 9 * * *" - Every day at 9:00 AM
- "*/5 * * * *" - Every 5 minutes
- "0 12 * * 1-5" - Every weekday at noon`
}

// Parameters returns the JSON Schema for the tool's parameters.
func (t *CronTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        []string{"add", "list", "remove", "enable", "disable"},
				"description": "Action to perform",
			},
			"name": map[string]interface{}{
				"type":        "string",
				"description": "Job name (required for add)",
			},
			"schedule": map[string]interface{}{
				"type":        "string",
				"description": "Cron expression like '0 9 * * *' (required for add)",
			},
			"message": map[string]interface{}{
				"type":        "string",
				"description": "Message to execute when job runs (required for add)",
			},
			"job_id": map[string]interface{}{
				"type":        "string",
				"description": "Job ID (required for remove/enable/disable)",
			},
			"deliver_to_channel": map[string]interface{}{
				"type":        "boolean",
				"description": "Whether to send the response to the current channel (optional for add, default: false)",
			},
		},
		"required": []string{"action"},
	}
}

// Execute executes the cron tool.
func (t *CronTool) Execute(args string) (string, error) {
	var params CronArgs
	if err := parseJSON(args, &params); err != nil {
		return "", fmt.Errorf("failed to parse cron arguments: %w", err)
	}

	switch params.Action {
	case "add":
		return t.addJob(params), nil
	case "list":
		return t.listJobs(), nil
	case "remove":
		return t.removeJob(params.JobID), nil
	case "enable":
		return t.toggleJob(params.JobID, true), nil
	case "disable":
		return t.toggleJob(params.JobID, false), nil
	default:
		return fmt.Sprintf("Unknown action: %s", params.Action), nil
	}
}

func (t *CronTool) addJob(params CronArgs) string {
	if params.Name == "" || params.Schedule == "" || params.Message == "" {
		return "Error: name, schedule, and message are required"
	}

	job := agent.Job{
		Name:     params.Name,
		Schedule: params.Schedule,
		Message:  params.Message,
		Enabled:  true,
	}
	if params.DeliverToChannel {
		t.mu.Lock()
		job.Channel = t.channel
		job.ChatID = t.chatID
		t.mu.Unlock()
	}

	created, err := t.manager.AddJob(job)
	if err != nil {
		return fmt.Sprintf("Failed to create job: %v", err)
	}

	t.logger.Info("cron job created by agent",
		logger.Field{Key: "job_id", Value: created.ID},
		logger.Field{Key: "name", Value: created.Name})

	var b strings.Builder
	fmt.Fprintf(&b, "Created job '%s' (ID: %s)\n", created.Name, created.ID)
	fmt.Fprintf(&b, "Schedule: %s\n", created.Schedule)
	fmt.Fprintf(&b, "Next run: %s\n", formatRunTime(created.NextRun))
	if params.DeliverToChannel {
		fmt.Fprintf(&b, "Will deliver to: %s:%s", created.Channel, created.ChatID)
	}
	return b.String()
}

func (t *CronTool) listJobs() string {
	jobs := t.manager.ListJobs()
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}

	var b strings.Builder
	b.WriteString("Scheduled jobs:\n\n")
	for i, job := range jobs {
		status := "Enabled"
		if !job.Enabled {
			status = "Disabled"
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, job.Name, status)
		fmt.Fprintf(&b, "   ID: %s\n", job.ID)
		fmt.Fprintf(&b, "   Schedule: %s\n", job.Schedule)
		fmt.Fprintf(&b, "   Message: %s\n", truncate(job.Message, 50))
		fmt.Fprintf(&b, "   Next run: %s\n", formatRunTime(job.NextRun))
		fmt.Fprintf(&b, "   Last run: %s\n", formatLastRun(job.LastRun))
		if job.LastStatus != "" {
			fmt.Fprintf(&b, "   Last status: %s\n", job.LastStatus)
		}
		if job.RunCount > 0 {
			fmt.Fprintf(&b, "   Runs: %d (Errors: %d)\n", job.RunCount, job.ErrorCount)
		}
		if job.Channel != "" {
			fmt.Fprintf(&b, "   Channel: %s:%s\n", job.Channel, job.ChatID)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (t *CronTool) removeJob(jobID string) string {
	if jobID == "" {
		return "Error: job_id is required"
	}

	job, err := t.manager.GetJob(jobID)
	if err != nil {
		return fmt.Sprintf("Job %s not found", jobID)
	}
	if err := t.manager.RemoveJob(jobID); err != nil {
		return fmt.Sprintf("Failed to remove job: %v", err)
	}

	t.logger.Info("cron job removed by agent",
		logger.Field{Key: "job_id", Value: jobID})
	return fmt.Sprintf("Removed job '%s' (%s)", job.Name, jobID)
}

func (t *CronTool) toggleJob(jobID string, enabled bool) string {
	if jobID == "" {
		return "Error: job_id is required"
	}

	job, err := t.manager.SetEnabled(jobID, enabled)
	if err != nil {
		return fmt.Sprintf("Job %s not found", jobID)
	}

	status := "disabled"
	if enabled {
		status = "enabled"
	}
	t.logger.Info("cron job toggled by agent",
		logger.Field{Key: "job_id", Value: jobID},
		logger.Field{Key: "enabled", Value: enabled})

	response := fmt.Sprintf("Job '%s' %s", job.Name, status)
	if enabled && job.NextRun != nil {
		response += fmt.Sprintf("\nNext run: %s", formatRunTime(job.NextRun))
	}
	return response
}

func formatRunTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func formatLastRun(t *time.Time) string {
	if t == nil {
		return "Never"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
