// Package subagent manages background tasks, each running its own
// reasoning loop with a restricted tool set and an isolated transcript.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mozhuanzuojing/CountBot/internal/agent/cancel"
	"github.com/mozhuanzuojing/CountBot/internal/agent/loop"
	"github.com/mozhuanzuojing/CountBot/internal/agent/subagent/sanitizer"
	"github.com/mozhuanzuojing/CountBot/internal/llm"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/tools"
)

// Status is the lifecycle state of a background task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// progressCeiling caps intermediate progress; 100 is reserved for
// successful completion.
const progressCeiling = 90

// Task is one background unit of work. Status transitions follow
// pending -> running -> {completed | failed | cancelled} and terminal
// states are never left.
type Task struct {
	ID          string
	Label       string
	Message     string
	SessionID   string
	Status      Status
	Progress    int
	Result      string
	Error       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Event is a task lifecycle notification delivered to observers.
type Event struct {
	Type string // started, progress, completed, failed, cancelled
	Task Task
}

// Observer receives task events. Calls are fire-and-forget: failures and
// panics are swallowed and never affect task state.
type Observer interface {
	TaskEvent(event Event)
}

// Config holds configuration for the subagent manager.
type Config struct {
	// MaxIterations caps each task's reasoning loop. Kept below the
	// top-level default to bound runaway background work.
	MaxIterations int

	// SystemPrompt is prepended to every task run.
	SystemPrompt string

	// RestrictedTools are excluded from the task tool set, on top of the
	// always-excluded spawn and cron tools.
	RestrictedTools []string
}

const defaultTaskIterations = 10

const defaultSystemPrompt = "You are a background task agent. Complete the " +
	"assigned task and reply with a concise result. You cannot interact " +
	"with the user."

// Manager owns the task registry and drives task execution. It is the
// only component that mutates task state.
type Manager struct {
	loop   *loop.Loop
	tokens *cancel.Registry
	logger *logger.Logger
	config Config

	validator *sanitizer.Validator

	mu        sync.RWMutex
	tasks     map[string]*Task
	observers []Observer
}

// NewManager creates a subagent manager. The task tool set is the given
// registry minus spawn, cron, and any configured exclusions, so a task
// can never recursively spawn or reschedule work.
func NewManager(provider llm.Provider, registry *tools.Registry, log *logger.Logger, cfg Config) (*Manager, error) {
	if registry == nil {
		registry = tools.NewRegistry()
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = defaultTaskIterations
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	exclude := append([]string{"spawn", "cron"}, cfg.RestrictedTools...)
	restricted := registry.Restricted(exclude...)

	taskLoop, err := loop.NewLoop(provider, restricted, log, loop.Config{
		MaxIterations: cfg.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task loop: %w", err)
	}

	m := &Manager{
		loop:      taskLoop,
		tokens:    cancel.NewRegistry(),
		logger:    log,
		config:    cfg,
		validator: sanitizer.NewValidator(sanitizer.Config{}),
		tasks:     make(map[string]*Task),
	}
	taskLoop.SetObserver(m)
	return m, nil
}

// AddObserver registers an observer for task lifecycle events.
func (m *Manager) AddObserver(observer Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, observer)
}

// CreateTask registers a new pending task and returns its id.
func (m *Manager) CreateTask(label, message, sessionID string) string {
	task := &Task{
		ID:        uuid.New().String(),
		Label:     label,
		Message:   message,
		SessionID: sessionID,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.logger.Info("subagent task created",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "label", Value: label})
	return task.ID
}

// Dispatch moves a pending task to running and starts its background
// execution. It returns immediately.
func (m *Manager) Dispatch(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("task not found: %s", taskID)
	}
	if task.Status != StatusPending {
		m.mu.Unlock()
		return fmt.Errorf("task %s is %s, not pending", taskID, task.Status)
	}
	task.Status = StatusRunning
	snapshot := *task
	m.mu.Unlock()

	m.notify(Event{Type: "started", Task: snapshot})

	go m.execute(taskID)
	return nil
}

// Cancel requests cancellation of a task. A pending task is cancelled
// directly; a running task's token is flagged and the loop stops at its
// next check. Terminal tasks cannot be cancelled.
func (m *Manager) Cancel(taskID string) error {
	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("task not found: %s", taskID)
	}
	if task.Status.IsTerminal() {
		m.mu.Unlock()
		return fmt.Errorf("task %s already finished (%s)", taskID, task.Status)
	}
	if task.Status == StatusPending {
		m.finishLocked(task, StatusCancelled, "", "")
		snapshot := *task
		m.mu.Unlock()
		m.notify(Event{Type: "cancelled", Task: snapshot})
		return nil
	}
	m.mu.Unlock()

	// Acquire rather than lookup so a cancel landing between dispatch and
	// the worker's first token check is never lost.
	m.tokens.Acquire(taskID).Cancel()
	return nil
}

// Get returns a copy of the task.
func (m *Manager) Get(taskID string) (Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("task not found: %s", taskID)
	}
	return *task, nil
}

// List returns copies of tasks, optionally filtered by status.
func (m *Manager) List(statuses ...Status) []Task {
	filter := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		filter[s] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		if len(filter) > 0 && !filter[task.Status] {
			continue
		}
		out = append(out, *task)
	}
	return out
}

// Remove deletes a terminal task record entirely.
func (m *Manager) Remove(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[taskID]
	if !ok {
		return fmt.Errorf("task not found: %s", taskID)
	}
	if !task.Status.IsTerminal() {
		return fmt.Errorf("task %s is still %s; cancel it first", taskID, task.Status)
	}
	delete(m.tasks, taskID)
	return nil
}

// Cleanup removes terminal tasks whose completion age exceeds maxAge and
// returns how many were removed. Non-terminal tasks are never touched.
func (m *Manager) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, task := range m.tasks {
		if !task.Status.IsTerminal() || task.CompletedAt == nil {
			continue
		}
		if task.CompletedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("cleaned up finished tasks",
			logger.Field{Key: "removed", Value: removed})
	}
	return removed
}

func (m *Manager) execute(taskID string) {
	m.mu.RLock()
	task, ok := m.tasks[taskID]
	if !ok {
		m.mu.RUnlock()
		return
	}
	message := task.Message
	m.mu.RUnlock()

	token := m.tokens.Acquire(taskID)
	defer m.tokens.Release(taskID)

	m.setProgress(taskID, 10)

	result, err := m.loop.ProcessDirect(context.Background(), loop.RunRequest{
		SessionID:    taskID,
		Message:      message,
		SystemPrompt: m.config.SystemPrompt,
		Cancel:       token,
	})

	var event Event
	m.mu.Lock()
	task, ok = m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	switch {
	case errors.Is(err, loop.ErrCancelled):
		m.finishLocked(task, StatusCancelled, "", "")
		event = Event{Type: "cancelled", Task: *task}
	case err != nil:
		m.finishLocked(task, StatusFailed, "", err.Error())
		event = Event{Type: "failed", Task: *task}
	default:
		m.finishLocked(task, StatusCompleted, m.validator.SanitizeOutput(result), "")
		event = Event{Type: "completed", Task: *task}
	}
	m.mu.Unlock()

	m.notify(event)
}

// finishLocked applies a terminal transition. Caller holds m.mu.
func (m *Manager) finishLocked(task *Task, status Status, result, errText string) {
	if task.Status.IsTerminal() {
		return
	}
	now := time.Now()
	task.Status = status
	task.Result = result
	task.Error = errText
	task.CompletedAt = &now
	if status == StatusCompleted {
		task.Progress = 100
	}

	m.logger.Info("subagent task finished",
		logger.Field{Key: "task_id", Value: task.ID},
		logger.Field{Key: "status", Value: string(status)})
}

// setProgress raises a running task's progress, clamped to the ceiling.
// Progress never decreases.
func (m *Manager) setProgress(taskID string, progress int) {
	if progress > progressCeiling {
		progress = progressCeiling
	}

	m.mu.Lock()
	task, ok := m.tasks[taskID]
	if !ok || task.Status != StatusRunning || progress <= task.Progress {
		m.mu.Unlock()
		return
	}
	task.Progress = progress
	snapshot := *task
	m.mu.Unlock()

	m.notify(Event{Type: "progress", Task: snapshot})
}

// ToolStarted implements loop.ToolObserver.
func (m *Manager) ToolStarted(sessionID, callID, toolName string) {}

// ToolFinished implements loop.ToolObserver. Each finished tool call
// nudges the owning task's progress toward the ceiling.
func (m *Manager) ToolFinished(sessionID, callID, toolName string, result tools.ToolResult) {
	m.mu.RLock()
	task, ok := m.tasks[sessionID]
	var current int
	if ok {
		current = task.Progress
	}
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.setProgress(sessionID, current+15)
}

func (m *Manager) notify(event Event) {
	m.mu.RLock()
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.RUnlock()

	for _, observer := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Warn("task observer panicked",
						logger.Field{Key: "event", Value: event.Type},
						logger.Field{Key: "panic", Value: fmt.Sprint(r)})
				}
			}()
			observer.TaskEvent(event)
		}()
	}
}
