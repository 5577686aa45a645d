// Package cleanup runs periodic maintenance: trimming terminal subagent
// tasks and expiring stored session transcripts.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/logger"
)

// Task is one maintenance routine. It returns how many items it removed.
type Task interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) (int, error)
}

func (t TaskFunc) Name() string { return t.TaskName }

func (t TaskFunc) Run(ctx context.Context) (int, error) { return t.Fn(ctx) }

// Runner executes registered tasks on a fixed interval.
type Runner struct {
	interval time.Duration
	logger   *logger.Logger

	mu    sync.Mutex
	tasks []Task

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunner creates a runner. Intervals below one minute are raised to
// one minute.
func NewRunner(interval time.Duration, log *logger.Logger) *Runner {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Runner{interval: interval, logger: log}
}

// Add registers a maintenance task.
func (r *Runner) Add(task Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
}

// Start begins periodic execution, running once immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		r.runAll(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runAll(ctx)
			}
		}
	}()
}

// Stop halts periodic execution and waits for an in-flight pass.
func (r *Runner) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Runner) runAll(ctx context.Context) {
	r.mu.Lock()
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	r.mu.Unlock()

	for _, task := range tasks {
		removed, err := task.Run(ctx)
		if err != nil {
			r.logger.Error("cleanup task failed", err,
				logger.Field{Key: "task", Value: task.Name()})
			continue
		}
		if removed > 0 {
			r.logger.Info("cleanup task completed",
				logger.Field{Key: "task", Value: task.Name()},
				logger.Field{Key: "removed", Value: removed})
		}
	}
}
