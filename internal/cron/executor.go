package cron

import (
	"context"
	"fmt"

	"github.com/mozhuanzuojing/CountBot/internal/agent"
	"github.com/mozhuanzuojing/CountBot/internal/agent/loop"
)

// LoopExecutor runs job bodies through the reasoning loop. Each execution
// gets a dedicated session so job transcripts never mix with chat history.
type LoopExecutor struct {
	loop *loop.Loop
}

// NewLoopExecutor creates an executor backed by the given loop.
func NewLoopExecutor(l *loop.Loop) *LoopExecutor {
	return &LoopExecutor{loop: l}
}

// ExecuteJob processes the job's message and returns the final response.
func (e *LoopExecutor) ExecuteJob(ctx context.Context, job agent.Job) (string, error) {
	return e.loop.ProcessDirect(ctx, loop.RunRequest{
		SessionID: fmt.Sprintf("cron:%s", job.ID),
		Message:   job.Message,
	})
}
