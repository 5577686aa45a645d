package loop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/agent/cancel"
	"github.com/mozhuanzuojing/CountBot/internal/llm"
	"github.com/mozhuanzuojing/CountBot/internal/logger"
	"github.com/mozhuanzuojing/CountBot/internal/retry"
	"github.com/mozhuanzuojing/CountBot/internal/tools"
)

// ErrCancelled is reported by a run that was stopped through its cancel
// token. Cancellation is a distinct outcome from failure.
var ErrCancelled = errors.New("agent run cancelled")

// ToolObserver receives per-tool lifecycle events during a run. Observer
// failures must not affect the run, so implementations should not panic.
type ToolObserver interface {
	ToolStarted(sessionID, callID, toolName string)
	ToolFinished(sessionID, callID, toolName string, result tools.ToolResult)
}

// TranscriptSink receives the final transcript after a run terminates.
type TranscriptSink interface {
	SaveTranscript(ctx context.Context, sessionID string, messages []llm.Message) error
}

// Config holds configuration for the loop.
type Config struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int

	// ToolRetries and ToolRetryDelay bound the per-call retry of failed
	// tool executions before an error result is handed to the model.
	ToolRetries    int
	ToolRetryDelay time.Duration

	// ToolTimeout caps a single tool execution. Zero means the registry
	// default applies.
	ToolTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 25
	}
	if c.ToolRetries == 0 {
		c.ToolRetries = 3
	}
	if c.ToolRetryDelay == 0 {
		c.ToolRetryDelay = time.Second
	}
}

// Loop drives bounded reasoning cycles for one input at a time,
// coordinating the LLM provider, the tool registry, and cancellation.
type Loop struct {
	provider llm.Provider
	tools    *tools.Registry
	logger   *logger.Logger
	config   Config

	observer ToolObserver
	sink     TranscriptSink
}

// NewLoop creates a new execution loop.
func NewLoop(provider llm.Provider, registry *tools.Registry, log *logger.Logger, cfg Config) (*Loop, error) {
	if provider == nil {
		return nil, fmt.Errorf("LLM provider cannot be nil")
	}
	if log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}
	cfg.applyDefaults()

	return &Loop{
		provider: provider,
		tools:    registry,
		logger:   log,
		config:   cfg,
	}, nil
}

// SetObserver registers the observer notified of tool lifecycle events.
func (l *Loop) SetObserver(observer ToolObserver) {
	l.observer = observer
}

// SetTranscriptSink registers the sink that receives final transcripts.
func (l *Loop) SetTranscriptSink(sink TranscriptSink) {
	l.sink = sink
}

// Tools returns the tool registry backing this loop.
func (l *Loop) Tools() *tools.Registry {
	return l.tools
}

// RunRequest describes one loop invocation. History and SystemPrompt seed
// the transcript; the transcript itself is owned by the run and never
// shared across concurrent invocations.
type RunRequest struct {
	SessionID    string
	Message      string
	History      []llm.Message
	SystemPrompt string

	// MaxIterations overrides the configured cap when positive.
	MaxIterations int

	Cancel *cancel.Token
}

// Run starts a reasoning run and returns its output stream immediately.
// The run executes on its own goroutine; the caller must drain
// Stream.Fragments. A run is not restartable.
func (l *Loop) Run(ctx context.Context, req RunRequest) *Stream {
	stream := newStream()
	go l.run(ctx, req, stream)
	return stream
}

// ProcessDirect runs the loop to completion and returns the collected
// output as one string.
func (l *Loop) ProcessDirect(ctx context.Context, req RunRequest) (string, error) {
	return l.Run(ctx, req).Collect()
}

func (l *Loop) run(ctx context.Context, req RunRequest, stream *Stream) {
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = l.config.MaxIterations
	}

	transcript := make([]llm.Message, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		transcript = append(transcript, llm.Message{
			Role:    llm.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	transcript = append(transcript, req.History...)
	transcript = append(transcript, llm.Message{
		Role:    llm.RoleUser,
		Content: req.Message,
	})

	var runErr error
	truncated := false

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if cancelled(req.Cancel) {
			l.logger.InfoCtx(ctx, "agent run cancelled",
				logger.Field{Key: "session_id", Value: req.SessionID},
				logger.Field{Key: "iteration", Value: iteration})
			runErr = ErrCancelled
			break
		}

		l.logger.DebugCtx(ctx, "agent iteration",
			logger.Field{Key: "session_id", Value: req.SessionID},
			logger.Field{Key: "iteration", Value: iteration},
			logger.Field{Key: "max_iterations", Value: maxIterations})

		turn, err := l.runTurn(ctx, req, stream, transcript)
		if err != nil {
			runErr = err
			break
		}

		assistant := llm.Message{
			Role:             llm.RoleAssistant,
			Content:          turn.content,
			ReasoningContent: turn.reasoning,
		}
		if len(turn.toolCalls) == 0 {
			// No tool calls means the model is done.
			transcript = append(transcript, assistant)
			l.saveTranscript(ctx, req.SessionID, transcript)
			stream.finish(transcript, nil)
			return
		}

		assistant.ToolCalls = turn.toolCalls
		transcript = append(transcript, assistant)

		results, execErr := l.executeToolCalls(ctx, req, turn.toolCalls)
		transcript = append(transcript, results...)
		if execErr != nil {
			runErr = execErr
			break
		}

		if iteration == maxIterations {
			truncated = true
		}
	}

	if runErr == nil && truncated {
		notice := fmt.Sprintf("\n\n[Reached maximum tool iterations (%d)]", maxIterations)
		transcript = append(transcript, llm.Message{
			Role:    llm.RoleAssistant,
			Content: notice,
		})
		if !stream.send(ctx, notice) {
			runErr = ctx.Err()
		}
		l.logger.WarnCtx(ctx, "agent run truncated",
			logger.Field{Key: "session_id", Value: req.SessionID},
			logger.Field{Key: "max_iterations", Value: maxIterations})
	}

	if runErr != nil && !errors.Is(runErr, ErrCancelled) {
		l.logger.ErrorCtx(ctx, "agent run failed", runErr,
			logger.Field{Key: "session_id", Value: req.SessionID})
	}

	l.saveTranscript(ctx, req.SessionID, transcript)
	stream.finish(transcript, runErr)
}

// turnResult accumulates one streamed provider response.
type turnResult struct {
	content      string
	reasoning    string
	toolCalls    []llm.ToolCall
	finishReason llm.FinishReason
}

func (l *Loop) runTurn(ctx context.Context, req RunRequest, stream *Stream, transcript []llm.Message) (turnResult, error) {
	chatReq := llm.ChatRequest{
		Messages:    transcript,
		Model:       l.config.Model,
		Temperature: l.config.Temperature,
		MaxTokens:   l.config.MaxTokens,
	}
	if l.provider.SupportsToolCalling() {
		for _, schema := range l.tools.ToSchema() {
			chatReq.Tools = append(chatReq.Tools, llm.ToolDefinition{
				Name:        schema.Name,
				Description: schema.Description,
				Parameters:  schema.Parameters,
			})
		}
	}

	chunks, err := l.provider.ChatStream(ctx, chatReq)
	if err != nil {
		return turnResult{}, fmt.Errorf("gateway call failed: %w", err)
	}

	var turn turnResult
	for chunk := range chunks {
		switch chunk.Kind {
		case llm.ChunkContent:
			if chunk.Content == "" {
				continue
			}
			turn.content += chunk.Content
			if !stream.send(ctx, chunk.Content) {
				return turn, ctx.Err()
			}
		case llm.ChunkToolCall:
			if chunk.ToolCall != nil {
				turn.toolCalls = append(turn.toolCalls, *chunk.ToolCall)
			}
		case llm.ChunkReasoning:
			turn.reasoning += chunk.Reasoning
		case llm.ChunkDone:
			turn.finishReason = chunk.FinishReason
		case llm.ChunkError:
			return turn, fmt.Errorf("gateway stream error: %w", chunk.Err)
		}
	}

	return turn, nil
}

// executeToolCalls runs the buffered tool calls in order. Each result is
// returned as a tool-role message; failures are encoded in the message
// content after retries are exhausted, never as an error. The only error
// returned is cancellation observed before a dispatch.
func (l *Loop) executeToolCalls(ctx context.Context, req RunRequest, calls []llm.ToolCall) ([]llm.Message, error) {
	retryCfg := retry.Config{
		MaxAttempts: l.config.ToolRetries,
		Delay:       l.config.ToolRetryDelay,
	}

	var execCfg *tools.ExecutionConfig
	if l.config.ToolTimeout > 0 {
		execCfg = &tools.ExecutionConfig{Timeout: l.config.ToolTimeout}
	}

	messages := make([]llm.Message, 0, len(calls))
	for _, call := range calls {
		if cancelled(req.Cancel) {
			l.logger.InfoCtx(ctx, "agent run cancelled before tool dispatch",
				logger.Field{Key: "session_id", Value: req.SessionID},
				logger.Field{Key: "tool", Value: call.Name})
			return messages, ErrCancelled
		}

		tc := tools.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
		l.notifyStarted(req.SessionID, tc)

		start := time.Now()
		var lastResult tools.ToolResult
		content, err := retry.DoWithRetry(ctx, retryCfg, func() (string, error) {
			result, execErr := tools.ExecuteToolCallWithContext(ctx, l.tools, tc, execCfg)
			if execErr != nil {
				return "", execErr
			}
			lastResult = result
			if result.Error != "" {
				return "", errors.New(result.Error)
			}
			return result.Content, nil
		})
		duration := time.Since(start)

		if err != nil {
			content = fmt.Sprintf("Tool execution failed after %d attempts: %v", retryCfg.MaxAttempts, err)
			lastResult.ToolCallID = tc.ID
			lastResult.Error = content
			l.logger.ErrorCtx(ctx, "tool execution failed permanently", err,
				logger.Field{Key: "tool", Value: call.Name},
				logger.Field{Key: "tool_call_id", Value: call.ID},
				logger.Field{Key: "duration_ms", Value: duration.Milliseconds()})
		} else {
			l.logger.DebugCtx(ctx, "tool execution completed",
				logger.Field{Key: "tool", Value: call.Name},
				logger.Field{Key: "tool_call_id", Value: call.ID},
				logger.Field{Key: "duration_ms", Value: duration.Milliseconds()})
		}

		l.notifyFinished(req.SessionID, tc, lastResult)

		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
		})
	}
	return messages, nil
}

func (l *Loop) notifyStarted(sessionID string, tc tools.ToolCall) {
	if l.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	l.observer.ToolStarted(sessionID, tc.ID, tc.Name)
}

func (l *Loop) notifyFinished(sessionID string, tc tools.ToolCall, result tools.ToolResult) {
	if l.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	l.observer.ToolFinished(sessionID, tc.ID, tc.Name, result)
}

func (l *Loop) saveTranscript(ctx context.Context, sessionID string, transcript []llm.Message) {
	if l.sink == nil {
		return
	}
	if err := l.sink.SaveTranscript(ctx, sessionID, transcript); err != nil {
		l.logger.WarnCtx(ctx, "failed to save transcript",
			logger.Field{Key: "session_id", Value: sessionID},
			logger.Field{Key: "error", Value: err.Error()})
	}
}

func cancelled(token *cancel.Token) bool {
	return token != nil && token.IsCancelled()
}
