package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tool defines the interface that all tools must implement.
// A tool represents a function that can be called by the agent.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// Parameters returns a JSON Schema object describing the tool's input
	// parameters, following the OpenAI function calling format.
	Parameters() map[string]interface{}

	// Execute runs the tool with the provided arguments.
	// args is a JSON-encoded string containing the tool's input parameters.
	Execute(args string) (string, error)
}

// ContextualTool is an optional interface that tools can implement to receive
// execution context. If a tool implements this interface, ExecuteWithContext
// is called instead of Execute.
type ContextualTool interface {
	Tool

	// ExecuteWithContext runs the tool with the provided arguments and
	// execution context for cancellation and deadlines.
	ExecuteWithContext(ctx context.Context, args string) (string, error)
}

// Registry manages the collection of available tools.
// It provides thread-safe operations for registering and retrieving tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
// If a tool with the same name already exists, it will be replaced.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.tools[name] = tool
	return nil
}

// Get retrieves a tool by its name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all registered tools as a slice. Order is not guaranteed.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}

	return tools
}

// Restricted returns a new registry containing every tool except the named
// ones. Used to hand subagents a reduced capability set.
func (r *Registry) Restricted(exclude ...string) *Registry {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := NewRegistry()
	for name, tool := range r.tools {
		if !excluded[name] {
			sub.tools[name] = tool
		}
	}
	return sub
}

// ToSchema converts the registered tools to function definitions that can be
// sent to LLM providers.
func (r *Registry) ToSchema() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		schemas = append(schemas, ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}

	return schemas
}

// ToolDefinition represents a tool definition in OpenAI function calling format.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolCall represents a tool call request from the LLM.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is a JSON string containing the tool's input parameters.
	Arguments string `json:"arguments"`
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
}

// ExecutionConfig represents the configuration for tool execution.
type ExecutionConfig struct {
	Timeout        time.Duration // Timeout for tool execution
	DefaultTimeout time.Duration // Default timeout if not specified
}

// DefaultExecutionConfig returns the default execution configuration.
func DefaultExecutionConfig() *ExecutionConfig {
	return &ExecutionConfig{
		DefaultTimeout: 30 * time.Second,
	}
}

// ExecuteToolCall executes a tool call using the provided registry with
// default settings.
func ExecuteToolCall(registry *Registry, tc ToolCall) (ToolResult, error) {
	return ExecuteToolCallWithContext(context.Background(), registry, tc, nil)
}

// ExecuteToolCallWithContext executes a tool call with context and
// configuration. Failures are encoded in the returned ToolResult rather than
// the error value; the error return is reserved for registry-level problems.
func ExecuteToolCallWithContext(ctx context.Context, registry *Registry, tc ToolCall, cfg *ExecutionConfig) (ToolResult, error) {
	tool, ok := registry.Get(tc.Name)
	if !ok {
		return ToolResult{
			ToolCallID: tc.ID,
			Error:      fmt.Sprintf("tool not found: %s", tc.Name),
		}, nil
	}

	var timeout time.Duration
	if cfg != nil {
		timeout = cfg.Timeout
		if timeout == 0 && cfg.DefaultTimeout != 0 {
			timeout = cfg.DefaultTimeout
		}
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type toolResult struct {
		result string
		err    error
	}
	resultChan := make(chan toolResult, 1)

	go func() {
		var res string
		var err error

		if contextualTool, ok := tool.(ContextualTool); ok {
			res, err = contextualTool.ExecuteWithContext(execCtx, tc.Arguments)
		} else {
			res, err = tool.Execute(tc.Arguments)
		}

		resultChan <- toolResult{result: res, err: err}
	}()

	select {
	case res := <-resultChan:
		result := ToolResult{
			ToolCallID: tc.ID,
			Content:    res.result,
		}
		if res.err != nil {
			result.Error = res.err.Error()
		}
		return result, nil
	case <-execCtx.Done():
		return ToolResult{
			ToolCallID: tc.ID,
			Error:      fmt.Sprintf("tool %s timed out", tc.Name),
			TimedOut:   true,
		}, nil
	}
}
