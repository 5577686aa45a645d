package llm

import (
	"context"
)

// Provider defines the interface for LLM providers. The engine consumes
// providers exclusively through the streaming contract; abandoning a stream
// mid-consumption must be safe.
type Provider interface {
	// ChatStream sends a chat completion request and returns a channel of
	// stream chunks. The channel is closed after the terminal chunk (done or
	// error). Implementations must stop producing promptly when ctx is
	// cancelled.
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// SupportsToolCalling returns true if the provider supports tool calling.
	// This allows the loop to know whether to send tool definitions.
	SupportsToolCalling() bool

	// GetDefaultModel returns the default model identifier for this provider.
	GetDefaultModel() string
}

// Role represents the role of a message sender in the conversation.
type Role string

const (
	RoleSystem    Role = "system"    // System message provides context/instructions
	RoleUser      Role = "user"      // User message represents user input
	RoleAssistant Role = "assistant" // Assistant message represents model response
	RoleTool      Role = "tool"      // Tool message represents tool execution results
)

// Message represents a single message in the chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that requested tool calls.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set for RoleTool messages to identify which tool call
	// this result is for.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ReasoningContent carries buffered model reasoning. Never shown to users.
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

// FinishReason indicates why the model stopped generating tokens.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"       // Model reached a natural stopping point
	FinishReasonLength    FinishReason = "length"     // Model exceeded max tokens
	FinishReasonToolCalls FinishReason = "tool_calls" // Model requested tool calls
	FinishReasonError     FinishReason = "error"      // Generation stopped due to an error
)

// ToolCall represents a requested tool call by the model.
type ToolCall struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Arguments is a JSON string containing the arguments for the tool call.
	Arguments string `json:"arguments"`
}

// Usage tracks token usage information for the request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`

	// Tools is a list of tools the model can call. Only used if supported.
	Tools []ToolDefinition `json:"tools,omitempty"`
}

// ToolDefinition defines a tool that the model can call.
type ToolDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	// Parameters is a JSON Schema object describing the tool's input parameters.
	Parameters map[string]interface{} `json:"parameters"`
}
