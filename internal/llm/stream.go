package llm

// ChunkKind discriminates stream chunk payloads.
type ChunkKind string

const (
	// ChunkContent carries a piece of assistant text for immediate display.
	ChunkContent ChunkKind = "content"
	// ChunkToolCall carries one complete tool call request.
	ChunkToolCall ChunkKind = "tool_call"
	// ChunkReasoning carries model reasoning text, buffered but never
	// forwarded to the user.
	ChunkReasoning ChunkKind = "reasoning"
	// ChunkDone is the terminal marker carrying the finish reason and usage.
	ChunkDone ChunkKind = "done"
	// ChunkError is a terminal marker for unrecoverable gateway failures.
	ChunkError ChunkKind = "error"
)

// StreamChunk is one element of a provider's lazy response sequence.
// Exactly one payload field is meaningful for a given Kind.
type StreamChunk struct {
	Kind ChunkKind

	Content      string       // ChunkContent
	ToolCall     *ToolCall    // ChunkToolCall
	Reasoning    string       // ChunkReasoning
	FinishReason FinishReason // ChunkDone
	Usage        Usage        // ChunkDone
	Err          error        // ChunkError
}

// IsTerminal reports whether the chunk ends the stream.
func (c StreamChunk) IsTerminal() bool {
	return c.Kind == ChunkDone || c.Kind == ChunkError
}
