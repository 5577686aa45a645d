package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Turn is one scripted model response for the mock provider. Text is split
// into small content chunks to exercise streaming consumers.
type Turn struct {
	Text      string
	Reasoning string
	ToolCalls []ToolCall
	Err       error
}

// MockProvider is a scripted implementation of Provider for tests and
// graceful degradation. Turns are played back in order; once exhausted,
// the provider repeats the last turn.
type MockProvider struct {
	mu        sync.Mutex
	turns     []Turn
	turnIndex int
	delay     time.Duration
	callCount int
}

// NewMockProvider creates a mock provider playing back the given turns.
func NewMockProvider(turns ...Turn) *MockProvider {
	return &MockProvider{turns: turns}
}

// NewEchoProvider creates a mock provider that echoes the last user message.
func NewEchoProvider() *MockProvider {
	return &MockProvider{}
}

// NewFixedProvider creates a mock provider that always answers with response.
func NewFixedProvider(response string) *MockProvider {
	return NewMockProvider(Turn{Text: response})
}

// NewErrorProvider creates a mock provider whose stream always fails.
func NewErrorProvider(err error) *MockProvider {
	if err == nil {
		err = fmt.Errorf("mock provider error")
	}
	return NewMockProvider(Turn{Err: err})
}

// SetDelay adds an artificial pause before each chunk, for latency tests.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// CallCount returns the number of ChatStream calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// ChatStream implements the Provider interface.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	m.mu.Lock()
	m.callCount++
	turn := m.nextTurnLocked(req)
	delay := m.delay
	m.mu.Unlock()

	out := make(chan StreamChunk, 8)
	go func() {
		defer close(out)

		emit := func(chunk StreamChunk) bool {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return false
				}
			}
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if turn.Err != nil {
			emit(StreamChunk{Kind: ChunkError, Err: turn.Err})
			return
		}
		if turn.Reasoning != "" {
			if !emit(StreamChunk{Kind: ChunkReasoning, Reasoning: turn.Reasoning}) {
				return
			}
		}
		for _, piece := range splitChunks(turn.Text, 16) {
			if !emit(StreamChunk{Kind: ChunkContent, Content: piece}) {
				return
			}
		}
		for i := range turn.ToolCalls {
			tc := turn.ToolCalls[i]
			if !emit(StreamChunk{Kind: ChunkToolCall, ToolCall: &tc}) {
				return
			}
		}

		finish := FinishReasonStop
		if len(turn.ToolCalls) > 0 {
			finish = FinishReasonToolCalls
		}
		emit(StreamChunk{
			Kind:         ChunkDone,
			FinishReason: finish,
			Usage:        Usage{PromptTokens: len(req.Messages), CompletionTokens: len(turn.Text)},
		})
	}()

	return out, nil
}

// SupportsToolCalling implements the Provider interface.
func (m *MockProvider) SupportsToolCalling() bool {
	return true
}

// GetDefaultModel implements the Provider interface.
func (m *MockProvider) GetDefaultModel() string {
	return "mock-model"
}

// nextTurnLocked picks the turn to play. With no script the provider echoes
// the last user message.
func (m *MockProvider) nextTurnLocked(req ChatRequest) Turn {
	if len(m.turns) == 0 {
		return Turn{Text: lastUserContent(req.Messages)}
	}
	turn := m.turns[m.turnIndex]
	if m.turnIndex < len(m.turns)-1 {
		m.turnIndex++
	}
	return turn
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	out = append(out, string(runes))
	return out
}
