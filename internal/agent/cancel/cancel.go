// Package cancel provides cooperative cancellation tokens keyed by
// conversation. Tokens are polled at loop-iteration boundaries and before
// each tool dispatch; they cannot interrupt work already in flight.
package cancel

import (
	"sync"
	"sync/atomic"
)

// Token is a shared cancellation flag for one conversation.
type Token struct {
	conversationID string
	cancelled      atomic.Bool
}

// NewToken creates a standalone token outside any registry.
func NewToken(conversationID string) *Token {
	return &Token{conversationID: conversationID}
}

// ConversationID returns the conversation this token belongs to.
func (t *Token) ConversationID() string {
	return t.conversationID
}

// Cancel marks the token as cancelled. Idempotent.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether the token has been cancelled.
func (t *Token) IsCancelled() bool {
	return t.cancelled.Load()
}

// Registry tracks live tokens per conversation. Tokens are created lazily
// on first lookup and released when the conversation's run concludes.
type Registry struct {
	mu     sync.Mutex
	tokens map[string]*Token
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[string]*Token),
	}
}

// Acquire returns the token for the conversation, creating it if needed.
func (r *Registry) Acquire(conversationID string) *Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	if token, ok := r.tokens[conversationID]; ok {
		return token
	}
	token := &Token{conversationID: conversationID}
	r.tokens[conversationID] = token
	return token
}

// Cancel cancels the conversation's token if one exists.
// Returns true if a live token was found.
func (r *Registry) Cancel(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[conversationID]
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

// Release removes the conversation's token. Called when a run concludes,
// whatever the outcome.
func (r *Registry) Release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, conversationID)
}

// Len returns the number of live tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}
