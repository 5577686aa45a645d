package cancel

import (
	"sync"
	"testing"
)

func TestRegistry_AcquireIsLazy(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}

	token := r.Acquire("conv-1")
	if token == nil {
		t.Fatal("Acquire() returned nil")
	}
	if token.ConversationID() != "conv-1" {
		t.Errorf("ConversationID() = %q, want conv-1", token.ConversationID())
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// Same conversation yields the same token.
	if again := r.Acquire("conv-1"); again != token {
		t.Error("Acquire() returned a different token for the same conversation")
	}
}

func TestRegistry_CancelPropagatesToHeldToken(t *testing.T) {
	r := NewRegistry()
	token := r.Acquire("conv-1")

	if !r.Cancel("conv-1") {
		t.Fatal("Cancel() = false, want true for live token")
	}
	if !token.IsCancelled() {
		t.Error("held token not cancelled")
	}
}

func TestRegistry_CancelUnknownConversation(t *testing.T) {
	r := NewRegistry()
	if r.Cancel("ghost") {
		t.Error("Cancel() = true for unknown conversation")
	}
}

func TestRegistry_Release(t *testing.T) {
	r := NewRegistry()
	token := r.Acquire("conv-1")
	token.Cancel()
	r.Release("conv-1")

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after release", r.Len())
	}

	// A fresh run gets a fresh, uncancelled token.
	fresh := r.Acquire("conv-1")
	if fresh.IsCancelled() {
		t.Error("fresh token inherited cancellation")
	}
}

func TestToken_CancelIdempotent(t *testing.T) {
	token := &Token{conversationID: "c"}
	token.Cancel()
	token.Cancel()
	if !token.IsCancelled() {
		t.Error("IsCancelled() = false after Cancel()")
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token := r.Acquire("conv-shared")
			r.Cancel("conv-shared")
			_ = token.IsCancelled()
		}()
	}
	wg.Wait()

	if !r.Acquire("conv-shared").IsCancelled() {
		t.Error("shared token not cancelled after concurrent cancels")
	}
}
