package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	transcript := []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello", ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "system_time", Arguments: "{}"},
		}},
		{Role: llm.RoleTool, Content: "12:00", ToolCallID: "call_1"},
	}

	if err := store.SaveTranscript(ctx, "session-1", transcript); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	got, err := store.LoadHistory(ctx, "session-1")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	// The system message is dropped on load.
	if len(got) != 3 {
		t.Fatalf("loaded %d messages, want 3", len(got))
	}
	if got[0].Role != llm.RoleUser {
		t.Errorf("first loaded message = %+v, want user", got[0])
	}
	if got[1].ToolCalls[0].Name != "system_time" {
		t.Errorf("tool call lost: %+v", got[1])
	}
	if got[2].ToolCallID != "call_1" {
		t.Errorf("tool call id lost: %+v", got[2])
	}
}

func TestStore_SaveReplacesPrevious(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := []llm.Message{{Role: llm.RoleUser, Content: "one"}}
	second := []llm.Message{
		{Role: llm.RoleUser, Content: "one"},
		{Role: llm.RoleAssistant, Content: "two"},
	}

	if err := store.SaveTranscript(ctx, "s", first); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTranscript(ctx, "s", second); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadHistory(ctx, "s")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("loaded %d messages, want 2", len(got))
	}
}

func TestStore_LoadMissingSession(t *testing.T) {
	store := newTestStore(t)

	got, err := store.LoadHistory(context.Background(), "nope")
	if err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if got != nil {
		t.Errorf("history = %v, want nil", got)
	}
}

func TestStore_SessionIDSanitized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	msgs := []llm.Message{{Role: llm.RoleUser, Content: "x"}}
	if err := store.SaveTranscript(ctx, "cron:job/../../escape", msgs); err != nil {
		t.Fatalf("SaveTranscript() error = %v", err)
	}

	got, err := store.LoadHistory(ctx, "cron:job/../../escape")
	if err != nil || len(got) != 1 {
		t.Fatalf("round trip failed: %v %v", got, err)
	}

	entries, _ := os.ReadDir(store.baseDir)
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in base dir, found %d", len(entries))
	}
}

func TestStore_ExistsAndRemove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if store.Exists("s") {
		t.Error("Exists() = true before save")
	}
	if err := store.SaveTranscript(ctx, "s", []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
	if !store.Exists("s") {
		t.Error("Exists() = false after save")
	}
	if err := store.Remove("s"); err != nil {
		t.Fatal(err)
	}
	if store.Exists("s") {
		t.Error("Exists() = true after remove")
	}
	if err := store.Remove("s"); err != nil {
		t.Errorf("Remove() on missing session = %v, want nil", err)
	}
}

func TestStore_RemoveOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveTranscript(ctx, "old", []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTranscript(ctx, "fresh", []llm.Message{{Role: llm.RoleUser, Content: "y"}}); err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(store.baseDir, "old.jsonl")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := store.RemoveOlderThan(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("RemoveOlderThan() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if store.Exists("old") || !store.Exists("fresh") {
		t.Error("wrong sessions removed")
	}
}
