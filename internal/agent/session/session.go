// Package session persists conversation transcripts as one JSONL file
// per session.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mozhuanzuojing/CountBot/internal/llm"
)

// Entry is a single line in a session file.
type Entry struct {
	Message   llm.Message `json:"message"`
	Timestamp string      `json:"timestamp,omitempty"`
}

// Store reads and writes session transcripts. It satisfies the loop's
// transcript sink.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

// NewStore creates a store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// SaveTranscript writes the full transcript, replacing any previous
// content for the session.
func (s *Store) SaveTranscript(ctx context.Context, sessionID string, messages []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionFile(sessionID)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create session file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	now := time.Now().UTC().Format(time.RFC3339)
	for _, msg := range messages {
		if err := enc.Encode(Entry{Message: msg, Timestamp: now}); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("failed to encode session entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush session file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close session file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadHistory returns the stored transcript for a session. A missing
// session yields an empty history.
func (s *Store) LoadHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.sessionFile(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer f.Close()

	var messages []llm.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			// A corrupt line loses one message, not the session.
			continue
		}
		// The system prompt is rebuilt for every run; stored copies
		// would duplicate it.
		if entry.Message.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return messages, nil
}

// Exists reports whether a session has stored history.
func (s *Store) Exists(sessionID string) bool {
	_, err := os.Stat(s.sessionFile(sessionID))
	return err == nil
}

// Remove deletes a session transcript.
func (s *Store) Remove(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionFile(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	return nil
}

// RemoveOlderThan deletes session files not modified since the cutoff
// and returns how many were removed.
func (s *Store) RemoveOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read session directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// sessionFile maps a session id to a filesystem path. Ids may carry
// separators like "cron:<id>", so unsafe characters are replaced.
func (s *Store) sessionFile(sessionID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return filepath.Join(s.baseDir, safe+".jsonl")
}
