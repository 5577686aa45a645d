package loop

import (
	"context"
	"strings"
	"sync"

	"github.com/mozhuanzuojing/CountBot/internal/llm"
)

// Stream is the live output of one loop run. Text fragments arrive on
// Fragments as the model produces them; once the channel is closed, Err
// and Transcript report the run's outcome.
type Stream struct {
	fragments chan string

	mu         sync.Mutex
	err        error
	transcript []llm.Message
}

func newStream() *Stream {
	return &Stream{
		fragments: make(chan string, 16),
	}
}

// Fragments returns the channel of incremental text fragments. The channel
// is closed when the run terminates for any reason.
func (s *Stream) Fragments() <-chan string {
	return s.fragments
}

// Err reports the run's terminal error, if any. Valid only after Fragments
// has been closed. A run cancelled through its token reports ErrCancelled.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Transcript returns the full message transcript accumulated by the run.
// Valid only after Fragments has been closed.
func (s *Stream) Transcript() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

// Collect drains the stream into a single string and returns it together
// with the run's terminal error.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for fragment := range s.fragments {
		b.WriteString(fragment)
	}
	return b.String(), s.Err()
}

// send forwards one fragment to the consumer. It reports false when the
// context is cancelled before the fragment can be delivered.
func (s *Stream) send(ctx context.Context, fragment string) bool {
	select {
	case s.fragments <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) finish(transcript []llm.Message, err error) {
	s.mu.Lock()
	s.transcript = transcript
	s.err = err
	s.mu.Unlock()
	close(s.fragments)
}
