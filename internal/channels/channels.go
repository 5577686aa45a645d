// Package channels routes job output to delivery targets by channel name.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownChannel is returned when delivery targets an unregistered channel.
var ErrUnknownChannel = errors.New("unknown delivery channel")

// Target delivers text to one destination within a channel.
type Target interface {
	Send(ctx context.Context, chatID, text string) error
}

// Router dispatches deliveries to registered targets. It satisfies the
// scheduler's delivery sink.
type Router struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{targets: make(map[string]Target)}
}

// Register adds a target under a channel name, replacing any previous one.
func (r *Router) Register(channel string, target Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets[channel] = target
}

// Deliver sends text through the target registered for channel.
func (r *Router) Deliver(ctx context.Context, channel, chatID, text string) error {
	r.mu.RLock()
	target, ok := r.targets[channel]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return target.Send(ctx, chatID, text)
}

// Channels returns the registered channel names.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.targets))
	for name := range r.targets {
		names = append(names, name)
	}
	return names
}
