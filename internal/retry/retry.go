// Package retry provides a bounded-attempt combinator with fixed or
// exponential backoff delays. It is shared by tool execution and
// persistence writes.
package retry

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 10 * time.Second
)

// Config represents retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (default: 3)
	Delay       time.Duration // Inter-attempt delay (default: 1s)
	Backoff     bool          // When true, delay doubles each attempt
	MaxDelay    time.Duration // Cap for backoff delays (default: 10s)

	// Retryable, when set, decides whether an error is worth another
	// attempt. A nil Retryable retries every error.
	Retryable func(error) bool
}

func (cfg *Config) applyDefaults() {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
}

// Do executes fn up to cfg.MaxAttempts times, waiting between attempts.
// It returns nil on the first success, or the last error once attempts are
// exhausted. Context cancellation is checked before every wait.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithRetry(ctx, cfg, func() (string, error) {
		return "", fn()
	})
	return err
}

// DoWithRetry executes fn up to cfg.MaxAttempts times and returns its result.
// It returns the result of the first successful call, or the last error once
// all attempts fail. Context cancellation is checked before every wait.
func DoWithRetry(ctx context.Context, cfg Config, fn func() (string, error)) (string, error) {
	cfg.applyDefaults()

	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return "", err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-time.After(delayFor(attempt, cfg)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return "", fmt.Errorf("all %d attempts failed: %w", cfg.MaxAttempts, lastErr)
}

// delayFor returns the wait before the next attempt. Fixed delay unless
// backoff is enabled, in which case 2^attempt * delay capped at MaxDelay.
func delayFor(attempt int, cfg Config) time.Duration {
	if !cfg.Backoff {
		return cfg.Delay
	}
	delay := time.Duration(1<<uint(attempt)) * cfg.Delay
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}
