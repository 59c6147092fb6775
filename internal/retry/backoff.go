// Package retry runs an operation again after transient failures, waiting a
// configured delay between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Config holds retry configuration
type Config struct {
	MaxAttempts int
	Delays      []time.Duration
}

// DefaultConfig retries three times, backing off from one to four seconds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delays:      []time.Duration{1 * time.Second, 4 * time.Second},
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. WithRetry returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// delay returns the wait before the given retry (1-based). The last delay is
// reused when attempts outnumber delays; no delays means no wait.
func (c Config) delay(retry int) time.Duration {
	if len(c.Delays) == 0 {
		return 0
	}
	i := retry - 1
	if i >= len(c.Delays) {
		i = len(c.Delays) - 1
	}
	return c.Delays[i]
}

// WithRetry executes fn up to MaxAttempts times, sleeping between attempts.
// When every attempt fails, the last error is returned wrapped with the
// attempt count.
func WithRetry(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(cfg.delay(attempt))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			}
		}

		err := fn()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
