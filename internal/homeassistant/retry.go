// Package homeassistant wraps the go-ha-client REST and WebSocket APIs for
// device tracking and companion-app notifications. It provides an [Adapter]
// that reads tracker positions and calls notify services, a backoff [Retry]
// helper that gives up early on [Permanent] failures, and conversion from HA
// state JSON to [model.Fix].
package homeassistant

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3

	baseDelay = 500 * time.Millisecond
	maxDelay  = 5 * time.Second
)

// permanentError marks a failure that another attempt cannot fix, such as an
// unknown tracker entity.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so [Retry] returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn until it succeeds, returns a [Permanent] error, or
// maxAttempts calls have failed. Waits between attempts grow exponentially
// with jitter. A permanent error is returned unwrapped.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(backoffDelay(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return fmt.Errorf("retry cancelled after %d attempt(s): %w", attempt, ctx.Err())
			case <-t.C:
			}
		} else if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("retry cancelled: %w", ctxErr)
		}

		if err = fn(); err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return fmt.Errorf("all %d attempts failed: %w", maxAttempts, err)
}

// backoffDelay is baseDelay doubled per attempt, capped at maxDelay, then
// drawn uniformly from its upper half.
func backoffDelay(attempt int) time.Duration {
	d := min(baseDelay<<attempt, maxDelay)
	return d/2 + time.Duration(rand.Int63n(int64(d/2))) //nolint:gosec // jitter
}
