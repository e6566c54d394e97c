// Package retry re-invokes fallible operations under exponential
// backoff, consulting the queue error classifier to decide whether a
// failure is worth retrying.
package retry

import (
	"context"
	"time"

	backoff "github.com/sethvargo/go-retry"

	"mention_bot/internal/queue"
)

// Defaults matching the queue store's historical retry envelope.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 1 * time.Second
)

// Do invokes op, retrying transient failures with pure exponential
// backoff (baseDelay, 2·baseDelay, 4·baseDelay, ...). Non-transient
// failures are returned after a single invocation. The total number of
// invocations never exceeds maxAttempts; the last error is returned
// once attempts are exhausted. Context cancellation aborts the backoff
// sleep.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := backoff.WithMaxRetries(uint64(maxAttempts-1), backoff.NewExponential(baseDelay))

	return backoff.Do(ctx, b, func(ctx context.Context) error {
		err := op()
		if err == nil {
			return nil
		}
		if queue.IsTransient(err) {
			return backoff.RetryableError(err)
		}
		return err
	})
}
