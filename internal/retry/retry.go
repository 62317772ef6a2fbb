// Package retry provides the bounded retry driver shared by subsystems that
// talk to external services. It wraps cenkalti/backoff so every caller uses
// the same attempt-count and delay semantics.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Policy bounds a retry loop: at most MaxRetries retries after the first
// attempt, with exponential delay between InitialInterval and MaxInterval.
type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      defaultMaxRetries,
		InitialInterval: defaultInitialBackoff,
		MaxInterval:     defaultMaxBackoff,
	}
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx ends. notify (optional) runs once per transient failure,
// before the backoff delay; retries execute synchronously on the calling
// goroutine.
func (p Policy) Do(ctx context.Context, op backoff.Operation, notify backoff.Notify) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(p.InitialInterval),
				backoff.WithMaxInterval(p.MaxInterval),
			),
			p.MaxRetries,
		),
		ctx,
	)
	if notify == nil {
		return backoff.Retry(op, b)
	}
	return backoff.RetryNotify(op, b, notify)
}

// Permanent marks err as non-retryable; Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
