package redisconn

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Dominik1799/zm-mailbox/internal/retry"
)

// Executor runs units of work against the shared client with
// classification-driven retry. A command binds the generation current when it
// starts; if a reconnect happens between attempts the next attempt rebinds to
// the rebuilt client (a cheap re-init, not itself a reconnect).
type Executor struct {
	client *Client
	policy retry.Policy
	stats  *Tracker
}

func NewExecutor(client *Client, policy retry.Policy, stats *Tracker) *Executor {
	if stats == nil {
		stats = NewTracker()
	}
	return &Executor{client: client, policy: policy, stats: stats}
}

func (e *Executor) Stats() *Tracker { return e.stats }

// Run executes fn against the current client, retrying per the failure
// taxonomy. op identifies the caller's statistic bucket; timing is recorded
// regardless of outcome and never affects control flow.
func (e *Executor) Run(ctx context.Context, op string, fn func(ctx context.Context, rdb *redis.Client) error) error {
	start := time.Now()
	defer func() { e.stats.Observe(op, time.Since(start)) }()

	bound := e.client.Generation()
	var genAtFailure uint64

	attempt := func() error {
		err := func() error {
			rdb, gen := e.client.acquire()
			defer e.client.release()
			if gen != bound {
				slog.Debug("detected stale client generation, rebinding",
					slog.Uint64("bound", bound),
					slog.Uint64("current", gen),
					slog.String("op", op))
				bound = gen
			}
			genAtFailure = gen
			return fn(ctx, rdb)
		}()
		if err == nil {
			return nil
		}
		switch Classify(err) {
		case OutcomeInterrupted:
			slog.Info("redis operation was interrupted, not retrying", slog.String("op", op))
			return retry.Permanent(fmt.Errorf("%w: %v", ErrInterrupted, err))
		case OutcomeFatal:
			slog.Warn("redis command failed with non-retryable error",
				slog.String("op", op), slog.Any("error", err))
			return retry.Permanent(err)
		default:
			return err
		}
	}

	onFailure := func(err error, _ time.Duration) {
		if werr := e.client.Recover(ctx, genAtFailure, err); werr != nil {
			slog.Warn("aborted wait for cluster recovery",
				slog.String("op", op), slog.Any("error", werr))
		}
	}

	if err := e.policy.Do(ctx, attempt, onFailure); err != nil {
		return fmt.Errorf("redis %s: %w", op, err)
	}
	return nil
}
