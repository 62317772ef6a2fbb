// Package redisconn owns the shared Redis client and the retry/reconnect
// machinery every Redis command in the process runs through. The client is
// the one piece of mutable shared state: readers execute commands against the
// current generation, a reconnect swaps in a fresh client under an exclusive
// lock and bumps the generation so stale holders can rebind.
package redisconn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Options carries the connection parameters supplied by configuration.
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ClusterPollInterval is how often WaitForClusterOK re-probes cluster
	// health while the backing cluster is reported down.
	ClusterPollInterval time.Duration
}

func (o Options) redisOptions() *redis.Options {
	return &redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     o.PoolSize,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	}
}

// Client holds the current generation of the shared *redis.Client. Commands
// take the read side of the lock for their whole execution; Restart takes the
// write side, so a rebuild never tears down a command that already started.
type Client struct {
	mu         sync.RWMutex
	rdb        *redis.Client
	generation uint64

	opts Options

	// seams for tests; wired to real implementations by New.
	newClient func(Options) *redis.Client
	health    func(ctx context.Context) error

	pollInterval time.Duration
}

// New builds the handle and its first client generation. The connection is
// not probed here; use Dial when startup should fail fast on a bad address.
func New(opts Options) *Client {
	c := &Client{
		opts:         opts,
		generation:   1,
		newClient:    func(o Options) *redis.Client { return redis.NewClient(o.redisOptions()) },
		pollInterval: opts.ClusterPollInterval,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	c.rdb = c.newClient(opts)
	c.health = c.defaultHealth
	return c
}

// Dial builds the handle and verifies the server is reachable.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := New(opts)
	rdb, _ := c.Snapshot()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return c, nil
}

// Generation returns the current client generation. It increases by exactly
// one per successful Restart and never decreases.
func (c *Client) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Snapshot returns the current client and its generation without retaining
// the lock. Long-lived consumers (subscribe loops) use this and re-snapshot
// after a reconnect.
func (c *Client) Snapshot() (*redis.Client, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rdb, c.generation
}

// acquire takes the read lock and returns the current client and generation.
// The caller must call release once the command has finished executing.
func (c *Client) acquire() (*redis.Client, uint64) {
	c.mu.RLock()
	return c.rdb, c.generation
}

func (c *Client) release() {
	c.mu.RUnlock()
}

// Restart rebuilds the underlying client and bumps the generation. It is a
// no-op when the generation has already moved past genAtFailure: concurrent
// commands observing the same broken client trigger exactly one rebuild.
func (c *Client) Restart(genAtFailure uint64, cause error) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation > genAtFailure {
		return c.generation
	}
	old := c.rdb
	c.rdb = c.newClient(c.opts)
	c.generation++
	slog.Warn("rebuilt redis client",
		slog.Uint64("generation", c.generation),
		slog.Any("cause", cause))
	if old != nil {
		_ = old.Close()
	}
	return c.generation
}

// Recover reacts to a retryable failure observed at genAtFailure: a
// CLUSTERDOWN reply means the client object is fine and the cluster needs
// time, so it waits for health without advancing the generation; anything
// else rebuilds the shared client. Restart no-ops when another observer of
// the same generation already rebuilt.
func (c *Client) Recover(ctx context.Context, genAtFailure uint64, cause error) error {
	if IsClusterDown(cause) {
		return c.WaitForClusterOK(ctx)
	}
	c.Restart(genAtFailure, cause)
	return nil
}

// WaitForClusterOK blocks until the backing cluster answers a health probe
// again. This is the recovery path for transient topology failures: the
// client object itself is fine, so the generation is never advanced here.
func (c *Client) WaitForClusterOK(ctx context.Context) error {
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()
	for {
		if err := c.health(ctx); err == nil {
			slog.Info("redis cluster health restored")
			return nil
		} else {
			slog.Warn("waiting for redis cluster to recover", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) defaultHealth(ctx context.Context) error {
	rdb, _ := c.Snapshot()
	return rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rdb.Close()
}
