package redisconn

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestRecoverClusterDownWaitsWithoutRebuild(t *testing.T) {
	c, builds := newTestClient(t)
	var probes atomic.Int64
	c.health = func(context.Context) error {
		if probes.Add(1) < 2 {
			return fakeRedisErr("CLUSTERDOWN The cluster is down")
		}
		return nil
	}

	err := c.Recover(context.Background(), 1, fakeRedisErr("CLUSTERDOWN The cluster is down"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probes.Load() < 2 {
		t.Fatalf("expected cluster health to be probed until restored, got %d probes", probes.Load())
	}
	if got := c.Generation(); got != 1 {
		t.Fatalf("cluster-down recovery must not advance the generation, got %d", got)
	}
	if builds.Load() != 0 {
		t.Fatalf("cluster-down recovery must not rebuild the client, got %d builds", builds.Load())
	}
}

func TestRecoverRetryableRebuildsOncePerGeneration(t *testing.T) {
	c, builds := newTestClient(t)

	if err := c.Recover(context.Background(), 1, fakeRedisErr("LOADING")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Generation(); got != 2 {
		t.Fatalf("expected one generation bump, got %d", got)
	}
	if builds.Load() != 1 {
		t.Fatalf("expected one rebuild, got %d", builds.Load())
	}

	// A second observer of the already-replaced generation must not rebuild.
	if err := c.Recover(context.Background(), 1, fakeRedisErr("LOADING")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.Generation(); got != 2 {
		t.Fatalf("stale observation must be a no-op, got generation %d", got)
	}
	if builds.Load() != 1 {
		t.Fatalf("stale observation must not rebuild, got %d builds", builds.Load())
	}
}
