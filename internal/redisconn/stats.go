package redisconn

import (
	"sync"
	"time"
)

// opStats is a basic latency summary for one statistic bucket.
type opStats struct {
	count   int64
	totalMs int64
	minMs   int64
	maxMs   int64
}

// Tracker records per-operation command timing, keyed by the caller-supplied
// bucket name. Used for the /metrics endpoint only.
type Tracker struct {
	mu  sync.RWMutex
	ops map[string]*opStats
}

func NewTracker() *Tracker {
	return &Tracker{ops: make(map[string]*opStats)}
}

func (t *Tracker) Observe(op string, d time.Duration) {
	ms := d.Milliseconds()
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.ops[op]
	if s == nil {
		s = &opStats{}
		t.ops[op] = s
	}
	if s.count == 0 || ms < s.minMs {
		s.minMs = ms
	}
	if ms > s.maxMs {
		s.maxMs = ms
	}
	s.count++
	s.totalMs += ms
}

// Snapshot returns a copy of every bucket suitable for metrics rendering.
func (t *Tracker) Snapshot() map[string]map[string]interface{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(t.ops))
	for op, s := range t.ops {
		snap := map[string]interface{}{
			"count":          s.count,
			"latency_ms_min": s.minMs,
			"latency_ms_max": s.maxMs,
		}
		if s.count > 0 {
			snap["latency_ms_avg"] = float64(s.totalMs) / float64(s.count)
		} else {
			snap["latency_ms_avg"] = 0.0
		}
		out[op] = snap
	}
	return out
}
