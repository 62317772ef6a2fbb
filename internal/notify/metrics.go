package notify

import (
	"sync"
	"sync/atomic"
)

// channelMetrics counts fabric activity for one channel (or the aggregate).
type channelMetrics struct {
	published       atomic.Int64
	publishFailures atomic.Int64
	inbound         atomic.Int64
	replayed        atomic.Int64
	subscriberMiss  atomic.Int64
	decodeFailures  atomic.Int64
	dropped         atomic.Int64
}

// MetricsRegistry holds the global aggregate plus a per-channel breakdown,
// for the /metrics endpoint. Counts are diagnostics only.
type MetricsRegistry struct {
	global   channelMetrics
	mu       sync.RWMutex
	channels map[string]*channelMetrics
}

func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{channels: make(map[string]*channelMetrics)}
}

var Metrics = NewMetricsRegistry()

func (r *MetricsRegistry) channel(name string) *channelMetrics {
	if name == "" {
		return nil
	}
	r.mu.RLock()
	cm := r.channels[name]
	r.mu.RUnlock()
	if cm != nil {
		return cm
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cm = r.channels[name]; cm == nil {
		cm = &channelMetrics{}
		r.channels[name] = cm
	}
	return cm
}

func (r *MetricsRegistry) inc(name string, f func(*channelMetrics)) {
	f(&r.global)
	if cm := r.channel(name); cm != nil {
		f(cm)
	}
}

func (r *MetricsRegistry) IncPublished(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.published.Add(1) })
}

func (r *MetricsRegistry) IncPublishFailure(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.publishFailures.Add(1) })
}

func (r *MetricsRegistry) IncInbound(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.inbound.Add(1) })
}

func (r *MetricsRegistry) IncReplayed(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.replayed.Add(1) })
}

func (r *MetricsRegistry) IncSubscriberMiss(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.subscriberMiss.Add(1) })
}

func (r *MetricsRegistry) IncDecodeFailure(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.decodeFailures.Add(1) })
}

func (r *MetricsRegistry) IncDropped(channel string) {
	r.inc(channel, func(m *channelMetrics) { m.dropped.Add(1) })
}

func snapshot(m *channelMetrics) map[string]interface{} {
	return map[string]interface{}{
		"published_total":        m.published.Load(),
		"publish_failures_total": m.publishFailures.Load(),
		"inbound_total":          m.inbound.Load(),
		"replayed_total":         m.replayed.Load(),
		"subscriber_miss_total":  m.subscriberMiss.Load(),
		"decode_failures_total":  m.decodeFailures.Load(),
		"dropped_total":          m.dropped.Load(),
	}
}

// Snapshot returns the global aggregate.
func (r *MetricsRegistry) Snapshot() map[string]interface{} {
	return snapshot(&r.global)
}

// ChannelSnapshots returns a labeled snapshot per channel.
func (r *MetricsRegistry) ChannelSnapshots() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]map[string]interface{}, len(r.channels))
	for k, v := range r.channels {
		out[k] = snapshot(v)
	}
	return out
}
