package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Dominik1799/zm-mailbox/internal/notify"
)

// customCollectors contains callbacks that return fully formatted Prometheus
// metric lines. Other packages can register lightweight metrics without
// introducing dependencies here.
var customCollectors []func() []string

// RegisterCustomCollector adds a collector function whose returned lines will
// be emitted on /metrics.
func RegisterCustomCollector(f func() []string) {
	customCollectors = append(customCollectors, f)
}

// SetupPrometheus registers a minimal Prometheus-compatible text endpoint at
// /metrics. This avoids pulling external dependencies while remaining
// scrape-friendly.
func SetupPrometheus(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		// Aggregate under channel="all"
		writeSnapshot(w, "all", notify.Metrics.Snapshot())
		// Per-channel breakdown, in stable order for readability
		snaps := notify.Metrics.ChannelSnapshots()
		keys := make([]string, 0, len(snaps))
		for k := range snaps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, ch := range keys {
			writeSnapshot(w, ch, snaps[ch])
		}

		// Emit custom registered metrics
		for _, f := range customCollectors {
			if f == nil {
				continue
			}
			for _, line := range f() {
				if line == "" {
					continue
				}
				fmt.Fprintln(w, line)
			}
		}
	})
}

func writeSnapshot(w http.ResponseWriter, channel string, snap map[string]interface{}) {
	f := func(k string) float64 {
		if v, ok := snap[k]; ok {
			switch t := v.(type) {
			case int64:
				return float64(t)
			case int:
				return float64(t)
			case float64:
				return t
			case uint64:
				return float64(t)
			}
		}
		return 0
	}
	label := fmt.Sprintf("{channel=\"%s\"}", escapeLabel(channel))
	fmt.Fprintf(w, "zm_notify_published_total%s %v\n", label, f("published_total"))
	fmt.Fprintf(w, "zm_notify_publish_failures_total%s %v\n", label, f("publish_failures_total"))
	fmt.Fprintf(w, "zm_notify_inbound_total%s %v\n", label, f("inbound_total"))
	fmt.Fprintf(w, "zm_notify_replayed_total%s %v\n", label, f("replayed_total"))
	fmt.Fprintf(w, "zm_notify_subscriber_miss_total%s %v\n", label, f("subscriber_miss_total"))
	fmt.Fprintf(w, "zm_notify_decode_failures_total%s %v\n", label, f("decode_failures_total"))
	fmt.Fprintf(w, "zm_notify_dropped_total%s %v\n", label, f("dropped_total"))
}

// RedisTrackerLines formats a redis command-timing snapshot as metric lines;
// the server wiring registers it as a custom collector.
func RedisTrackerLines(snapshot func() map[string]map[string]interface{}) []string {
	snaps := snapshot()
	ops := make([]string, 0, len(snaps))
	for op := range snaps {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	var lines []string
	for _, op := range ops {
		s := snaps[op]
		label := fmt.Sprintf("{op=\"%s\"}", escapeLabel(op))
		for _, k := range []string{"count", "latency_ms_avg", "latency_ms_min", "latency_ms_max"} {
			lines = append(lines, fmt.Sprintf("zm_redis_%s%s %v", k, label, s[k]))
		}
	}
	return lines
}

func escapeLabel(v string) string {
	// Basic escape for quotes and backslashes
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
