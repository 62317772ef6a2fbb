// Package logging provides tag-gated verbose logging for chatty per-message
// paths (notification publish/replay, redis command traffic). Tags are
// enabled via the LOG_TAGS environment variable or at runtime; everything
// forwards to the process slog default.
package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu   sync.RWMutex
	tags map[string]bool
)

func init() {
	tags = make(map[string]bool)
	EnableMany(os.Getenv("LOG_TAGS"))
}

// VerboseEnabled returns true if the given tag is enabled.
func VerboseEnabled(tag string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return tags[tag]
}

// Enable turns on a tag at runtime.
func Enable(tag string) {
	if tag == "" {
		return
	}
	mu.Lock()
	tags[tag] = true
	mu.Unlock()
}

// EnableMany enables a comma-separated list of tags.
func EnableMany(csv string) {
	for _, t := range strings.Split(csv, ",") {
		Enable(strings.TrimSpace(t))
	}
}

// VInfo logs an Info message only when the tag is enabled.
func VInfo(tag string, msg string, attrs ...slog.Attr) {
	if !VerboseEnabled(tag) {
		return
	}
	if len(attrs) == 0 {
		slog.Info(msg)
		return
	}
	pairs := make([]any, 0, len(attrs)*2)
	for _, a := range attrs {
		pairs = append(pairs, a.Key, a.Value.Any())
	}
	slog.Info(msg, pairs...)
}
