package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
)

func waitUntil(t *testing.T, d time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for condition")
}

type testMailbox struct {
	id   int
	acct string
}

func (m testMailbox) ID() int           { return m.id }
func (m testMailbox) AccountID() string { return m.acct }

type recEvent struct {
	mods         *mailbox.PendingModifications
	changeID     int
	source       mailbox.SourceInfo
	sourceHash   int
	remoteOrigin bool
}

// recListener records every notification it receives.
type recListener struct {
	typ ListenerType

	mu     sync.Mutex
	events []recEvent
}

func (l *recListener) Type() ListenerType { return l.typ }

func (l *recListener) Notify(mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceHash int, remoteOrigin bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recEvent{mods, changeID, source, sourceHash, remoteOrigin})
}

func (l *recListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *recListener) last() recEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

// recTransport counts publishes and optionally fails them; Listen is inert.
type recTransport struct {
	publishes atomic.Int64
	failWith  error
}

func (t *recTransport) Publish(context.Context, string, []byte) (int64, error) {
	t.publishes.Add(1)
	if t.failWith != nil {
		return 0, t.failWith
	}
	return 1, nil
}

func (t *recTransport) Listen(ctx context.Context, _ string, _ func([]byte)) {
	<-ctx.Done()
}

func someMods() *mailbox.PendingModifications {
	return &mailbox.PendingModifications{
		Created: []mailbox.ItemSnapshot{{ID: 257, Type: "message", FolderID: 2}},
		Changed: mailbox.ChangedContent,
	}
}
