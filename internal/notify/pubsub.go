// Package notify is the cross-node notification fabric: per-mailbox
// publishers and subscribers multiplexed onto a bounded set of shared
// pub/sub channels. Local, in-process delivery is always synchronous and
// never depends on the remote transport; cross-node delivery is best-effort.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
)

// ListenerType distinguishes the classes of session that register local
// listeners against a mailbox.
type ListenerType int

const (
	ListenerSOAP ListenerType = iota
	ListenerIMAP
	ListenerAdmin
	ListenerWaitSet
)

// Listener receives notifications for the mailbox it is registered on.
// remoteOrigin is true when the notification was replayed from another node;
// listeners and anything downstream of them must not re-publish in that
// case, which is what prevents propagation loops across nodes.
type Listener interface {
	Type() ListenerType
	Notify(mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int, remoteOrigin bool)
}

// Publisher fans a committed mutation batch out to listeners.
type Publisher interface {
	// Publish delivers to local listeners synchronously, then publishes
	// cross-node-visible changes remotely. Remote failures are logged and
	// swallowed; the triggering mutation has already committed.
	Publish(ctx context.Context, mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int)
	// NumListeners reports locally-registered listeners only; remote
	// listener counts are not observable.
	NumListeners(t ListenerType) int
}

// Subscriber owns the local listener set for one mailbox and replays
// remote-origin notifications into it.
type Subscriber interface {
	AddListener(l Listener) string
	RemoveListener(id string)
	NotifyListeners(mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int, remoteOrigin bool)
	// PurgeListeners drops every listener; called on mailbox unload.
	PurgeListeners()
}

// LocalSubscriber is the in-process listener registry. It is the whole story
// in standalone mode and the local half of the Redis-backed mode.
type LocalSubscriber struct {
	mbox mailbox.Mailbox

	mu        sync.RWMutex
	listeners map[string]Listener
}

func NewLocalSubscriber(mbox mailbox.Mailbox) *LocalSubscriber {
	return &LocalSubscriber{mbox: mbox, listeners: make(map[string]Listener)}
}

func (s *LocalSubscriber) Mailbox() mailbox.Mailbox { return s.mbox }

func (s *LocalSubscriber) AddListener(l Listener) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.listeners[id] = l
	s.mu.Unlock()
	return id
}

func (s *LocalSubscriber) RemoveListener(id string) {
	s.mu.Lock()
	delete(s.listeners, id)
	s.mu.Unlock()
}

// NotifyListeners delivers synchronously on the calling goroutine.
func (s *LocalSubscriber) NotifyListeners(mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int, remoteOrigin bool) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()
	for _, l := range listeners {
		l.Notify(mods, changeID, source, sourceMailboxHash, remoteOrigin)
	}
}

func (s *LocalSubscriber) PurgeListeners() {
	s.mu.Lock()
	s.listeners = make(map[string]Listener)
	s.mu.Unlock()
}

func (s *LocalSubscriber) NumListeners(t ListenerType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.listeners {
		if l.Type() == t {
			n++
		}
	}
	return n
}

// LocalPublisher delivers to local listeners only.
type LocalPublisher struct {
	sub *LocalSubscriber
}

func (p *LocalPublisher) Publish(_ context.Context, mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int) {
	p.sub.NotifyListeners(mods, changeID, source, sourceMailboxHash, false)
}

func (p *LocalPublisher) NumListeners(t ListenerType) int {
	return p.sub.NumListeners(t)
}

// PubSub bundles the publisher and subscriber bound to one mailbox.
type PubSub struct {
	mbox mailbox.Mailbox
	pub  Publisher
	sub  Subscriber
}

func (p *PubSub) Mailbox() mailbox.Mailbox { return p.mbox }
func (p *PubSub) Publisher() Publisher     { return p.pub }
func (p *PubSub) Subscriber() Subscriber   { return p.sub }

// Close unhooks the mailbox from the fabric; called on mailbox unload.
func (p *PubSub) Close() {
	p.sub.PurgeListeners()
}

// Backend selects one of the compiled-in pub/sub strategies. There is no
// dynamic selection; configuration maps to this closed set.
type Backend int

const (
	// BackendStandalone delivers to local listeners only.
	BackendStandalone Backend = iota
	// BackendRedis additionally fans out across nodes via shared channels.
	BackendRedis
)

func ParseBackend(s string) (Backend, error) {
	switch s {
	case "standalone":
		return BackendStandalone, nil
	case "redis":
		return BackendRedis, nil
	default:
		return 0, fmt.Errorf("unknown notify backend %q", s)
	}
}

// Factory constructs per-mailbox pub/sub bound to the configured backend.
// The mailbox lifecycle calls Subscribe on load and PubSub.Close on unload.
type Factory struct {
	backend  Backend
	registry *Registry
	codec    mailbox.SnapshotCodec
}

func NewFactory(backend Backend, registry *Registry, codec mailbox.SnapshotCodec) (*Factory, error) {
	if backend == BackendRedis && registry == nil {
		return nil, fmt.Errorf("redis notify backend requires a channel registry")
	}
	if codec == nil {
		codec = mailbox.JSONCodec{}
	}
	return &Factory{backend: backend, registry: registry, codec: codec}, nil
}

// Subscribe binds a loaded mailbox into the fabric.
func (f *Factory) Subscribe(mbox mailbox.Mailbox) *PubSub {
	local := NewLocalSubscriber(mbox)
	switch f.backend {
	case BackendRedis:
		ch := f.registry.ChannelFor(mbox.ID())
		sub := newRedisSubscriber(local, ch, f.codec)
		pub := newRedisPublisher(mbox, sub, ch, f.codec)
		return &PubSub{mbox: mbox, pub: pub, sub: sub}
	default:
		slog.Debug("mailbox subscribed with local-only notifications",
			slog.String("account_id", mbox.AccountID()))
		return &PubSub{mbox: mbox, pub: &LocalPublisher{sub: local}, sub: local}
	}
}
