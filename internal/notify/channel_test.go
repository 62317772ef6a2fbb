package notify

import (
	"context"
	"testing"
	"time"

	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
)

func TestChannelName(t *testing.T) {
	if got := ChannelName(10, 4); got != "NOTIFICATION-CHANNEL-2" {
		t.Fatalf("ChannelName(10, 4) = %q", got)
	}
	if got := ChannelName(6, 4); got != "NOTIFICATION-CHANNEL-2" {
		t.Fatalf("ChannelName(6, 4) = %q", got)
	}
	if got := ChannelName(7, 4); got != "NOTIFICATION-CHANNEL-3" {
		t.Fatalf("ChannelName(7, 4) = %q", got)
	}
}

func newTestFabric(t *testing.T, transport Transport) (*Registry, *Factory, *Dispatcher) {
	t.Helper()
	d := NewDispatcher(2, 64)
	t.Cleanup(d.Stop)
	r := NewRegistry(transport, d, 4)
	f, err := NewFactory(BackendRedis, r, nil)
	if err != nil {
		t.Fatalf("building factory: %v", err)
	}
	return r, f, d
}

func TestRegistrySharesChannelAcrossMailboxes(t *testing.T) {
	r, _, _ := newTestFabric(t, NewMemoryTransport())
	a := r.ChannelFor(2)
	b := r.ChannelFor(6)
	if a != b {
		t.Fatalf("mailboxes 2 and 6 must share channel 2, got %v and %v", a, b)
	}
	if a.Name() != "NOTIFICATION-CHANNEL-2" {
		t.Fatalf("unexpected channel name %q", a.Name())
	}
	if c := r.ChannelFor(3); c == a {
		t.Fatalf("mailbox 3 must not share channel 2")
	}
}

func TestInboundRoutesToOwningSubscriberOnly(t *testing.T) {
	mem := NewMemoryTransport()
	_, f, _ := newTestFabric(t, mem)

	psA := f.Subscribe(testMailbox{2, "acct-A"})
	psB := f.Subscribe(testMailbox{6, "acct-B"})
	la := &recListener{typ: ListenerSOAP}
	lb := &recListener{typ: ListenerSOAP}
	psA.Subscriber().AddListener(la)
	psB.Subscriber().AddListener(lb)

	waitUntil(t, time.Second, func() bool { return mem.NumListeners("NOTIFICATION-CHANNEL-2") == 1 })

	snapshot, err := mailbox.JSONCodec{}.Serialize(someMods())
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	msg := Message{AccountID: "acct-A", ChangeID: 42, Snapshot: snapshot}
	payload, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := mem.Publish(context.Background(), "NOTIFICATION-CHANNEL-2", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	waitUntil(t, time.Second, func() bool { return la.count() == 1 })
	ev := la.last()
	if !ev.remoteOrigin {
		t.Fatalf("replayed notification must carry the remote-origin flag")
	}
	if ev.changeID != 42 {
		t.Fatalf("expected changeID 42, got %d", ev.changeID)
	}
	if lb.count() != 0 {
		t.Fatalf("acct-B's subscriber must not see acct-A's notification")
	}
}

func TestInboundMissForUnknownAccount(t *testing.T) {
	mem := NewMemoryTransport()
	_, f, _ := newTestFabric(t, mem)

	psA := f.Subscribe(testMailbox{2, "acct-A"})
	la := &recListener{typ: ListenerSOAP}
	psA.Subscriber().AddListener(la)
	waitUntil(t, time.Second, func() bool { return mem.NumListeners("NOTIFICATION-CHANNEL-2") == 1 })

	// A message for an account with no subscriber on this channel is logged
	// and dropped; other subscribers keep working.
	snapshot, _ := mailbox.JSONCodec{}.Serialize(someMods())
	stray := Message{AccountID: "acct-gone", ChangeID: 7, Snapshot: snapshot}
	payload, _ := stray.MarshalBinary()
	mem.Publish(context.Background(), "NOTIFICATION-CHANNEL-2", payload)

	mine := Message{AccountID: "acct-A", ChangeID: 8, Snapshot: snapshot}
	payload, _ = mine.MarshalBinary()
	mem.Publish(context.Background(), "NOTIFICATION-CHANNEL-2", payload)

	waitUntil(t, time.Second, func() bool { return la.count() == 1 })
	if ev := la.last(); ev.changeID != 8 {
		t.Fatalf("expected only changeID 8 to be replayed, got %d", ev.changeID)
	}
}

func TestUndecodableInboundIsDropped(t *testing.T) {
	mem := NewMemoryTransport()
	_, f, _ := newTestFabric(t, mem)

	psA := f.Subscribe(testMailbox{2, "acct-A"})
	la := &recListener{typ: ListenerSOAP}
	psA.Subscriber().AddListener(la)
	waitUntil(t, time.Second, func() bool { return mem.NumListeners("NOTIFICATION-CHANNEL-2") == 1 })

	mem.Publish(context.Background(), "NOTIFICATION-CHANNEL-2", []byte("{not json"))

	snapshot, _ := mailbox.JSONCodec{}.Serialize(someMods())
	mine := Message{AccountID: "acct-A", ChangeID: 9, Snapshot: snapshot}
	payload, _ := mine.MarshalBinary()
	mem.Publish(context.Background(), "NOTIFICATION-CHANNEL-2", payload)

	waitUntil(t, time.Second, func() bool { return la.count() == 1 })
	if ev := la.last(); ev.changeID != 9 {
		t.Fatalf("expected only the valid message to be replayed, got changeID %d", ev.changeID)
	}
}

func TestListenerLifecycleAcrossAddRemoveAdd(t *testing.T) {
	mem := NewMemoryTransport()
	r, f, _ := newTestFabric(t, mem)
	name := "NOTIFICATION-CHANNEL-2"

	psA := f.Subscribe(testMailbox{2, "acct-A"})
	psB := f.Subscribe(testMailbox{6, "acct-B"})
	waitUntil(t, time.Second, func() bool { return mem.NumListeners(name) == 1 })

	// One mailbox unloading keeps the shared listener alive.
	psA.Close()
	if got := mem.NumListeners(name); got != 1 {
		t.Fatalf("channel must stay active while subscribers remain, got %d listeners", got)
	}

	// The last one out deactivates it; RemoveSubscriber waits for teardown.
	psB.Close()
	if got := mem.NumListeners(name); got != 0 {
		t.Fatalf("empty channel must unregister its listener, got %d", got)
	}
	if got := r.ChannelFor(2).numSubscribers(); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}

	// Re-subscribing reactivates exactly one listener.
	ps := f.Subscribe(testMailbox{2, "acct-A"})
	waitUntil(t, time.Second, func() bool { return mem.NumListeners(name) == 1 })
	if got := mem.NumListeners(name); got != 1 {
		t.Fatalf("expected exactly one listener after re-activation, got %d", got)
	}
	ps.Close()
}

func TestRegistryStopDeactivatesAllListeners(t *testing.T) {
	mem := NewMemoryTransport()
	r, f, _ := newTestFabric(t, mem)

	f.Subscribe(testMailbox{2, "acct-A"})
	f.Subscribe(testMailbox{3, "acct-B"})
	waitUntil(t, time.Second, func() bool {
		return mem.NumListeners("NOTIFICATION-CHANNEL-2") == 1 &&
			mem.NumListeners("NOTIFICATION-CHANNEL-3") == 1
	})

	// Stop returns only after every listener goroutine has exited.
	r.Stop()
	if got := mem.NumListeners("NOTIFICATION-CHANNEL-2"); got != 0 {
		t.Fatalf("expected no listeners after stop, got %d on channel 2", got)
	}
	if got := mem.NumListeners("NOTIFICATION-CHANNEL-3"); got != 0 {
		t.Fatalf("expected no listeners after stop, got %d on channel 3", got)
	}

	// Subscribers stay registered; a new subscription reactivates the shard.
	if got := r.ChannelFor(2).numSubscribers(); got != 1 {
		t.Fatalf("stop must not drop subscribers, got %d", got)
	}
	f.Subscribe(testMailbox{6, "acct-C"})
	waitUntil(t, time.Second, func() bool {
		return mem.NumListeners("NOTIFICATION-CHANNEL-2") == 1
	})
}

func TestResubscribeOverwritesStaleEntry(t *testing.T) {
	mem := NewMemoryTransport()
	r, f, _ := newTestFabric(t, mem)

	f.Subscribe(testMailbox{2, "acct-A"})
	f.Subscribe(testMailbox{2, "acct-A"})
	if got := r.ChannelFor(2).numSubscribers(); got != 1 {
		t.Fatalf("re-subscription must be idempotent, got %d entries", got)
	}
}
