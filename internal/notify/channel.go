package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ChannelName returns the deterministic topic name for a mailbox. The shard
// key is a pure function of the mailbox id and the configured channel count;
// changing the channel count requires a process restart.
func ChannelName(mailboxID, numChannels int) string {
	return fmt.Sprintf("NOTIFICATION-CHANNEL-%d", mailboxID%numChannels)
}

// Channel is one physical pub/sub topic shared by every mailbox hashing to
// its shard key. It demultiplexes inbound messages to the right subscriber
// and keeps its transport listener registered only while it has subscribers.
type Channel struct {
	name       string
	transport  Transport
	dispatcher *Dispatcher

	mu          sync.Mutex
	subscribers map[string]*RedisSubscriber
	active      bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func newChannel(name string, transport Transport, dispatcher *Dispatcher) *Channel {
	return &Channel{
		name:        name,
		transport:   transport,
		dispatcher:  dispatcher,
		subscribers: make(map[string]*RedisSubscriber),
	}
}

func (c *Channel) Name() string { return c.name }

// AddSubscriber activates the listener if needed and registers the
// subscriber under its account id, replacing any stale prior entry.
func (c *Channel) AddSubscriber(s *RedisSubscriber) {
	acctID := s.Mailbox().AccountID()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beginListeningLocked()
	c.subscribers[acctID] = s
	slog.Info("added account to notification channel",
		slog.String("account_id", acctID), slog.String("channel", c.name))
}

// RemoveSubscriber drops the account's entry. The last subscriber out
// unregisters the transport listener so an idle shard holds no resources;
// the call returns only after the listener goroutine has stopped, so an
// add/remove/add cycle can never stack two registrations.
func (c *Channel) RemoveSubscriber(accountID string) {
	c.mu.Lock()
	delete(c.subscribers, accountID)
	var done chan struct{}
	if len(c.subscribers) == 0 && c.active {
		slog.Info("no subscribers left on channel, removing listener",
			slog.String("channel", c.name))
		c.cancel()
		done = c.done
		c.active = false
	}
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Channel) beginListeningLocked() {
	if c.active {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		c.transport.Listen(ctx, c.name, c.onMessage)
	}()
	c.active = true
	slog.Info("listening on notification channel", slog.String("channel", c.name))
}

// Publish forwards the message to the transport topic and returns the
// remote receiver count. Retry and reconnect live in the transport layer.
func (c *Channel) Publish(ctx context.Context, msg *Message) (int64, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("encoding notification: %w", err)
	}
	n, err := c.transport.Publish(ctx, c.name, payload)
	if err != nil {
		return 0, err
	}
	Metrics.IncPublished(c.name)
	return n, nil
}

// onMessage runs on the transport's delivery goroutine: decode, resolve the
// subscriber, hand off to the bounded dispatcher. A subscriber miss is not
// an error; the mailbox may have unloaded between publish and delivery.
func (c *Channel) onMessage(payload []byte) {
	Metrics.IncInbound(c.name)
	var msg Message
	if err := msg.UnmarshalBinary(payload); err != nil {
		Metrics.IncDecodeFailure(c.name)
		slog.Warn("dropping undecodable notification",
			slog.String("channel", c.name), slog.Any("error", err))
		return
	}
	c.mu.Lock()
	sub := c.subscribers[msg.AccountID]
	c.mu.Unlock()
	if sub == nil {
		Metrics.IncSubscriberMiss(c.name)
		slog.Warn("received notification for unassociated account",
			slog.String("channel", c.name), slog.String("account_id", msg.AccountID))
		return
	}
	c.dispatcher.Enqueue(c.name, sub, &msg)
}

// shutdown stops the listener goroutine if one is active and waits for it.
// Registered subscribers stay in place; a later AddSubscriber reactivates.
func (c *Channel) shutdown() {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.cancel()
	done := c.done
	c.active = false
	c.mu.Unlock()
	<-done
}

// numSubscribers is a test hook.
func (c *Channel) numSubscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

func (c *Channel) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("[Channel %s (%d mailboxes)]", c.name, len(c.subscribers))
}

// Registry maps shard keys to their shared Channel, creating lazily. One
// instance exists per process, constructed by the server wiring and passed
// by reference to everything that needs it.
type Registry struct {
	transport   Transport
	dispatcher  *Dispatcher
	numChannels int

	mu       sync.Mutex
	channels map[string]*Channel
}

func NewRegistry(transport Transport, dispatcher *Dispatcher, numChannels int) *Registry {
	if numChannels <= 0 {
		numChannels = 1
	}
	return &Registry{
		transport:   transport,
		dispatcher:  dispatcher,
		numChannels: numChannels,
		channels:    make(map[string]*Channel),
	}
}

// ChannelFor resolves the shared channel for a mailbox id. Construction does
// not start listening; that happens on first subscriber registration.
func (r *Registry) ChannelFor(mailboxID int) *Channel {
	name := ChannelName(mailboxID, r.numChannels)
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[name]
	if ch == nil {
		ch = newChannel(name, r.transport, r.dispatcher)
		r.channels[name] = ch
	}
	return ch
}

// Stop deactivates every active channel listener and returns once their
// goroutines have exited. Called during server shutdown before the shared
// transport client closes, so no listener is left trying to resubscribe
// against a closed client.
func (r *Registry) Stop() {
	r.mu.Lock()
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()
	for _, ch := range channels {
		ch.shutdown()
	}
}
