package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Dominik1799/zm-mailbox/internal/logging"
	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
	"github.com/Dominik1799/zm-mailbox/internal/redisconn"
	"github.com/Dominik1799/zm-mailbox/internal/retry"
)

// RedisTransport implements Transport over the shared Redis client. Publishes
// go through the retrying executor; the subscribe loop re-establishes its
// subscription through the same retry policy and failure classification, so
// a dead subscription backs off and gives up exactly like a failed command.
type RedisTransport struct {
	client *redisconn.Client
	exec   *redisconn.Executor
	policy retry.Policy
}

func NewRedisTransport(client *redisconn.Client, exec *redisconn.Executor, policy retry.Policy) *RedisTransport {
	return &RedisTransport{client: client, exec: exec, policy: policy}
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, payload []byte) (int64, error) {
	var received int64
	err := t.exec.Run(ctx, "notification_publish", func(ctx context.Context, rdb *redis.Client) error {
		n, err := rdb.Publish(ctx, topic, payload).Result()
		if err != nil {
			return err
		}
		received = n
		return nil
	})
	return received, err
}

// Listen subscribes to topic and pumps payloads into handler until ctx ends.
// A dead subscription (client swapped out, connection lost) is rebuilt by
// resubscribing against the current client generation through the retry
// policy; when the subscription cannot be re-established within the policy's
// bounds, or fails with a non-retryable error, the loop stops.
func (t *RedisTransport) Listen(ctx context.Context, topic string, handler func([]byte)) {
	for ctx.Err() == nil {
		pubsub, err := t.subscribe(ctx, topic)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redisconn.ErrInterrupted) {
				slog.Error("abandoning notification subscription",
					slog.String("topic", topic), slog.Any("error", err))
			}
			return
		}
		ch := pubsub.Channel()
	consume:
		for {
			select {
			case <-ctx.Done():
				_ = pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					// Delivery stream closed under us: the shared client
					// was rebuilt or the connection died. Resubscribe on
					// the current generation.
					break consume
				}
				handler([]byte(msg.Payload))
			}
		}
		_ = pubsub.Close()
	}
}

// subscribe establishes a confirmed subscription, retrying per the failure
// taxonomy: CLUSTERDOWN waits for cluster health, other transport failures
// reconnect and back off, interruptions and fatal errors stop. A snapshot
// gone stale mid-attempt (client closed by a concurrent rebuild) retries
// immediately against the new generation.
func (t *RedisTransport) subscribe(ctx context.Context, topic string) (*redis.PubSub, error) {
	var pubsub *redis.PubSub
	var genAtFailure uint64

	attempt := func() error {
		rdb, gen := t.client.Snapshot()
		ps := rdb.Subscribe(ctx, topic)
		_, err := ps.Receive(ctx)
		if err == nil {
			pubsub = ps
			return nil
		}
		_ = ps.Close()
		genAtFailure = gen
		switch redisconn.Classify(err) {
		case redisconn.OutcomeInterrupted:
			return retry.Permanent(fmt.Errorf("%w: %v", redisconn.ErrInterrupted, err))
		case redisconn.OutcomeFatal:
			if errors.Is(err, redis.ErrClosed) && t.client.Generation() > gen {
				return err
			}
			return retry.Permanent(err)
		default:
			return err
		}
	}

	onFailure := func(err error, _ time.Duration) {
		slog.Warn("notification subscribe failed",
			slog.String("topic", topic), slog.Any("error", err))
		_ = t.client.Recover(ctx, genAtFailure, err)
	}

	if err := t.policy.Do(ctx, attempt, onFailure); err != nil {
		return nil, err
	}
	return pubsub, nil
}

// RedisSubscriber is a LocalSubscriber registered into a shared channel;
// remote-origin notifications for its account are replayed into the local
// listener set.
type RedisSubscriber struct {
	*LocalSubscriber
	channel *Channel
	codec   mailbox.SnapshotCodec
}

func newRedisSubscriber(local *LocalSubscriber, ch *Channel, codec mailbox.SnapshotCodec) *RedisSubscriber {
	s := &RedisSubscriber{LocalSubscriber: local, channel: ch, codec: codec}
	ch.AddSubscriber(s)
	return s
}

// PurgeListeners additionally unregisters from the shared channel so the
// channel can deactivate when its last mailbox unloads.
func (s *RedisSubscriber) PurgeListeners() {
	s.LocalSubscriber.PurgeListeners()
	s.channel.RemoveSubscriber(s.Mailbox().AccountID())
}

// replay deserializes a remote notification against the live mailbox and
// delivers it locally with the remote-origin flag set, which suppresses any
// re-publish downstream.
func (s *RedisSubscriber) replay(channel string, msg *Message) {
	mods, err := s.codec.Deserialize(s.Mailbox(), msg.Snapshot)
	if err != nil {
		Metrics.IncDecodeFailure(channel)
		slog.Error("unable to deserialize notifications",
			slog.Int("change_id", msg.ChangeID),
			slog.String("account_id", msg.AccountID),
			slog.Any("error", err))
		return
	}
	s.NotifyListeners(mods, msg.ChangeID, msg.Source, msg.SourceMailboxHash, true)
	Metrics.IncReplayed(channel)
	logging.VInfo("notify", "replayed remote notification",
		slog.Int("change_id", msg.ChangeID),
		slog.String("account_id", msg.AccountID))
}

// RedisPublisher delivers locally first, then fans cross-node-visible
// changes out through the mailbox's shared channel.
type RedisPublisher struct {
	mbox    mailbox.Mailbox
	sub     *RedisSubscriber
	channel *Channel
	codec   mailbox.SnapshotCodec
}

func newRedisPublisher(mbox mailbox.Mailbox, sub *RedisSubscriber, ch *Channel, codec mailbox.SnapshotCodec) *RedisPublisher {
	return &RedisPublisher{mbox: mbox, sub: sub, channel: ch, codec: codec}
}

// Publish notifies local listeners synchronously and unconditionally, then
// publishes remotely when the batch has cross-node-visible changes. Any
// serialization or transport failure is logged and swallowed: the mutation
// has already committed and must not fail because fan-out did.
func (p *RedisPublisher) Publish(ctx context.Context, mods *mailbox.PendingModifications, changeID int, source mailbox.SourceInfo, sourceMailboxHash int) {
	p.sub.NotifyListeners(mods, changeID, source, sourceMailboxHash, false)

	if !mods.HasNotifications() {
		return
	}
	snapshot, err := p.codec.Serialize(mods)
	if err != nil {
		slog.Error("unable to serialize notifications",
			slog.Int("change_id", changeID),
			slog.String("account_id", p.mbox.AccountID()),
			slog.Any("error", err))
		return
	}
	msg := &Message{
		AccountID:         p.mbox.AccountID(),
		ChangeID:          changeID,
		Snapshot:          snapshot,
		Source:            source,
		SourceMailboxHash: sourceMailboxHash,
	}
	received, err := p.channel.Publish(ctx, msg)
	if err != nil {
		Metrics.IncPublishFailure(p.channel.Name())
		slog.Error("unable to publish notifications",
			slog.Int("change_id", changeID),
			slog.String("account_id", p.mbox.AccountID()),
			slog.Any("error", err))
		return
	}
	logging.VInfo("notify", "published notifications",
		slog.Int("change_id", changeID),
		slog.Int64("received_by", received))
}

func (p *RedisPublisher) NumListeners(t ListenerType) int {
	return p.sub.NumListeners(t)
}
