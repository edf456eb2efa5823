package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	v1 "chatnform/contracts/chat/v1"
)

const signalForceDisconnect = "force_disconnect"

// controlMessage is the control-channel wire format. Both the superseded
// and the superseding connection listen on the same (user, group) channel,
// so the target id selects which one must act.
type controlMessage struct {
	Kind   string `json:"kind"`
	Target string `json:"target"`
}

func groupChannel(groupID string) string {
	return fmt.Sprintf("chat.group.%s", groupID)
}

func controlChannel(userID, groupID string) string {
	return fmt.Sprintf("chat.control.%s.%s", userID, groupID)
}

// RedisDispatcher fans out over Redis pub/sub. Gateway processes are
// horizontally scaled, so fan-out must cross process boundaries: every
// gateway holding a subscriber for a group receives the publish.
type RedisDispatcher struct {
	log    *slog.Logger
	client *redis.Client
}

// NewRedisDispatcher constructs a Redis-backed Dispatcher.
func NewRedisDispatcher(log *slog.Logger, client *redis.Client) (*RedisDispatcher, error) {
	if client == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisDispatcher{log: log, client: client}, nil
}

// Broadcast publishes env on the group channel.
func (d *RedisDispatcher) Broadcast(ctx context.Context, groupID string, env v1.MessageEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return d.client.Publish(ctx, groupChannel(groupID), payload).Err()
}

// Signal publishes a force-disconnect order on the (user, group) control
// channel.
func (d *RedisDispatcher) Signal(ctx context.Context, userID, groupID, targetConnID string) error {
	payload, err := json.Marshal(controlMessage{Kind: signalForceDisconnect, Target: targetConnID})
	if err != nil {
		return err
	}
	return d.client.Publish(ctx, controlChannel(userID, groupID), payload).Err()
}

// Subscribe attaches to the group and control channels and decodes
// incoming payloads into tagged events.
func (d *RedisDispatcher) Subscribe(ctx context.Context, userID, groupID, connID string) (Subscription, error) {
	groupCh := groupChannel(groupID)
	controlCh := controlChannel(userID, groupID)

	ps := d.client.Subscribe(ctx, groupCh, controlCh)

	// Force the SUBSCRIBE round trip now so a failed attach surfaces here
	// instead of as a silent dead channel.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, subscriptionQueueSize),
	}

	go func() {
		defer close(sub.events)

		for msg := range ps.Channel() {
			ev, ok := d.decode(msg.Channel, controlCh, []byte(msg.Payload), connID)
			if !ok {
				continue
			}
			select {
			case sub.events <- ev:
			default:
				// Dropping beats blocking every other subscriber behind
				// one slow connection.
				d.log.Warn("dispatch.subscriber.overrun", "conn_id", connID, "group_id", groupID)
			}
		}
	}()

	return sub, nil
}

func (d *RedisDispatcher) decode(channel, controlCh string, payload []byte, connID string) (Event, bool) {
	if channel == controlCh {
		var cm controlMessage
		if err := json.Unmarshal(payload, &cm); err != nil {
			d.log.Warn("dispatch.control.malformed", "conn_id", connID, "err", err)
			return Event{}, false
		}
		if cm.Kind != signalForceDisconnect {
			d.log.Warn("dispatch.control.unknown_kind", "conn_id", connID, "kind", cm.Kind)
			return Event{}, false
		}
		return Event{Kind: EventForceDisconnect, Target: cm.Target}, true
	}

	var env v1.MessageEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		d.log.Warn("dispatch.broadcast.malformed", "conn_id", connID, "err", err)
		return Event{}, false
	}
	return Event{Kind: EventBroadcast, Envelope: env}, true
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event

	closeOnce sync.Once
	closeErr  error
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.ps.Close()
	})
	return s.closeErr
}
