package realtime

import (
	"context"
	"sync"

	v1 "chatnform/contracts/chat/v1"
)

// MemoryDispatcher is an in-process Dispatcher for dev and tests. It keeps
// the same channel naming and delivery semantics as the Redis
// implementation, minus the process boundary.
type MemoryDispatcher struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{} // channel name -> subscribers
}

// NewMemoryDispatcher constructs an in-memory Dispatcher.
func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

// Broadcast delivers env to every subscriber of the group channel.
func (d *MemoryDispatcher) Broadcast(ctx context.Context, groupID string, env v1.MessageEnvelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.deliver(groupChannel(groupID), Event{Kind: EventBroadcast, Envelope: env})
	return nil
}

// Signal delivers a force-disconnect order on the (user, group) control
// channel.
func (d *MemoryDispatcher) Signal(ctx context.Context, userID, groupID, targetConnID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.deliver(controlChannel(userID, groupID), Event{Kind: EventForceDisconnect, Target: targetConnID})
	return nil
}

// Subscribe attaches a connection to its group and control channels.
func (d *MemoryDispatcher) Subscribe(ctx context.Context, userID, groupID, connID string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := &memorySubscription{
		d:        d,
		channels: []string{groupChannel(groupID), controlChannel(userID, groupID)},
		events:   make(chan Event, subscriptionQueueSize),
		closed:   make(chan struct{}),
	}

	d.mu.Lock()
	for _, ch := range sub.channels {
		set := d.subs[ch]
		if set == nil {
			set = make(map[*memorySubscription]struct{})
			d.subs[ch] = set
		}
		set[sub] = struct{}{}
	}
	d.mu.Unlock()

	return sub, nil
}

func (d *MemoryDispatcher) deliver(channel string, ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for sub := range d.subs[channel] {
		select {
		case <-sub.closed:
			continue
		default:
		}

		select {
		case sub.events <- ev:
		default:
			// Drop rather than block the whole channel.
		}
	}
}

func (d *MemoryDispatcher) detach(sub *memorySubscription) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, ch := range sub.channels {
		if set := d.subs[ch]; set != nil {
			delete(set, sub)
			if len(set) == 0 {
				delete(d.subs, ch)
			}
		}
	}
}

type memorySubscription struct {
	d        *MemoryDispatcher
	channels []string
	events   chan Event

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *memorySubscription) Events() <-chan Event { return s.events }

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		// Mark closed before detaching so in-flight deliveries holding a
		// reference skip this subscriber instead of racing the close.
		close(s.closed)
		s.d.detach(s)
		close(s.events)
	})
	return nil
}
