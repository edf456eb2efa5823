package realtime

import (
	"context"

	v1 "chatnform/contracts/chat/v1"
)

// EventKind tags the events a subscription can deliver.
type EventKind uint8

const (
	// EventBroadcast carries a message envelope for the group channel.
	EventBroadcast EventKind = iota + 1
	// EventForceDisconnect orders the connection named by Target to close
	// because a newer connection superseded it.
	EventForceDisconnect
)

// Event is one dispatcher-delivered occurrence. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Event struct {
	Kind     EventKind
	Envelope v1.MessageEnvelope // EventBroadcast
	Target   string             // EventForceDisconnect: connection id to close
}

// Subscription is one connection's merged view of its group channel and
// its per-(user, group) control channel.
type Subscription interface {
	// Events delivers broadcast and control events in arrival order.
	// The channel is closed after Close (or a fatal transport error).
	Events() <-chan Event

	// Close tears the subscription down. Idempotent.
	Close() error
}

// Dispatcher fans events out to every subscribed connection, across all
// gateway processes. Production runs on a process-external pub/sub
// primitive; the in-memory implementation exists for dev and tests.
type Dispatcher interface {
	// Broadcast delivers env to every connection subscribed to groupID.
	Broadcast(ctx context.Context, groupID string, env v1.MessageEnvelope) error

	// Signal orders the connection identified by targetConnID on the
	// (user, group) control channel to disconnect.
	Signal(ctx context.Context, userID, groupID, targetConnID string) error

	// Subscribe attaches a connection to its group channel and its
	// control channel.
	Subscribe(ctx context.Context, userID, groupID, connID string) (Subscription, error)
}
