package realtime

import (
	"context"

	v1 "chatnform/contracts/chat/v1"
)

// Publisher hands accepted envelopes to the broker. The gateway treats a
// publish failure as at-most-once: it is logged and surfaced to the
// client, never retried here. The client resends with the same message
// id and the dedup store absorbs the overlap.
type Publisher interface {
	Publish(ctx context.Context, env v1.MessageEnvelope) error
}

// LoopbackPublisher short-circuits the broker by feeding envelopes
// straight to a dispatcher. Dev/test mode only: it keeps the single-binary
// setup working without a broker deployment.
type LoopbackPublisher struct {
	Dispatcher Dispatcher
}

// Publish forwards the envelope to the dispatcher targeting its group.
func (p LoopbackPublisher) Publish(ctx context.Context, env v1.MessageEnvelope) error {
	return p.Dispatcher.Broadcast(ctx, env.GroupID, env)
}
