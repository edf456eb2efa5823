package realtime

import (
	"sync"
)

// client represents one connected websocket session.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from
//   concurrent event deliveries.
// - done signals the connection goroutines to stop.
// - close is idempotent.
type client struct {
	ConnID  string
	UserID  string
	Name    string
	GroupID string

	Send chan []byte // marshaled outbound frames

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(connID string, id Identity, groupID string, sendQueueSize int) *client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &client{
		ConnID:  connID,
		UserID:  id.UserID,
		Name:    id.Name,
		GroupID: groupID,
		Send:    make(chan []byte, sendQueueSize),
		done:    make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// Close signals the connection goroutines to stop (idempotent).
// It does NOT close Send to keep event delivery safe under concurrency.
func (c *client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
