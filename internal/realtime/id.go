package realtime

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewConnectionID returns a ULID identifying one live socket.
// ULIDs are lexicographically sortable, which keeps registry entries and
// log lines easy to correlate by connection age.
func NewConnectionID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewMessageID returns a UUID for messages the client did not name.
// Clients that retry supply their own id; this is only the server-side
// fallback, so the dedup contract still holds for named messages.
func NewMessageID() string {
	return uuid.NewString()
}
