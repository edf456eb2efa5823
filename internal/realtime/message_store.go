package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PersistedMessage is the durable record created once per accepted
// inbound message. It is immutable after the write; note that it carries
// ciphertext, never plaintext, and no origin tag.
type PersistedMessage struct {
	ID          string
	GroupID     string
	SenderID    string
	MessageType string
	Ciphertext  []byte
	FileURL     string
	CreatedAt   time.Time
}

// AppendInput describes one message append.
type AppendInput struct {
	ID          string
	GroupID     string
	SenderID    string
	MessageType string
	Ciphertext  []byte
	FileURL     string
	Now         time.Time
}

// MessageStore persists accepted messages. Failures propagate to the
// client as a processing error; the message is then not published.
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (PersistedMessage, error)
	Close() error
}

// PostgresMessageStore is a MessageStore backed by PostgreSQL.
//
// Ownership model:
// - The store does NOT own the pgx pool; the caller closes it.
// - Close() is therefore a no-op.
type PostgresMessageStore struct {
	pool   *pgxpool.Pool
	schema string
}

// MessageStoreOption configures PostgresMessageStore behavior.
type MessageStoreOption func(*PostgresMessageStore) error

// WithMessageSchema sets the DB schema used by this store
// (default: "chatnform").
func WithMessageSchema(schema string) MessageStoreOption {
	return func(s *PostgresMessageStore) error {
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresMessageStore constructs a Postgres-backed MessageStore.
func NewPostgresMessageStore(pool *pgxpool.Pool, opts ...MessageStoreOption) (*PostgresMessageStore, error) {
	st := &PostgresMessageStore{
		pool:   pool,
		schema: "chatnform",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresMessageStore) Close() error { return nil }

// Append inserts one accepted message.
func (s *PostgresMessageStore) Append(ctx context.Context, in AppendInput) (PersistedMessage, error) {
	if s == nil || s.pool == nil {
		return PersistedMessage{}, errors.New("realtime: nil store")
	}
	if in.ID == "" || in.GroupID == "" || in.SenderID == "" {
		return PersistedMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return PersistedMessage{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "group_messages")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, group_id, sender_id, message_type, ciphertext, file_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.ID, in.GroupID, in.SenderID, in.MessageType, in.Ciphertext, nullIfEmpty(in.FileURL), now,
	)
	if err != nil {
		return PersistedMessage{}, err
	}

	return PersistedMessage{
		ID:          in.ID,
		GroupID:     in.GroupID,
		SenderID:    in.SenderID,
		MessageType: in.MessageType,
		Ciphertext:  in.Ciphertext,
		FileURL:     in.FileURL,
		CreatedAt:   now,
	}, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const memMaxMessagesPerGroup = 10_000

// InMemoryMessageStore is a dev/test fallback when DB is not configured.
type InMemoryMessageStore struct {
	mu     sync.Mutex
	groups map[string][]PersistedMessage
}

// NewInMemoryMessageStore constructs an in-memory MessageStore.
func NewInMemoryMessageStore() *InMemoryMessageStore {
	return &InMemoryMessageStore{
		groups: make(map[string][]PersistedMessage),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryMessageStore) Close() error { return nil }

// Append records one accepted message.
func (s *InMemoryMessageStore) Append(ctx context.Context, in AppendInput) (PersistedMessage, error) {
	if in.ID == "" || in.GroupID == "" || in.SenderID == "" {
		return PersistedMessage{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return PersistedMessage{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	msg := PersistedMessage{
		ID:          in.ID,
		GroupID:     in.GroupID,
		SenderID:    in.SenderID,
		MessageType: in.MessageType,
		Ciphertext:  in.Ciphertext,
		FileURL:     in.FileURL,
		CreatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(s.groups[in.GroupID], msg)
	// Bound memory to avoid unbounded growth in dev.
	if len(msgs) > memMaxMessagesPerGroup {
		msgs = msgs[len(msgs)-memMaxMessagesPerGroup:]
	}
	s.groups[in.GroupID] = msgs

	return msg, nil
}

// Messages returns a snapshot of the group's persisted messages. Test hook.
func (s *InMemoryMessageStore) Messages(groupID string) []PersistedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PersistedMessage(nil), s.groups[groupID]...)
}
