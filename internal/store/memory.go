package store

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry is an in-memory Registry for dev and tests. Entries
// expire lazily on read, mirroring the Redis TTL semantics closely enough
// for crash-recovery tests.
type MemoryRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryRegistry constructs an in-memory Registry.
func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = DefaultRegistryTTL
	}
	return &MemoryRegistry{
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		entries: make(map[string]memoryEntry),
	}
}

// WithClock overrides the time source. Test hook.
func (m *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	m.now = now
	return m
}

// SetActive records connID and returns the superseded connection id.
func (m *MemoryRegistry) SetActive(ctx context.Context, userID, groupID, connID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := activeConnKey(userID, groupID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	prev := ""
	if e, ok := m.entries[key]; ok && e.expiresAt.After(now) {
		prev = e.value
	}
	m.entries[key] = memoryEntry{value: connID, expiresAt: now.Add(m.ttl)}
	return prev, nil
}

// GetActive returns the current authoritative connection id.
func (m *MemoryRegistry) GetActive(ctx context.Context, userID, groupID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := activeConnKey(userID, groupID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.expiresAt.After(now) {
		delete(m.entries, key)
		return "", nil
	}
	return e.value, nil
}

// ClearIfMatches removes the record when connID is still authoritative.
func (m *MemoryRegistry) ClearIfMatches(ctx context.Context, userID, groupID, connID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := activeConnKey(userID, groupID)
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.expiresAt.After(now) {
		delete(m.entries, key)
		return false, nil
	}
	if e.value != connID {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// MemoryDedupStore is an in-memory DedupStore for dev and tests.
type MemoryDedupStore struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryDedupStore constructs an in-memory DedupStore.
func NewMemoryDedupStore(ttl time.Duration) *MemoryDedupStore {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &MemoryDedupStore{
		ttl:  ttl,
		now:  func() time.Time { return time.Now().UTC() },
		seen: make(map[string]time.Time),
	}
}

// WithClock overrides the time source. Test hook.
func (d *MemoryDedupStore) WithClock(now func() time.Time) *MemoryDedupStore {
	d.now = now
	return d
}

// MarkIfAbsent records messageID, reporting whether this caller was first
// within the TTL window.
func (d *MemoryDedupStore) MarkIfAbsent(ctx context.Context, messageID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[messageID]; ok && exp.After(now) {
		return false, nil
	}
	d.seen[messageID] = now.Add(d.ttl)

	// Opportunistic sweep keeps the map bounded without a background
	// goroutine.
	if len(d.seen) > 4096 {
		for id, exp := range d.seen {
			if !exp.After(now) {
				delete(d.seen, id)
			}
		}
	}
	return true, nil
}
