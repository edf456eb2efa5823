// Package store holds the shared coordination state of the delivery
// pipeline: which connection is authoritative for a (user, group) pair,
// and which message ids have already been accepted.
//
// Both stores are shared across every gateway process, so each operation
// must be atomic at single-key granularity. Backing implementations are
// swappable: Redis in production, in-memory for dev and tests.
package store

import (
	"context"
	"time"
)

// Default TTLs. Registry records outlive any reasonable session gap so a
// crashed gateway's record expires instead of leaking forever. The dedup
// window only needs to cover client retry behavior.
const (
	DefaultRegistryTTL = 6 * time.Hour
	DefaultDedupTTL    = 60 * time.Second
)

// Registry records the single authoritative connection id per
// (user, group) pair.
type Registry interface {
	// SetActive atomically records connID as the authoritative connection
	// and returns the previous connection id, or "" when none was active.
	// The record TTL is refreshed on every write.
	SetActive(ctx context.Context, userID, groupID, connID string) (prev string, err error)

	// GetActive returns the current authoritative connection id, or ""
	// when no record exists (or it expired).
	GetActive(ctx context.Context, userID, groupID string) (string, error)

	// ClearIfMatches removes the record only when it still names connID.
	// The conditional guard keeps a stale disconnect from evicting the
	// record of a newer connection that has already superseded it.
	ClearIfMatches(ctx context.Context, userID, groupID, connID string) (bool, error)
}

// DedupStore absorbs client retries by remembering accepted message ids
// for a short window.
type DedupStore interface {
	// MarkIfAbsent records messageID and reports whether this caller was
	// first. The check and the write are a single atomic operation so two
	// near-simultaneous receives of the same id cannot both win.
	MarkIfAbsent(ctx context.Context, messageID string) (first bool, err error)
}
