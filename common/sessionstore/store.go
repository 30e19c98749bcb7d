package sessionstore

import (
	"context"
	"time"
)

// Mutator adjusts session fields inside a compare-and-transition, after
// the state check has passed and the state has been advanced
type Mutator func(*Session)

// Store is the session persistence contract. CompareAndTransition is the
// sole write path for state changes; there is no unconditional update.
type Store interface {
	// Create persists a new session record and arms its TTL
	Create(ctx context.Context, sess *Session) error

	// Get returns the current record, or ErrNotFound
	Get(ctx context.Context, id string) (*Session, error)

	// CompareAndTransition atomically moves the session from expected to
	// next (which may equal expected, for progress heartbeats), applying
	// mut to the record. Returns ErrConflict if the stored state differs
	// from expected, without side effects.
	CompareAndTransition(ctx context.Context, id string, expected, next State, mut Mutator) (*Session, error)

	// Enqueue appends the id to the durable queued-session list
	Enqueue(ctx context.Context, id string) error

	// NextQueued pops the oldest queued id, blocking up to wait.
	// Returns "" when the queue stayed empty. Entries are hints only:
	// the caller must still win the queued->processing transition.
	NextQueued(ctx context.Context, wait time.Duration) (string, error)

	// ListExpired returns up to limit ids with expires_at <= now
	ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)

	// ListStuck returns up to limit ids in processing whose last heartbeat
	// is at or before cutoff
	ListStuck(ctx context.Context, cutoff time.Time, limit int64) ([]string, error)

	// Delete removes the record and its index entries; idempotent
	Delete(ctx context.Context, id string) error
}
