package sessionstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process session store for development and tests,
// mirroring the Redis store's semantics without a server. Not suitable
// for multi-process deployment.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	queue    chan string
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		queue:    make(chan string, 4096),
	}
}

// Create persists a new session record
func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	if err := sess.checkInvariants(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.ID]; exists {
		return fmt.Errorf("session %s already exists", sess.ID)
	}

	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

// Get returns a copy of the current record, or ErrNotFound
func (s *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	cp := *sess
	return &cp, nil
}

// CompareAndTransition atomically advances the session under the lock
func (s *MemoryStore) CompareAndTransition(ctx context.Context, id string, expected, next State, mut Mutator) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	if sess.State != expected {
		return nil, ErrConflict
	}

	// Mutate a copy so a failed invariant check has no side effects
	cp := *sess
	cp.State = next
	cp.UpdatedAt = time.Now().UTC()
	if mut != nil {
		mut(&cp)
	}

	if err := cp.checkInvariants(); err != nil {
		return nil, err
	}

	s.sessions[id] = &cp
	out := cp
	return &out, nil
}

// Enqueue appends the id to the queued channel
func (s *MemoryStore) Enqueue(ctx context.Context, id string) error {
	select {
	case s.queue <- id:
		return nil
	default:
		return fmt.Errorf("queue full, dropping session %s", id)
	}
}

// NextQueued pops the oldest queued id, blocking up to wait
func (s *MemoryStore) NextQueued(ctx context.Context, wait time.Duration) (string, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case id := <-s.queue:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ListExpired returns ids whose expires_at has passed, oldest first
func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*Session
	for _, sess := range s.sessions {
		if sess.ExpiredAt(now) {
			expired = append(expired, sess)
		}
	}

	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})

	ids := make([]string, 0, len(expired))
	for _, sess := range expired {
		if int64(len(ids)) >= limit {
			break
		}
		ids = append(ids, sess.ID)
	}
	return ids, nil
}

// ListStuck returns processing ids whose heartbeat is at or before cutoff
func (s *MemoryStore) ListStuck(ctx context.Context, cutoff time.Time, limit int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, sess := range s.sessions {
		if int64(len(ids)) >= limit {
			break
		}
		if sess.State == StateProcessing && !sess.UpdatedAt.After(cutoff) {
			ids = append(ids, sess.ID)
		}
	}
	return ids, nil
}

// Delete removes the record; idempotent
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}
