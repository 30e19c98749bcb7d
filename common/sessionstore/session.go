// Package sessionstore is the single source of truth for the lifecycle of
// a conversion session. All state changes flow through compare-and-
// transition, which is also the only concurrency-control primitive:
// whichever actor's expected state matches wins, everyone else gets a
// benign conflict.
package sessionstore

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle state of a session. Progression is strictly
// forward; the only sanctioned backward edge is processing -> queued,
// forced by the watchdog as a retry.
type State string

const (
	StateUploaded   State = "uploaded"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
)

// Terminal reports whether no worker will touch the session again
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// Operation is the requested transformation. Options are opaque to the
// lifecycle core and passed through to the conversion collaborator.
type Operation struct {
	Tool    string         `json:"tool"`
	Options map[string]any `json:"options,omitempty"`
}

// Failure is a structured cause, present only in state failed
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Session is the record tracking one upload-through-expiry lifecycle
type Session struct {
	ID          string    `json:"id"`
	State       State     `json:"state"`
	Operation   Operation `json:"operation"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`

	InputRef   string `json:"input_ref"`
	OutputRef  string `json:"output_ref,omitempty"`
	OutputName string `json:"output_name,omitempty"`
	OutputSize int64  `json:"output_size,omitempty"`

	Progress   int      `json:"progress"`
	Error      *Failure `json:"error,omitempty"`
	Downloaded bool     `json:"downloaded,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// ExpiredAt reports whether the session's TTL has elapsed at the given
// instant, regardless of recorded state
func (s *Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// checkInvariants rejects records that violate the per-state field rules.
// Expired sessions keep their refs so a crash mid-reap can still locate
// and delete the blobs; they are invisible to callers anyway.
func (s *Session) checkInvariants() error {
	switch s.State {
	case StateCompleted:
		if s.OutputRef == "" {
			return fmt.Errorf("session %s: completed without output_ref", s.ID)
		}
		if s.Error != nil {
			return fmt.Errorf("session %s: completed with error set", s.ID)
		}
	case StateFailed:
		if s.Error == nil {
			return fmt.Errorf("session %s: failed without error", s.ID)
		}
		if s.OutputRef != "" {
			return fmt.Errorf("session %s: failed with output_ref set", s.ID)
		}
	case StateExpired:
	default:
		if s.OutputRef != "" {
			return fmt.Errorf("session %s: output_ref set in state %s", s.ID, s.State)
		}
		if s.Error != nil {
			return fmt.Errorf("session %s: error set in state %s", s.ID, s.State)
		}
	}
	return nil
}

var (
	// ErrNotFound is returned for unknown ids. Already-reaped sessions are
	// indistinguishable from ones that never existed.
	ErrNotFound = errors.New("session not found")

	// ErrConflict means a compare-and-transition lost its race: the stored
	// state no longer matches the expected one. Callers treat it as a
	// benign no-op, not a failure.
	ErrConflict = errors.New("session state conflict")
)
