package session

import (
	"context"
	"errors"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// ErrNotFound is returned when no session exists for an id. The
// orchestrator aborts a running stage on this error instead of writing
// to a phantom record.
var ErrNotFound = errors.New("session not found")

// ErrInvalidTransition is returned when SetStatus would move a session
// from a terminal status back into a running stage. It keeps a late
// progress write from resurrecting a cancelled or failed session.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store defines persistence operations for job sessions.
type Store interface {
	// Create allocates a new pending session for a submitted URL.
	Create(ctx context.Context, inputURL string, platform domain.Platform, opts domain.JobOptions) (domain.Session, error)

	// Get returns a snapshot of one session.
	Get(ctx context.Context, id string) (domain.Session, error)

	// List returns snapshots of all sessions, newest first.
	List(ctx context.Context) ([]domain.Session, error)

	// Update applies fn to the session under the store's lock and
	// returns the updated snapshot. fn must not retain the pointer.
	Update(ctx context.Context, id string, fn func(*domain.Session)) (domain.Session, error)

	// SetStatus advances the state machine. It always overwrites the
	// error field: empty on non-failure transitions. Writes that would
	// move a terminal session back into a running stage are rejected
	// with ErrInvalidTransition unless the transition table allows the
	// edge (reruns out of completed).
	SetStatus(ctx context.Context, id string, status domain.SessionStatus, progress int, step, errMsg string) (domain.Session, error)
}
