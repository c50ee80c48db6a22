package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeinonenight/podcast-insight/internal/domain"
)

// MemoryStore keeps sessions in a mutex-guarded map. It is the default
// store and the one used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// Create allocates a new pending session.
func (s *MemoryStore) Create(_ context.Context, inputURL string, platform domain.Platform, opts domain.JobOptions) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	sess := &domain.Session{
		ID:        uuid.NewString(),
		Status:    domain.StatusPending,
		Progress:  0,
		InputURL:  inputURL,
		Platform:  platform,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return *sess, nil
}

// Get returns a snapshot of one session.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	return *sess, nil
}

// List returns all sessions ordered newest first.
func (s *MemoryStore) List(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Update applies fn under the store lock and bumps UpdatedAt.
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*domain.Session)) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}

	fn(sess)
	sess.UpdatedAt = s.now().UTC()
	return *sess, nil
}

// SetStatus advances status, progress, and step in one write. The
// error field is overwritten on every call. Terminal sessions only
// accept further terminal writes or the rerun edges out of completed.
func (s *MemoryStore) SetStatus(_ context.Context, id string, status domain.SessionStatus, progress int, step, errMsg string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, ErrNotFound
	}
	if sess.Status.IsTerminal() && !status.IsTerminal() && !domain.CanTransition(sess.Status, status) {
		return *sess, ErrInvalidTransition
	}

	sess.Status = status
	sess.Progress = progress
	sess.CurrentStep = step
	sess.Error = errMsg
	sess.UpdatedAt = s.now().UTC()
	return *sess, nil
}

// Delete removes a session. Used by external housekeeping, not by the
// pipeline itself.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}
