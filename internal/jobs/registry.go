package jobs

import (
	"errors"
	"sync"
)

// ErrJobActive is returned when a second run is requested for a
// session that already has one in flight.
var ErrJobActive = errors.New("job already active for session")

// ErrCancelled is returned by stage adapters that detect a requested
// cancellation at a checkpoint. It marks the job cancelled, not failed.
var ErrCancelled = errors.New("cancelled")

type entry struct {
	wanted bool
	abort  func()
}

// Registry tracks in-flight jobs for cooperative cancellation and
// doubles as the at-most-one-run-per-session guard. It is constructed
// and injected, never shared as a package singleton, so separate
// orchestrators (and tests) carry no hidden state.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register claims the session for a new run. It fails when a run is
// already in flight for the id.
func (r *Registry) Register(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return ErrJobActive
	}
	r.entries[id] = &entry{wanted: true}
	return nil
}

// Cancel flips the wanted flag and fires the registered abort hook,
// if any. It reports whether an active entry existed. Cancelling an
// already-cancelled or missing job is a no-op returning false.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || !e.wanted {
		r.mu.Unlock()
		return false
	}
	e.wanted = false
	abort := e.abort
	r.mu.Unlock()

	if abort != nil {
		abort()
	}
	return true
}

// IsWanted reports whether the job should keep running. A missing
// entry means "nothing to cancel": adapters proceed normally.
func (r *Registry) IsWanted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return true
	}
	return e.wanted
}

// SetAborter installs a best-effort abort hook for the stage adapter
// currently running the job. A nil hook clears it.
func (r *Registry) SetAborter(id string, abort func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[id]; ok {
		e.abort = abort
	}
}

// Clear removes the entry. Called by the orchestrator on every
// terminal outcome, regardless of success or failure.
func (r *Registry) Clear(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// Active reports whether a run is currently registered for the id.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[id]
	return ok
}
