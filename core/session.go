package core

import (
	"sync"
	"time"
)

// RemixSession owns the active RemixState for one user flow and tracks
// whether the consuming context is still alive. There is no cancellation
// token for an in-flight run; completion callbacks must check Alive before
// writing state, and a torn-down run's results are discarded. Credits
// already debited are NOT rescinded by teardown, only by an explicit
// failure path.
type RemixSession struct {
	// ID is the unique session identifier
	ID string

	// CreatedAt is when the session was created
	CreatedAt time.Time

	mu    sync.RWMutex
	state RemixState
	phase RunPhase
	alive bool
}

// NewRemixSession creates a live session with an empty state.
func NewRemixSession(id string) *RemixSession {
	return &RemixSession{
		ID:        id,
		CreatedAt: time.Now(),
		phase:     PhaseIdle,
		alive:     true,
	}
}

// Alive reports whether the session's consuming context is still attached.
func (s *RemixSession) Alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alive
}

// Teardown marks the session dead. In-flight completion callbacks observe
// this and discard their results instead of writing state.
func (s *RemixSession) Teardown() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// State returns a copy of the current remix state.
func (s *RemixSession) State() RemixState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Phase returns the current run phase.
func (s *RemixSession) Phase() RunPhase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase transitions the run phase. Returns false without writing if the
// session has been torn down.
func (s *RemixSession) SetPhase(phase RunPhase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return false
	}
	s.phase = phase
	return true
}

// Update applies a mutation to the state under the session lock. Returns
// false without calling fn if the session has been torn down.
func (s *RemixSession) Update(fn func(*RemixState)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return false
	}
	fn(&s.state)
	return true
}
