package orchestrator

import (
	"context"
	"sync"

	"github.com/charter-works/charterd/pkg/models"
)

// sessionState serializes operations on one session and carries the
// in-memory cache of collected-but-uncommitted deliverables. States live
// for the process lifetime; a restart drops pending deliverables, which is
// why checkpoints only ever contain committed ones.
type sessionState struct {
	mu      sync.Mutex
	pending map[int]models.Deliverable

	// cancelMu guards cancel separately so AbortSession can interrupt a
	// run that is holding mu.
	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// interrupt cancels the in-flight run, if any.
func (s *sessionState) interrupt() {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *sessionState) setCancel(cancel context.CancelFunc) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.cancel = cancel
}

// stateRegistry hands out the per-session state, creating it on first use.
type stateRegistry struct {
	mu     sync.Mutex
	states map[string]*sessionState
}

func newStateRegistry() *stateRegistry {
	return &stateRegistry{states: make(map[string]*sessionState)}
}

func (r *stateRegistry) get(sessionID string) *sessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[sessionID]
	if !ok {
		state = &sessionState{pending: make(map[int]models.Deliverable)}
		r.states[sessionID] = state
	}
	return state
}
