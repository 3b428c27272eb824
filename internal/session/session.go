// Package session owns session lifecycle: creation, the start race, stop,
// and post-run cleanup. Each session holds at most one orchestrator.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/elisa-dev/elisa/internal/orchestrator"
)

// Session is one build session. The phase field covers the pre-orchestrator
// window; once a run starts the orchestrator owns the phase.
type Session struct {
	ID        string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`

	// phase holds an orchestrator.Phase; compare-and-swapped on start so
	// exactly one concurrent starter wins.
	phase atomic.Value

	// done is closed when the run goroutine finishes; never closed for a
	// session that was never started.
	done chan struct{}

	mu            sync.Mutex
	orch          *orchestrator.Orchestrator
	workspaceDir  string
	userWorkspace bool // workspace was supplied by the caller, never removed
	cleanupTimer  *time.Timer
}

func newSession(id string) *Session {
	s := &Session{ID: id, CreatedAt: time.Now().UTC(), done: make(chan struct{})}
	s.phase.Store(orchestrator.PhaseIdle)
	return s
}

// Done is closed once the session's run has fully finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Phase returns the live phase: the orchestrator's once running, the local
// field before that.
func (s *Session) Phase() orchestrator.Phase {
	s.mu.Lock()
	orch := s.orch
	s.mu.Unlock()
	if orch != nil {
		return orch.Phase()
	}
	return s.phase.Load().(orchestrator.Phase)
}

// Orchestrator returns the session's orchestrator, nil before start.
func (s *Session) Orchestrator() *orchestrator.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orch
}

// WorkspaceDir returns the workspace path, empty before start.
func (s *Session) WorkspaceDir() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspaceDir, s.userWorkspace
}

// claimStart atomically moves idle to planning. Exactly one caller wins.
func (s *Session) claimStart() bool {
	return s.phase.CompareAndSwap(orchestrator.PhaseIdle, orchestrator.PhasePlanning)
}

// resetIdle returns the session to idle after a failed start so a corrected
// retry can proceed.
func (s *Session) resetIdle() {
	s.phase.Store(orchestrator.PhaseIdle)
}
