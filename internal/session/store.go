package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elisa-dev/elisa/internal/archive"
	"github.com/elisa-dev/elisa/internal/common/config"
	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/nugget"
	"github.com/elisa-dev/elisa/internal/orchestrator"
	"github.com/elisa-dev/elisa/internal/workspace"
)

var (
	// ErrNotFound means the session id is unknown (or already cleaned up).
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyStarted means a concurrent starter won the race.
	ErrAlreadyStarted = errors.New("session already started")
)

// SpecError carries the structured validation failures from start.
type SpecError struct {
	Errors nugget.ValidationErrors
}

func (e *SpecError) Error() string { return e.Errors.Error() }

// StartRequest is the transport-level start payload.
type StartRequest struct {
	Spec          *nugget.Spec    `json:"spec"`
	WorkspacePath string          `json:"workspace_path,omitempty"`
	WorkspaceJSON json.RawMessage `json:"workspace_json,omitempty"`
}

// Store manages all live sessions.
type Store struct {
	cfg    *config.Config
	deps   orchestrator.Deps
	gates  *gate.Store
	arch   *archive.Store
	logger *logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a session store. The archive store may be nil.
func NewStore(cfg *config.Config, deps orchestrator.Deps, gates *gate.Store, arch *archive.Store, log *logger.Logger) *Store {
	return &Store{
		cfg:      cfg,
		deps:     deps,
		gates:    gates,
		arch:     arch,
		logger:   log.WithFields(zap.String("component", "session-store")),
		sessions: make(map[string]*Session),
	}
}

// Create registers a fresh idle session.
func (s *Store) Create() *Session {
	sess := newSession(uuid.New().String())
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Info("session created", zap.String("session_id", sess.ID))
	return sess
}

// Get returns a live session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Start validates the spec and launches the orchestrator. Exactly one of
// two concurrent callers succeeds; the loser gets ErrAlreadyStarted. On
// validation failure the session returns to idle.
func (s *Store) Start(id string, req *StartRequest) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	if !sess.claimStart() {
		return ErrAlreadyStarted
	}

	spec, verrs := nugget.Validate(req.Spec)
	if len(verrs) > 0 {
		sess.resetIdle()
		return &SpecError{Errors: verrs}
	}

	dir, userWorkspace, err := s.prepareWorkspace(sess.ID, spec, req)
	if err != nil {
		sess.resetIdle()
		return err
	}

	orch := orchestrator.New(sess.ID, spec, dir, s.cfg.Orchestrator, s.deps)
	sess.mu.Lock()
	sess.orch = orch
	sess.workspaceDir = dir
	sess.userWorkspace = userWorkspace
	sess.mu.Unlock()

	go s.run(sess, orch, spec)
	return nil
}

func (s *Store) prepareWorkspace(sessionID string, spec *nugget.Spec, req *StartRequest) (string, bool, error) {
	if req.WorkspacePath != "" {
		dir, err := workspace.ValidatePath(req.WorkspacePath, s.cfg.Workspace.Root)
		if err != nil {
			return "", false, err
		}
		if err := workspace.WriteArtifacts(dir, spec); err != nil {
			return "", false, err
		}
		return dir, true, nil
	}
	dir, err := workspace.CreateTemp(sessionID)
	if err != nil {
		return "", false, err
	}
	return dir, false, nil
}

func (s *Store) run(sess *Session, orch *orchestrator.Orchestrator, spec *nugget.Spec) {
	defer close(sess.done)
	log := s.logger.WithSessionID(sess.ID)
	if err := orch.Run(context.Background()); err != nil {
		log.Warn("session run ended with error", zap.Error(err))
	}
	s.archiveSession(sess, orch, spec)
	s.scheduleCleanup(sess)
}

func (s *Store) archiveSession(sess *Session, orch *orchestrator.Orchestrator, spec *nugget.Spec) {
	if s.arch == nil {
		return
	}
	snap := orch.Budget()
	summary := orch.HealthSummary()
	rec := &archive.Record{
		SessionID:      sess.ID,
		Phase:          string(orch.Phase()),
		Goal:           spec.GoalOrDefault(),
		TasksCompleted: summary.Breakdown["tasks_completed"],
		TasksFailed:    summary.Breakdown["tasks_failed"],
		TokensUsed:     snap.ActualInput + snap.ActualOutput,
		CostUSD:        snap.CostUSD,
		HealthScore:    summary.HealthScore,
		HealthGrade:    summary.Grade,
		CompletedAt:    time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.arch.Save(ctx, rec); err != nil {
		s.logger.WithSessionID(sess.ID).Warn("failed to archive session", zap.Error(err))
	}
}

// scheduleCleanup removes the session from the store after the grace period
// so exports can still happen right after completion.
func (s *Store) scheduleCleanup(sess *Session) {
	grace := s.cfg.Orchestrator.CleanupGraceDuration()
	sess.mu.Lock()
	if sess.cleanupTimer == nil {
		sess.cleanupTimer = time.AfterFunc(grace, func() { s.cleanup(sess) })
	}
	sess.mu.Unlock()
}

// cleanup drops the session and removes the workspace only when the
// orchestrator created it. Safe to call repeatedly.
func (s *Store) cleanup(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	dir, userWorkspace := sess.WorkspaceDir()
	if dir == "" || userWorkspace {
		return
	}
	if err := workspace.Remove(dir); err != nil {
		s.logger.WithSessionID(sess.ID).Warn("failed to remove workspace", zap.Error(err))
	}
}

// Stop cancels a running session. Idempotent; a never-started session just
// moves to done.
func (s *Store) Stop(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	orch := sess.orch
	sess.mu.Unlock()
	if orch != nil {
		orch.Cancel("Build stopped by user")
		return nil
	}
	sess.phase.Store(orchestrator.PhaseDone)
	s.scheduleCleanup(sess)
	return nil
}

// RespondToGate forwards a human gate response.
func (s *Store) RespondToGate(id string, approved bool, feedback string) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.gates.RespondToGate(id, approved, feedback)
}

// RespondToQuestion forwards answers for a pending mid-task question.
func (s *Store) RespondToQuestion(id, taskID string, answers []byte) error {
	if _, err := s.Get(id); err != nil {
		return err
	}
	return s.gates.RespondToQuestion(id, taskID, answers)
}

// Archive exposes the archive store for post-cleanup lookups.
func (s *Store) Archive() *archive.Store { return s.arch }

// Shutdown cancels every running session and waits for their runs to finish
// so archives flush before the process exits.
func (s *Store) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, sess := range live {
		sess.mu.Lock()
		orch := sess.orch
		sess.mu.Unlock()
		if orch == nil {
			continue
		}
		orch.Cancel("Server shutting down")
		g.Go(func() error {
			select {
			case <-sess.Done():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}
	return g.Wait()
}
