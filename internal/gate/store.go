package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Common errors
var (
	ErrGatePending     = errors.New("a human gate is already pending for this session")
	ErrQuestionPending = errors.New("a question is already pending for this session")
	ErrNoGatePending   = errors.New("no human gate pending for this session")
	ErrNoQuestion      = errors.New("no question pending for this session")
	ErrWrongTask       = errors.New("pending question belongs to a different task")
	ErrInvalidAnswers  = errors.New("answers do not match the question schema")
)

type pendingGate struct {
	request  *GateRequest
	response chan *GateResponse
}

type pendingQuestion struct {
	request  *QuestionRequest
	response chan *QuestionResponse
}

// Store manages the single pending gate and the single pending question per
// session. It provides thread-safe storage and notification when responses
// arrive.
type Store struct {
	mu        sync.RWMutex
	gates     map[string]*pendingGate     // keyed by session id
	questions map[string]*pendingQuestion // keyed by session id
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		gates:     make(map[string]*pendingGate),
		questions: make(map[string]*pendingQuestion),
	}
}

// OpenGate registers a pending gate for the session. A second gate while one
// is pending is refused.
func (s *Store) OpenGate(req *GateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.gates[req.SessionID]; exists {
		return ErrGatePending
	}
	if req.PendingID == "" {
		req.PendingID = uuid.New().String()
	}
	req.CreatedAt = time.Now()
	s.gates[req.SessionID] = &pendingGate{
		request:  req,
		response: make(chan *GateResponse, 1),
	}
	return nil
}

// PendingGate returns the pending gate request for a session, if any.
func (s *Store) PendingGate(sessionID string) (*GateRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gates[sessionID]
	if !ok {
		return nil, false
	}
	return g.request, true
}

// AwaitGate blocks until the gate is answered, the timeout elapses, or the
// context is cancelled. Timeout yields a response with TimedOut set; context
// cancellation yields a synthetic cancelled response.
func (s *Store) AwaitGate(ctx context.Context, sessionID string, timeout time.Duration) (*GateResponse, error) {
	s.mu.RLock()
	g, ok := s.gates[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoGatePending
	}
	defer s.clearGate(sessionID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-g.response:
		return resp, nil
	case <-timer.C:
		return &GateResponse{TimedOut: true, RespondedAt: time.Now()}, nil
	case <-ctx.Done():
		return &GateResponse{Cancelled: true, RespondedAt: time.Now()}, nil
	}
}

// RespondToGate delivers the human's answer for the pending gate.
func (s *Store) RespondToGate(sessionID string, approved bool, feedback string) error {
	s.mu.RLock()
	g, ok := s.gates[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNoGatePending
	}

	resp := &GateResponse{Approved: approved, Feedback: feedback, RespondedAt: time.Now()}
	select {
	case g.response <- resp:
		return nil
	default:
		return fmt.Errorf("gate already answered for session %s", sessionID)
	}
}

func (s *Store) clearGate(sessionID string) {
	s.mu.Lock()
	delete(s.gates, sessionID)
	s.mu.Unlock()
}

// OpenQuestion registers a pending mid-task question.
func (s *Store) OpenQuestion(req *QuestionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.questions[req.SessionID]; exists {
		return ErrQuestionPending
	}
	if req.PendingID == "" {
		req.PendingID = uuid.New().String()
	}
	req.CreatedAt = time.Now()
	s.questions[req.SessionID] = &pendingQuestion{
		request:  req,
		response: make(chan *QuestionResponse, 1),
	}
	return nil
}

// PendingQuestion returns the pending question for a session, if any.
func (s *Store) PendingQuestion(sessionID string) (*QuestionRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[sessionID]
	if !ok {
		return nil, false
	}
	return q.request, true
}

// AwaitQuestion blocks until answers arrive, the timeout elapses, or the
// context is cancelled.
func (s *Store) AwaitQuestion(ctx context.Context, sessionID string, timeout time.Duration) (*QuestionResponse, error) {
	s.mu.RLock()
	q, ok := s.questions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoQuestion
	}
	defer s.clearQuestion(sessionID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-q.response:
		return resp, nil
	case <-timer.C:
		return &QuestionResponse{TimedOut: true, RespondedAt: time.Now()}, nil
	case <-ctx.Done():
		return &QuestionResponse{Cancelled: true, RespondedAt: time.Now()}, nil
	}
}

// RespondToQuestion validates the answers against the question's schema and
// delivers them to the waiting worker.
func (s *Store) RespondToQuestion(sessionID, taskID string, answers []byte) error {
	s.mu.RLock()
	q, ok := s.questions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrNoQuestion
	}
	if q.request.TaskID != taskID {
		return fmt.Errorf("%w: pending %s, got %s", ErrWrongTask, q.request.TaskID, taskID)
	}

	if len(q.request.Schema) > 0 {
		if err := validateAnswers(q.request.Schema, answers); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
		}
	}

	resp := &QuestionResponse{Answers: answers, RespondedAt: time.Now()}
	select {
	case q.response <- resp:
		return nil
	default:
		return fmt.Errorf("question already answered for session %s", sessionID)
	}
}

func (s *Store) clearQuestion(sessionID string) {
	s.mu.Lock()
	delete(s.questions, sessionID)
	s.mu.Unlock()
}

// CancelSession resolves any pending gate or question for the session with a
// synthetic cancellation. Safe to call when nothing is pending.
func (s *Store) CancelSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g, ok := s.gates[sessionID]; ok {
		select {
		case g.response <- &GateResponse{Cancelled: true, RespondedAt: time.Now()}:
		default:
		}
	}
	if q, ok := s.questions[sessionID]; ok {
		select {
		case q.response <- &QuestionResponse{Cancelled: true, RespondedAt: time.Now()}:
		default:
		}
	}
}

// validateAnswers checks an answers document against a JSON schema.
func validateAnswers(schema, answers []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return fmt.Errorf("invalid question schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("question.json", doc); err != nil {
		return fmt.Errorf("invalid question schema: %w", err)
	}
	compiled, err := compiler.Compile("question.json")
	if err != nil {
		return fmt.Errorf("invalid question schema: %w", err)
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(answers))
	if err != nil {
		return fmt.Errorf("invalid answers document: %w", err)
	}
	return compiled.Validate(value)
}
