// Package gate provides the interactive pause protocols: human approval gates
// and mid-task agent questions. Both are single-slot per session.
package gate

import (
	"encoding/json"
	"time"
)

// Gate kinds fired by the orchestrator.
const (
	KindRetriesExhausted = "retries_exhausted"
	KindBudgetWarning    = "budget_warning"
)

// GateRequest is a pending human gate.
type GateRequest struct {
	PendingID string    `json:"pending_id"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GateResponse is the human's answer to a gate.
type GateResponse struct {
	Approved    bool      `json:"approved"`
	Feedback    string    `json:"feedback,omitempty"`
	Cancelled   bool      `json:"cancelled,omitempty"` // synthetic response injected on session cancel
	TimedOut    bool      `json:"timed_out,omitempty"`
	RespondedAt time.Time `json:"responded_at"`
}

// QuestionRequest is a pending mid-task question from an agent.
type QuestionRequest struct {
	PendingID string          `json:"pending_id"`
	SessionID string          `json:"session_id"`
	TaskID    string          `json:"task_id"`
	Prompt    string          `json:"prompt"`
	Schema    json.RawMessage `json:"schema,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// QuestionResponse carries the user's answers for a question.
type QuestionResponse struct {
	Answers     json.RawMessage `json:"answers"`
	Cancelled   bool            `json:"cancelled,omitempty"`
	TimedOut    bool            `json:"timed_out,omitempty"`
	RespondedAt time.Time       `json:"responded_at"`
}
