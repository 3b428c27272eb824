// Package agent defines the contract with the external agent runner: the
// service that drives one task through a language-model-backed agent.
package agent

import (
	"context"
	"encoding/json"
)

// TurnRequest carries everything the runner needs for one task attempt.
type TurnRequest struct {
	TaskID       string          `json:"task_id"`
	AgentName    string          `json:"agent_name"`
	SystemPrompt string          `json:"system_prompt"`
	UserPrompt   string          `json:"user_prompt"`
	MaxTurns     int             `json:"max_turns"`
	Workspace    string          `json:"workspace"`
	Answers      json.RawMessage `json:"answers,omitempty"` // user answers to a prior question, if any
}

// Question is raised by an agent mid-task; the orchestrator pauses the
// attempt until answers arrive.
type Question struct {
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// TurnResult is the runner's report for one attempt.
type TurnResult struct {
	Success      bool      `json:"success"`
	Summary      string    `json:"summary"`
	Output       string    `json:"output,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Question     *Question `json:"question,omitempty"` // set when the agent paused on a question
}

// Runner executes one task attempt. Implementations must honor context
// cancellation by aborting the underlying LM request.
type Runner interface {
	RunTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error)
}
