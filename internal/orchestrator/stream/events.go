// Package stream provides the ordered per-session event feed: a closed union
// of typed events and a single-writer, single-consumer FIFO emitter.
package stream

import "encoding/json"

// EventType tags each event on the wire.
type EventType string

// The closed set of event types a session can emit.
const (
	TypePlanningStarted     EventType = "planning_started"
	TypePlanReady           EventType = "plan_ready"
	TypeTaskStarted         EventType = "task_started"
	TypeAgentOutput         EventType = "agent_output"
	TypeTokenUsage          EventType = "token_usage"
	TypeCommitCreated       EventType = "commit_created"
	TypeTaskCompleted       EventType = "task_completed"
	TypeTestResult          EventType = "test_result"
	TypeCoverageUpdate      EventType = "coverage_update"
	TypeDeployStarted       EventType = "deploy_started"
	TypeDeployComplete      EventType = "deploy_complete"
	TypeSystemHealthUpdate  EventType = "system_health_update"
	TypeSystemHealthSummary EventType = "system_health_summary"
	TypeHumanGate           EventType = "human_gate"
	TypeTaskQuestion        EventType = "task_question"
	TypeError               EventType = "error"
	TypeSessionComplete     EventType = "session_complete"
)

// Event is one entry on the session stream. Exactly the fields relevant to
// the tagged type are populated; everything else stays omitted on the wire.
// The core attaches no timestamps; the transport adds them.
type Event struct {
	Type EventType `json:"type"`

	// plan_ready
	Tasks       json.RawMessage `json:"tasks,omitempty"`
	Agents      json.RawMessage `json:"agents,omitempty"`
	Explanation string          `json:"explanation,omitempty"`

	// task-scoped events
	TaskID    string `json:"task_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	Content   string `json:"content,omitempty"`

	// token_usage
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`

	// commit_created
	SHA string `json:"sha,omitempty"`

	// test_result / coverage_update
	TestName   string  `json:"test_name,omitempty"`
	Passed     bool    `json:"passed,omitempty"`
	Details    string  `json:"details,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`

	// deploy_started
	Target string `json:"target,omitempty"`

	// system health
	HealthScore float64        `json:"health_score,omitempty"`
	Grade       string         `json:"grade,omitempty"`
	Breakdown   map[string]int `json:"breakdown,omitempty"`
	Health      map[string]any `json:"health,omitempty"`

	// human_gate / task_question
	Kind    string          `json:"kind,omitempty"`
	Context string          `json:"context,omitempty"`
	Prompt  string          `json:"prompt,omitempty"`
	Schema  json.RawMessage `json:"schema,omitempty"`

	// error
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// Constructors for each variant keep call sites honest about which fields a
// type carries.

func PlanningStarted() Event {
	return Event{Type: TypePlanningStarted}
}

func PlanReady(tasks, agents json.RawMessage, explanation string) Event {
	return Event{Type: TypePlanReady, Tasks: tasks, Agents: agents, Explanation: explanation}
}

func TaskStarted(taskID, agentName string) Event {
	return Event{Type: TypeTaskStarted, TaskID: taskID, AgentName: agentName}
}

func AgentOutput(taskID, content string) Event {
	return Event{Type: TypeAgentOutput, TaskID: taskID, Content: content}
}

func TokenUsage(agentName string, inputTokens, outputTokens int, costUSD float64) Event {
	return Event{
		Type:         TypeTokenUsage,
		AgentName:    agentName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      costUSD,
	}
}

func CommitCreated(sha, agentName, taskID string) Event {
	return Event{Type: TypeCommitCreated, SHA: sha, AgentName: agentName, TaskID: taskID}
}

func TaskCompleted(taskID string) Event {
	return Event{Type: TypeTaskCompleted, TaskID: taskID}
}

func TestResult(testName string, passed bool, details string) Event {
	return Event{Type: TypeTestResult, TestName: testName, Passed: passed, Details: details}
}

func CoverageUpdate(percentage float64) Event {
	return Event{Type: TypeCoverageUpdate, Percentage: percentage}
}

func DeployStarted(target string) Event {
	return Event{Type: TypeDeployStarted, Target: target}
}

func DeployComplete() Event {
	return Event{Type: TypeDeployComplete}
}

func SystemHealthUpdate(health map[string]any) Event {
	return Event{Type: TypeSystemHealthUpdate, Health: health}
}

func SystemHealthSummary(score float64, grade string, breakdown map[string]int) Event {
	return Event{Type: TypeSystemHealthSummary, HealthScore: score, Grade: grade, Breakdown: breakdown}
}

func HumanGate(kind, context string) Event {
	return Event{Type: TypeHumanGate, Kind: kind, Context: context}
}

func TaskQuestion(taskID, prompt string, schema json.RawMessage) Event {
	return Event{Type: TypeTaskQuestion, TaskID: taskID, Prompt: prompt, Schema: schema}
}

func Error(message string, recoverable bool) Event {
	return Event{Type: TypeError, Message: message, Recoverable: recoverable}
}

func SessionComplete() Event {
	return Event{Type: TypeSessionComplete}
}
