// Package planner defines the planning contract: given a validated NuggetSpec,
// an external planner returns a DAG of tasks and a set of named agents.
package planner

import (
	"context"

	"github.com/elisa-dev/elisa/internal/nugget"
)

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskRevising  TaskStatus = "revising"
	TaskBlocked   TaskStatus = "blocked"
)

// Task is a single unit of work assigned to one agent.
type Task struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Description        string     `json:"description"`
	Status             TaskStatus `json:"status"`
	AgentName          string     `json:"agent_name"`
	AcceptanceCriteria []string   `json:"acceptance_criteria,omitempty"`
	DependsOn          []string   `json:"depends_on,omitempty"`
	Summary            string     `json:"summary,omitempty"` // output summary from the last attempt
	Retries            int        `json:"retries"`
}

// AgentRole is the closed set of agent roles.
type AgentRole string

const (
	RoleBuilder  AgentRole = "builder"
	RoleTester   AgentRole = "tester"
	RoleReviewer AgentRole = "reviewer"
	RoleCustom   AgentRole = "custom"
)

// Agent is a named role instance with a persona and path policies.
type Agent struct {
	Name            string    `json:"name"`
	Role            AgentRole `json:"role"`
	Persona         string    `json:"persona,omitempty"`
	AllowedPaths    []string  `json:"allowed_paths,omitempty"`
	RestrictedPaths []string  `json:"restricted_paths,omitempty"`
}

// Plan is the planner's answer: tasks, agents, and a human-readable explanation.
type Plan struct {
	Tasks       []*Task  `json:"tasks"`
	Agents      []*Agent `json:"agents"`
	Explanation string   `json:"explanation,omitempty"`
}

// Planner produces a Plan for a spec.
type Planner interface {
	Plan(ctx context.Context, spec *nugget.Spec) (*Plan, error)
}

// Normalize fills defaults the planner may omit: pending status, builder role
// for agents without one, and trimmed dependency lists.
func Normalize(plan *Plan) {
	for _, t := range plan.Tasks {
		if t.Status == "" {
			t.Status = TaskPending
		}
	}
	for _, a := range plan.Agents {
		if a.Role == "" {
			a.Role = RoleBuilder
		}
	}
}
