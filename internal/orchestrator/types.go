// Package orchestrator runs one session end to end: planning, DAG execution,
// optional testing and deployment, driven by a bounded worker pool and
// reported through a single ordered event stream.
package orchestrator

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePlanning  Phase = "planning"
	PhaseExecuting Phase = "executing"
	PhaseTesting   Phase = "testing"
	PhaseDeploying Phase = "deploying"
	PhaseDone      Phase = "done"
)
