package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/agent"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/orchestrator/dag"
	"github.com/elisa-dev/elisa/internal/orchestrator/stream"
	"github.com/elisa-dev/elisa/internal/planner"
)

var errAborted = errors.New("session aborted")

type taskResult struct {
	task   *planner.Task
	result *agent.TurnResult
	err    error
}

// execute drains the DAG with a bounded worker pool. It returns errAborted
// when the session was cancelled, nil when every task reached a terminal
// state.
func (o *Orchestrator) execute(ctx context.Context, graph *dag.Graph) error {
	maxParallel := o.cfg.MaxParallelTasks
	if w := o.spec.Workflow.MaxParallelTasks; w > 0 {
		maxParallel = w
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	results := make(chan taskResult)
	running := 0
	budgetApproved := false
	runningPaths := make(map[string][]string)

	drain := func() {
		for running > 0 {
			<-results
			running--
			o.budget.Release(o.cfg.ReservedPerTask)
		}
	}

	for {
		if o.aborted.Load() {
			drain()
			return errAborted
		}

		if err := o.fireWorkflowGates(ctx, graph); err != nil {
			drain()
			return err
		}

		if o.budget.Exceeded() && !budgetApproved {
			resp, err := o.awaitGate(ctx, gate.KindBudgetWarning, o.budgetContext())
			if err != nil {
				drain()
				return err
			}
			if !resp.Approved {
				o.Cancel("Build cancelled: token budget exceeded")
				drain()
				return errAborted
			}
			// The kid accepted the overage; stop gating on budget.
			budgetApproved = true
		}

		for running < maxParallel {
			task := o.nextDispatchable(graph, runningPaths)
			if task == nil {
				break
			}
			runningPaths[task.ID] = o.agentFor(task).AllowedPaths
			o.budget.Reserve(o.cfg.ReservedPerTask)
			_ = graph.SetStatus(task.ID, planner.TaskRunning)
			o.stream.Emit(stream.TaskStarted(task.ID, task.AgentName))
			running++
			go func(t *planner.Task) {
				res, err := o.runTask(ctx, graph, t)
				results <- taskResult{task: t, result: res, err: err}
			}(task)
		}

		if running == 0 {
			if graph.Done() {
				return nil
			}
			// Pending tasks remain but none are ready and nothing is
			// running; dependency state cannot change anymore.
			o.logger.Error("scheduler stalled with unsatisfiable dependencies")
			o.stream.Emit(stream.Error("Some tasks could not run because their dependencies failed", false))
			return nil
		}

		r := <-results
		running--
		delete(runningPaths, r.task.ID)
		o.budget.Release(o.cfg.ReservedPerTask)

		if err := o.handleResult(ctx, graph, r); err != nil {
			drain()
			return err
		}
	}
}

// nextDispatchable returns the first ready task whose agent's allowed paths
// do not intersect those of any running task. Tasks touching the same files
// are serialized even when the pool allows more workers.
func (o *Orchestrator) nextDispatchable(graph *dag.Graph, runningPaths map[string][]string) *planner.Task {
	for _, task := range graph.Ready() {
		paths := o.agentFor(task).AllowedPaths
		conflict := false
		for _, other := range runningPaths {
			if pathsConflict(paths, other) {
				conflict = true
				break
			}
		}
		if !conflict {
			return task
		}
	}
	return nil
}

// pathsConflict reports whether two allowed-path sets can touch the same
// files. An empty set means the whole workspace.
func pathsConflict(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true
	}
	for _, pa := range a {
		for _, pb := range b {
			if pa == pb || strings.HasPrefix(pa, pb+"/") || strings.HasPrefix(pb, pa+"/") {
				return true
			}
		}
	}
	return false
}

func (o *Orchestrator) handleResult(ctx context.Context, graph *dag.Graph, r taskResult) error {
	task := r.task

	if r.err != nil {
		if o.aborted.Load() || errors.Is(r.err, context.Canceled) {
			return errAborted
		}
		o.logger.Error("task attempt errored", zap.String("task_id", task.ID), zap.Error(r.err))
	}

	if r.result != nil && r.result.Success {
		graph.SetSummary(task.ID, r.result.Summary)
		_ = graph.SetStatus(task.ID, planner.TaskCompleted)
		o.commitTask(ctx, task)
		o.stream.Emit(stream.TaskCompleted(task.ID))
		o.health.RecordTaskCompleted(ctx)
		return nil
	}

	// Retries are exhausted; hold the task open until a human decides.
	resp, err := o.awaitGate(ctx, gate.KindRetriesExhausted,
		fmt.Sprintf("Task %q failed %d times. Last attempt: %s", task.Name, task.Retries, task.Summary))
	if err != nil {
		return err
	}
	if resp.Approved || resp.Feedback == "" {
		graph.MarkFailedTerminal(task.ID)
		o.health.RecordTaskFailed(ctx)
		return nil
	}
	return o.insertRevision(graph, task, resp.Feedback)
}

func (o *Orchestrator) insertRevision(graph *dag.Graph, failed *planner.Task, feedback string) error {
	o.mu.Lock()
	o.revisionSeq[failed.ID]++
	n := o.revisionSeq[failed.ID]
	o.mu.Unlock()

	revision := &planner.Task{
		ID:          fmt.Sprintf("%s-revision-%d", failed.ID, n),
		Name:        failed.Name + " (revision)",
		Description: fmt.Sprintf("Revise the work from %q based on this feedback: %s", failed.Name, feedback),
		AgentName:   failed.AgentName,
	}
	if err := graph.InsertRevision(failed.ID, revision); err != nil {
		o.logger.Error("failed to insert revision task", zap.String("task_id", failed.ID), zap.Error(err))
		graph.MarkFailedTerminal(failed.ID)
		return nil
	}
	o.logger.Info("inserted revision task",
		zap.String("failed_task_id", failed.ID), zap.String("revision_id", revision.ID))
	return nil
}

// fireWorkflowGates fires each spec-configured gate once when the policy says
// it is due.
func (o *Orchestrator) fireWorkflowGates(ctx context.Context, graph *dag.Graph) error {
	gates := o.spec.Workflow.HumanGates
	if len(gates) == 0 {
		return nil
	}
	total, completed := graph.Counts()
	for _, name := range gates {
		o.mu.Lock()
		fired := o.gatesFired[name]
		o.mu.Unlock()
		if fired || !o.deps.GatePolicy.Due(name, completed, total) {
			continue
		}
		o.mu.Lock()
		o.gatesFired[name] = true
		o.mu.Unlock()

		resp, err := o.awaitGate(ctx, name,
			fmt.Sprintf("Checkpoint %q: %d of %d tasks completed", name, completed, total))
		if err != nil {
			return err
		}
		if !resp.Approved {
			o.Cancel("Build cancelled at checkpoint " + name)
			return errAborted
		}
	}
	return nil
}

// awaitGate opens a single-slot human gate, emits the event, and blocks for
// the response. Timeouts resolve as approval unless configured to abort.
func (o *Orchestrator) awaitGate(ctx context.Context, kind, gateContext string) (*gate.GateResponse, error) {
	req := &gate.GateRequest{SessionID: o.sessionID, Kind: kind, Context: gateContext}
	if err := o.deps.Gates.OpenGate(req); err != nil {
		return nil, err
	}
	o.stream.Emit(stream.HumanGate(kind, gateContext))

	resp, err := o.deps.Gates.AwaitGate(ctx, o.sessionID, o.cfg.GateTimeoutDuration())
	if err != nil {
		return nil, err
	}
	if resp.Cancelled {
		return nil, errAborted
	}
	if resp.TimedOut {
		if o.cfg.GateTimeoutAborts {
			o.Cancel("Build cancelled: no response at gate " + kind)
			return nil, errAborted
		}
		resp.Approved = true
	}
	return resp, nil
}

func (o *Orchestrator) budgetContext() string {
	snap := o.budget.Get()
	return fmt.Sprintf("Token budget exceeded: %d of %d effective tokens used (cost $%.2f)",
		snap.Effective, snap.MaxBudget, snap.CostUSD)
}
