package orchestrator

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/agent"
	"github.com/elisa-dev/elisa/internal/budget"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/orchestrator/dag"
	"github.com/elisa-dev/elisa/internal/orchestrator/prompt"
	"github.com/elisa-dev/elisa/internal/orchestrator/stream"
	"github.com/elisa-dev/elisa/internal/planner"
	"github.com/elisa-dev/elisa/internal/tracing"
)

// runTask drives one task through up to MaxRetries attempts. The returned
// result is nil when every attempt failed or the run was aborted.
// maxQuestionsPerAttempt bounds consecutive agent questions so a task cannot
// stall in an endless ask-answer loop without ever consuming a retry.
const maxQuestionsPerAttempt = 3

func (o *Orchestrator) runTask(ctx context.Context, graph *dag.Graph, task *planner.Task) (*agent.TurnResult, error) {
	a := o.agentFor(task)

	failureContext := ""
	var answers json.RawMessage

	questionStreak := 0

	for attempt := 1; attempt <= o.cfg.MaxRetries; attempt++ {
		if o.aborted.Load() {
			return nil, errAborted
		}
		if attempt > 1 {
			graph.RecordRetry(task.ID)
			o.health.RecordRetry()
		}

		res, err := o.runAttempt(ctx, task, a, prompt.Options{
			WorkspaceDir:   o.workspaceDir,
			Predecessors:   o.predecessors(graph, task),
			FailureContext: failureContext,
			Answers:        answers,
		})
		if err != nil {
			if ctx.Err() != nil || o.aborted.Load() {
				return nil, errAborted
			}
			failureContext = "The attempt did not finish: " + err.Error()
			graph.SetSummary(task.ID, failureContext)
			continue
		}
		answers = nil

		// A question pauses the attempt; the answer feeds the next turn
		// without consuming a retry. An agent that only ever asks questions
		// forfeits the attempt after maxQuestionsPerAttempt of them.
		if res.Question != nil {
			questionStreak++
			if questionStreak > maxQuestionsPerAttempt {
				questionStreak = 0
				failureContext = "the agent kept asking questions instead of finishing"
				graph.SetSummary(task.ID, failureContext)
				continue
			}
			reply, qerr := o.awaitQuestion(ctx, task, res.Question)
			if qerr != nil {
				return nil, qerr
			}
			if reply == nil {
				failureContext = "question timeout"
				graph.SetSummary(task.ID, failureContext)
				continue
			}
			answers = reply
			attempt--
			continue
		}
		questionStreak = 0

		graph.SetSummary(task.ID, res.Summary)
		if res.Success {
			return res, nil
		}
		failureContext = res.Summary
	}
	return nil, nil
}

func (o *Orchestrator) runAttempt(ctx context.Context, task *planner.Task, a *planner.Agent, opts prompt.Options) (*agent.TurnResult, error) {
	p := o.assembler.Assemble(task, a, opts)

	attemptCtx := ctx
	if d := o.cfg.AgentTurnTimeoutDuration(); d > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	attemptCtx, span := o.tracer.Start(attemptCtx, "agent.turn",
		tracing.Session(o.sessionID),
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("agent.name", a.Name),
		))
	defer span.End()

	res, err := o.deps.Runner.RunTurn(attemptCtx, &agent.TurnRequest{
		TaskID:       task.ID,
		AgentName:    a.Name,
		SystemPrompt: p.System,
		UserPrompt:   p.User,
		MaxTurns:     o.cfg.MaxTurns,
		Workspace:    o.workspaceDir,
		Answers:      opts.Answers,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if res.Output != "" {
		o.stream.Emit(stream.AgentOutput(task.ID, res.Output))
	}
	o.recordUsage(a.Name, res)
	return res, nil
}

// recordUsage accounts tokens and emits the usage event. Crossing 80% of the
// budget emits a single recoverable warning for the whole session.
func (o *Orchestrator) recordUsage(agentName string, res *agent.TurnResult) {
	input, output := res.InputTokens, res.OutputTokens
	if input == 0 && output == 0 {
		// Runner reported no counts; estimate from the visible output.
		output = budget.EstimateTokens(res.Output + res.Summary)
	}
	cost := res.CostUSD
	if cost == 0 && o.cfg.CostPerMTokUSD > 0 {
		cost = float64(input+output) / 1_000_000 * o.cfg.CostPerMTokUSD
	}

	crossed := o.budget.AddUsage(agentName, input, output, cost)
	o.stream.Emit(stream.TokenUsage(agentName, input, output, cost))
	if crossed {
		snap := o.budget.Get()
		o.logger.Warn("token budget warning",
			zap.Int("effective", snap.Effective), zap.Int("max", snap.MaxBudget))
		o.stream.Emit(stream.Error("Token budget warning: 80% of the session budget is used", true))
	}
}

// awaitQuestion publishes a mid-task question and blocks for the kid's
// answers. Returns (nil, nil) on timeout so the caller can fail the attempt
// with a question-timeout reason.
func (o *Orchestrator) awaitQuestion(ctx context.Context, task *planner.Task, q *agent.Question) (json.RawMessage, error) {
	req := &gate.QuestionRequest{
		SessionID: o.sessionID,
		TaskID:    task.ID,
		Prompt:    q.Prompt,
		Schema:    q.Schema,
	}
	if err := o.deps.Gates.OpenQuestion(req); err != nil {
		return nil, err
	}
	o.stream.Emit(stream.TaskQuestion(task.ID, q.Prompt, q.Schema))

	resp, err := o.deps.Gates.AwaitQuestion(ctx, o.sessionID, o.cfg.QuestionTimeoutDuration())
	if err != nil {
		return nil, err
	}
	if resp.Cancelled {
		return nil, errAborted
	}
	if resp.TimedOut {
		return nil, nil
	}
	return resp.Answers, nil
}

// predecessors resolves the completed upstream tasks for prompt context,
// direct dependencies first, then transitive.
func (o *Orchestrator) predecessors(graph *dag.Graph, task *planner.Task) []*planner.Task {
	direct := graph.DirectDeps(task.ID)
	seen := make(map[string]bool, len(direct))
	var out []*planner.Task
	appendTask := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		if t, ok := graph.Get(id); ok && t.Status == planner.TaskCompleted {
			out = append(out, t)
		}
	}
	for _, id := range direct {
		appendTask(id)
	}
	for _, id := range graph.TransitiveDeps(task.ID) {
		appendTask(id)
	}
	return out
}
