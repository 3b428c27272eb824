package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/agent"
	"github.com/elisa-dev/elisa/internal/budget"
	"github.com/elisa-dev/elisa/internal/common/config"
	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/events/bus"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/gitlog"
	"github.com/elisa-dev/elisa/internal/hardware"
	"github.com/elisa-dev/elisa/internal/health"
	"github.com/elisa-dev/elisa/internal/nugget"
	"github.com/elisa-dev/elisa/internal/orchestrator/dag"
	"github.com/elisa-dev/elisa/internal/orchestrator/prompt"
	"github.com/elisa-dev/elisa/internal/orchestrator/stream"
	"github.com/elisa-dev/elisa/internal/planner"
	"github.com/elisa-dev/elisa/internal/testrunner"
	"github.com/elisa-dev/elisa/internal/tracing"
)

// Deps are the injected collaborators for one orchestrator.
type Deps struct {
	Planner  planner.Planner
	Runner   agent.Runner
	Git      gitlog.Service
	Tests    testrunner.Runner
	Hardware hardware.Service
	Devices  *hardware.Registry
	Gates    *gate.Store
	Bus      bus.EventBus
	Logger   *logger.Logger

	// GatePolicy decides when workflow-configured gates fire.
	// Nil means MidpointPolicy.
	GatePolicy GatePolicy
}

// Orchestrator drives one session. Create with New, run once with Run.
type Orchestrator struct {
	sessionID    string
	spec         *nugget.Spec
	cfg          config.OrchestratorConfig
	workspaceDir string
	deps         Deps

	stream    *stream.Stream
	budget    *budget.Budget
	health    *health.Tracker
	assembler *prompt.Assembler
	tracer    trace.Tracer
	logger    *logger.Logger

	aborted    atomic.Bool
	abortMsg   atomic.Value // string
	cancelRun  context.CancelFunc
	cancelOnce sync.Once

	// healthMu fences the bus->stream health forwarders: they emit under the
	// read lock, and stopHealthForwarding takes the write lock before the
	// final events go out, so session_complete stays last on the stream.
	healthMu   sync.RWMutex
	healthDone bool

	mu          sync.Mutex
	phase       Phase
	graph       *dag.Graph
	agents      map[string]*planner.Agent
	testReport  *testrunner.Report
	gatesFired  map[string]bool
	revisionSeq map[string]int
}

// New creates an orchestrator for one session.
func New(sessionID string, spec *nugget.Spec, workspaceDir string, cfg config.OrchestratorConfig, deps Deps) *Orchestrator {
	if deps.GatePolicy == nil {
		deps.GatePolicy = MidpointPolicy{}
	}
	return &Orchestrator{
		sessionID:    sessionID,
		spec:         spec,
		cfg:          cfg,
		workspaceDir: workspaceDir,
		deps:         deps,
		stream:       stream.New(),
		budget:       budget.New(cfg.TokenBudget),
		health:       health.NewTracker(sessionID, deps.Bus, deps.Logger),
		assembler:    prompt.NewAssembler(spec, cfg.MaxTurns),
		tracer:       tracing.Tracer("elisa/orchestrator"),
		logger:       deps.Logger.WithSessionID(sessionID),
		phase:        PhaseIdle,
		agents:       make(map[string]*planner.Agent),
		gatesFired:   make(map[string]bool),
		revisionSeq:  make(map[string]int),
	}
}

// Stream exposes the session event stream for the transport consumer.
func (o *Orchestrator) Stream() *stream.Stream { return o.stream }

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Tasks returns a snapshot of the planned tasks, nil before plan_ready.
func (o *Orchestrator) Tasks() []*planner.Task {
	o.mu.Lock()
	g := o.graph
	o.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Snapshot()
}

// GitLog returns the commits recorded so far.
func (o *Orchestrator) GitLog(ctx context.Context) ([]gitlog.Commit, error) {
	return o.deps.Git.Log(ctx, o.workspaceDir)
}

// TestReport returns the test report, nil if the testing phase never ran.
func (o *Orchestrator) TestReport() *testrunner.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.testReport
}

// Budget returns a snapshot of token consumption.
func (o *Orchestrator) Budget() budget.Snapshot { return o.budget.Get() }

// HealthSummary returns the current build health.
func (o *Orchestrator) HealthSummary() health.Summary { return o.health.Summary() }

// Cancel aborts the run cooperatively: in-flight agent turns see their
// context cancelled, pending gates and questions resolve synthetically.
// Idempotent.
func (o *Orchestrator) Cancel(message string) {
	o.cancelOnce.Do(func() {
		o.abortMsg.Store(message)
		o.aborted.Store(true)
		o.deps.Gates.CancelSession(o.sessionID)
		if o.cancelRun != nil {
			o.cancelRun()
		}
	})
}

func (o *Orchestrator) abortMessage() string {
	if msg, ok := o.abortMsg.Load().(string); ok && msg != "" {
		return msg
	}
	return "Build cancelled"
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	o.phase = p
	o.mu.Unlock()
	o.logger.Debug("phase transition", zap.String("phase", string(p)))
}

// Run executes the whole session. It is called exactly once, on its own
// goroutine; the returned error is for the session manager's log, all
// user-visible failures go out as stream events.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancelRun = cancel
	defer cancel()
	defer o.finish()

	healthSub := o.forwardHealth(runCtx)
	defer o.stopHealthForwarding(healthSub)

	o.setPhase(PhasePlanning)
	o.stream.Emit(stream.PlanningStarted())

	plan, err := o.plan(runCtx)
	if err != nil {
		if o.aborted.Load() {
			o.stream.Emit(stream.Error(o.abortMessage(), false))
			return err
		}
		o.stream.Emit(stream.Error("Planning failed: "+err.Error(), false))
		return err
	}

	graph, err := o.buildGraph(plan)
	if err != nil {
		o.stream.Emit(stream.Error(err.Error(), false))
		return err
	}

	o.emitPlanReady(plan)

	if err := o.deps.Git.EnsureRepo(runCtx, o.workspaceDir); err != nil {
		o.logger.Warn("failed to initialize workspace repository", zap.Error(err))
	}

	o.setPhase(PhaseExecuting)
	if err := o.execute(runCtx, graph); err != nil {
		o.stream.Emit(stream.Error(o.abortMessage(), false))
		return err
	}

	if o.shouldTest(runCtx) {
		o.setPhase(PhaseTesting)
		o.runTests(runCtx)
	}

	if target := o.spec.Workflow.DeploymentTarget; target != "" {
		o.setPhase(PhaseDeploying)
		if err := o.deploy(runCtx, target); err != nil {
			o.stream.Emit(stream.Error(err.Error(), false))
			return err
		}
	}

	o.stopHealthForwarding(healthSub)
	summary := o.health.Summary()
	o.stream.Emit(stream.SystemHealthSummary(summary.HealthScore, summary.Grade, summary.Breakdown))
	o.stream.Emit(stream.SessionComplete())
	return nil
}

// stopHealthForwarding cuts off the bus health forwarders. Acquiring the
// write lock waits out any forward already emitting, so once this returns no
// health update can land on the stream after the caller's next event. Safe to
// call more than once.
func (o *Orchestrator) stopHealthForwarding(sub bus.Subscription) {
	o.healthMu.Lock()
	o.healthDone = true
	o.healthMu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

func (o *Orchestrator) finish() {
	o.setPhase(PhaseDone)
	o.stream.Close()
}

func (o *Orchestrator) plan(ctx context.Context) (*planner.Plan, error) {
	ctx, span := o.tracer.Start(ctx, "planner.plan", tracing.Session(o.sessionID))
	defer span.End()

	plan, err := o.deps.Planner.Plan(ctx, o.spec)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	planner.Normalize(plan)
	return plan, nil
}

func (o *Orchestrator) buildGraph(plan *planner.Plan) (*dag.Graph, error) {
	graph, err := dag.New(plan.Tasks)
	if err != nil {
		return nil, err
	}
	if err := graph.CheckCycles(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.graph = graph
	for _, a := range plan.Agents {
		o.agents[a.Name] = a
	}
	o.mu.Unlock()
	return graph, nil
}

func (o *Orchestrator) emitPlanReady(plan *planner.Plan) {
	tasks, _ := json.Marshal(plan.Tasks)
	agents, _ := json.Marshal(plan.Agents)
	o.stream.Emit(stream.PlanReady(tasks, agents, plan.Explanation))
}

func (o *Orchestrator) agentFor(task *planner.Task) *planner.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.agents[task.AgentName]; ok {
		return a
	}
	// Planner omitted the agent; run the task with a default builder.
	return &planner.Agent{Name: task.AgentName, Role: planner.RoleBuilder}
}

// forwardHealth bridges bus health samples onto the session stream.
func (o *Orchestrator) forwardHealth(ctx context.Context) bus.Subscription {
	if o.deps.Bus == nil {
		return nil
	}
	sub, err := o.deps.Bus.Subscribe(events.BuildHealthUpdatedSubject(o.sessionID), func(_ context.Context, e *bus.Event) error {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		o.healthMu.RLock()
		defer o.healthMu.RUnlock()
		if o.healthDone {
			return nil
		}
		o.stream.Emit(stream.SystemHealthUpdate(e.Data))
		return nil
	})
	if err != nil {
		o.logger.Warn("failed to subscribe to health updates", zap.Error(err))
		return nil
	}
	return sub
}

func (o *Orchestrator) shouldTest(ctx context.Context) bool {
	if o.aborted.Load() || o.deps.Tests == nil {
		return false
	}
	return o.spec.Workflow.TestingEnabled || o.deps.Tests.HasTests(ctx, o.workspaceDir)
}

func (o *Orchestrator) runTests(ctx context.Context) {
	report, err := o.deps.Tests.Run(ctx, o.workspaceDir)
	if err != nil {
		o.stream.Emit(stream.Error("Test run failed: "+err.Error(), true))
		return
	}
	o.mu.Lock()
	o.testReport = report
	o.mu.Unlock()
	for _, res := range report.Results {
		o.health.RecordTestResult(res.Passed)
		o.stream.Emit(stream.TestResult(res.Name, res.Passed, res.Details))
	}
	if report.Coverage > 0 {
		o.stream.Emit(stream.CoverageUpdate(report.Coverage))
	}
}

func (o *Orchestrator) deploy(ctx context.Context, target string) error {
	o.stream.Emit(stream.DeployStarted(target))
	if target == "web" {
		// Web deploys are a hand-off to the hosting runtime; nothing to
		// compile or flash here.
		o.stream.Emit(stream.DeployComplete())
		return nil
	}

	if o.deps.Hardware == nil || o.deps.Devices == nil {
		return fmt.Errorf("no hardware service configured for target %s", target)
	}
	device, ok := o.deps.Devices.Find(target)
	if !ok {
		return fmt.Errorf("no registered device for target %s", target)
	}
	if err := o.deps.Hardware.Compile(ctx, o.workspaceDir, device); err != nil {
		return err
	}
	if err := o.deps.Hardware.Flash(ctx, device); err != nil {
		return fmt.Errorf("failed to flash %s: %w", device.Name, err)
	}
	o.stream.Emit(stream.DeployComplete())
	return nil
}
