package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elisa-dev/elisa/internal/agent"
	"github.com/elisa-dev/elisa/internal/common/config"
	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/events/bus"
	"github.com/elisa-dev/elisa/internal/gate"
	"github.com/elisa-dev/elisa/internal/gitlog"
	"github.com/elisa-dev/elisa/internal/hardware"
	"github.com/elisa-dev/elisa/internal/nugget"
	"github.com/elisa-dev/elisa/internal/orchestrator/stream"
	"github.com/elisa-dev/elisa/internal/planner"
	"github.com/elisa-dev/elisa/internal/testrunner"
)

// --- fakes ---

type fakePlanner struct {
	plan *planner.Plan
	err  error
}

func (f *fakePlanner) Plan(_ context.Context, _ *nugget.Spec) (*planner.Plan, error) {
	return f.plan, f.err
}

// fakeRunner scripts per-task behavior: failures before success, a question
// on the first turn, or blocking until cancelled.
type fakeRunner struct {
	mu        sync.Mutex
	failures  map[string]int // remaining failures per task id
	questions map[string]*agent.Question
	block     bool
	requests  []*agent.TurnRequest
}

func (f *fakeRunner) RunTurn(ctx context.Context, req *agent.TurnRequest) (*agent.TurnResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.block {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if q, ok := f.questions[req.TaskID]; ok && len(req.Answers) == 0 {
		f.mu.Unlock()
		return &agent.TurnResult{Question: q}, nil
	}
	if f.failures[req.TaskID] > 0 {
		f.failures[req.TaskID]--
		f.mu.Unlock()
		return &agent.TurnResult{
			Success:     false,
			Summary:     "attempt failed: button overlapped the list",
			InputTokens: 100, OutputTokens: 50,
		}, nil
	}
	f.mu.Unlock()
	return &agent.TurnResult{
		Success:     true,
		Summary:     "done: " + req.TaskID,
		InputTokens: 100, OutputTokens: 50, CostUSD: 0.01,
	}, nil
}

func (f *fakeRunner) prompts() []*agent.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*agent.TurnRequest(nil), f.requests...)
}

type fakeGit struct{}

func (fakeGit) EnsureRepo(context.Context, string) error { return nil }
func (fakeGit) CommitAll(_ context.Context, _, _, _, _ string) (string, error) {
	return "", nil
}
func (fakeGit) Log(context.Context, string) ([]gitlog.Commit, error) { return nil, nil }

type fakeTests struct {
	has    bool
	report *testrunner.Report
}

func (f *fakeTests) HasTests(context.Context, string) bool { return f.has }
func (f *fakeTests) Run(context.Context, string) (*testrunner.Report, error) {
	return f.report, nil
}

// --- helpers ---

func testConfig() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		MaxParallelTasks: 1,
		MaxRetries:       3,
		MaxTurns:         30,
		TokenBudget:      500000,
		ReservedPerTask:  8000,
		GateTimeout:      10,
		QuestionTimeout:  10,
		AgentTurnTimeout: 10,
	}
}

func simpleTask(id string, deps ...string) *planner.Task {
	return &planner.Task{ID: id, Name: id, Description: "work on " + id, AgentName: "builder-1", DependsOn: deps}
}

func builderAgents() []*planner.Agent {
	return []*planner.Agent{{Name: "builder-1", Role: planner.RoleBuilder}}
}

func newTestOrchestrator(t *testing.T, spec *nugget.Spec, p planner.Planner, r agent.Runner) (*Orchestrator, *gate.Store) {
	t.Helper()
	gates := gate.NewStore()
	o := New("sess-1", spec, t.TempDir(), testConfig(), Deps{
		Planner: p,
		Runner:  r,
		Git:     fakeGit{},
		Tests:   &fakeTests{},
		Gates:   gates,
		Logger:  logger.Default(),
	})
	return o, gates
}

func eventTypes(events []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// firstIndex returns the index of the first event matching, or -1.
func firstIndex(events []stream.Event, match func(stream.Event) bool) int {
	for i, e := range events {
		if match(e) {
			return i
		}
	}
	return -1
}

func byType(t stream.EventType) func(stream.Event) bool {
	return func(e stream.Event) bool { return e.Type == t }
}

func taskEvent(t stream.EventType, taskID string) func(stream.Event) bool {
	return func(e stream.Event) bool { return e.Type == t && e.TaskID == taskID }
}

func countType(events []stream.Event, t stream.EventType) int {
	n := 0
	for _, e := range events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// respondToGateWhenOpen answers the next gate the moment it opens.
func respondToGateWhenOpen(t *testing.T, gates *gate.Store, approved bool, feedback string) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, ok := gates.PendingGate("sess-1"); ok {
				_ = gates.RespondToGate("sess-1", approved, feedback)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

// --- scenarios ---

func TestRun_MinimalWebSuccess(t *testing.T) {
	// A minimal software spec: no workflow section at all. Validation
	// supplies the web deployment target.
	spec, verrs := nugget.Validate(&nugget.Spec{
		Nugget: nugget.Nugget{Goal: "todo app", Type: "software"},
	})
	if len(verrs) > 0 {
		t.Fatalf("unexpected validation errors: %v", verrs)
	}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("build-ui")}, Agents: builderAgents()}}
	o, _ := newTestOrchestrator(t, spec, p, &fakeRunner{})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	order := []func(stream.Event) bool{
		byType(stream.TypePlanningStarted),
		byType(stream.TypePlanReady),
		taskEvent(stream.TypeTaskStarted, "build-ui"),
		byType(stream.TypeTokenUsage),
		taskEvent(stream.TypeTaskCompleted, "build-ui"),
		func(e stream.Event) bool { return e.Type == stream.TypeDeployStarted && e.Target == "web" },
		byType(stream.TypeDeployComplete),
		byType(stream.TypeSessionComplete),
	}
	last := -1
	for i, match := range order {
		idx := firstIndex(events, match)
		if idx < 0 {
			t.Fatalf("expected event %d missing; stream: %v", i, eventTypes(events))
		}
		if idx <= last {
			t.Fatalf("event %d out of order; stream: %v", i, eventTypes(events))
		}
		last = idx
	}

	if countType(events, stream.TypeError) != 0 {
		t.Error("success run must not emit errors")
	}
	if events[len(events)-1].Type != stream.TypeSessionComplete {
		t.Errorf("session_complete must be last, got %v", eventTypes(events))
	}
	if o.Phase() != PhaseDone {
		t.Errorf("phase = %s, want done", o.Phase())
	}
}

func TestRun_DAGOrder(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{
		Tasks: []*planner.Task{
			simpleTask("t1"),
			simpleTask("t2", "t1"),
			simpleTask("t3", "t1"),
			simpleTask("t4", "t2", "t3"),
		},
		Agents: builderAgents(),
	}}
	o, _ := newTestOrchestrator(t, spec, p, &fakeRunner{})
	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	completed := func(id string) int { return firstIndex(events, taskEvent(stream.TypeTaskCompleted, id)) }
	started := func(id string) int { return firstIndex(events, taskEvent(stream.TypeTaskStarted, id)) }

	if completed("t1") >= started("t2") || completed("t1") >= started("t3") {
		t.Error("t1 must complete before t2 and t3 start")
	}
	if completed("t2") >= started("t4") || completed("t3") >= started("t4") {
		t.Error("t2 and t3 must complete before t4 starts")
	}

	planReady := firstIndex(events, byType(stream.TypePlanReady))
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		if started(id) < planReady {
			t.Errorf("task_started(%s) precedes plan_ready", id)
		}
	}
	if countType(events, stream.TypeTaskStarted) != 4 {
		t.Fatalf("expected 4 task_started, got %d", countType(events, stream.TypeTaskStarted))
	}
}

func TestRun_RetryThenRecover(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	runner := &fakeRunner{failures: map[string]int{"t1": 1}}
	o, _ := newTestOrchestrator(t, spec, p, runner)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	if countType(events, stream.TypeTaskStarted) != 1 {
		t.Errorf("retries must not re-emit task_started, got %d", countType(events, stream.TypeTaskStarted))
	}
	if countType(events, stream.TypeTaskCompleted) != 1 {
		t.Errorf("expected one task_completed, got %d", countType(events, stream.TypeTaskCompleted))
	}
	if countType(events, stream.TypeHumanGate) != 0 {
		t.Error("recovered task must not open a gate")
	}

	prompts := runner.prompts()
	if len(prompts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(prompts))
	}
	if !strings.Contains(prompts[1].UserPrompt, "button overlapped the list") {
		t.Error("second attempt should carry the failure context")
	}
}

func TestRun_RetriesExhaustedGateRejectRevision(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	runner := &fakeRunner{failures: map[string]int{"t1": 100}} // t1 never succeeds
	o, gates := newTestOrchestrator(t, spec, p, runner)

	respondToGateWhenOpen(t, gates, false, "Make buttons bigger")

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	gateIdx := firstIndex(events, func(e stream.Event) bool {
		return e.Type == stream.TypeHumanGate && e.Kind == gate.KindRetriesExhausted
	})
	if gateIdx < 0 {
		t.Fatalf("expected retries_exhausted gate; stream: %v", eventTypes(events))
	}

	var revision *planner.Task
	for _, task := range o.Tasks() {
		if strings.HasSuffix(task.ID, "-revision-1") {
			revision = task
		}
	}
	if revision == nil {
		t.Fatal("revision task missing from task list")
	}
	if !strings.Contains(revision.Description, "Make buttons bigger") {
		t.Errorf("revision description should carry the feedback, got %q", revision.Description)
	}
	if firstIndex(events, taskEvent(stream.TypeTaskCompleted, revision.ID)) < 0 {
		t.Error("revision task should reach task_completed")
	}
}

func TestRun_RetriesExhaustedGateApprove(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{
		Tasks:  []*planner.Task{simpleTask("t1"), simpleTask("t2", "t1")},
		Agents: builderAgents(),
	}}
	runner := &fakeRunner{failures: map[string]int{"t1": 100}}
	o, gates := newTestOrchestrator(t, spec, p, runner)

	respondToGateWhenOpen(t, gates, true, "")

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var t1, t2 *planner.Task
	for _, task := range o.Tasks() {
		switch task.ID {
		case "t1":
			t1 = task
		case "t2":
			t2 = task
		}
	}
	if t1.Status != planner.TaskFailed {
		t.Errorf("t1 = %s, want failed", t1.Status)
	}
	if t2.Status != planner.TaskBlocked {
		t.Errorf("t2 = %s, want blocked", t2.Status)
	}
}

func TestRun_Cycle(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{
		Tasks:  []*planner.Task{simpleTask("a", "b"), simpleTask("b", "a")},
		Agents: builderAgents(),
	}}
	o, _ := newTestOrchestrator(t, spec, p, &fakeRunner{})

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected cycle error from Run")
	}

	events := o.Stream().Events()
	if countType(events, stream.TypeError) != 1 {
		t.Fatalf("expected exactly one error event, got %v", eventTypes(events))
	}
	errIdx := firstIndex(events, byType(stream.TypeError))
	if !strings.Contains(strings.ToLower(events[errIdx].Message), "circular") {
		t.Errorf("error should mention circular, got %q", events[errIdx].Message)
	}
	if countType(events, stream.TypeTaskStarted) != 0 {
		t.Error("no task may start on a cyclic plan")
	}
	if countType(events, stream.TypeSessionComplete) != 0 {
		t.Error("cyclic plan must not reach session_complete")
	}
}

func TestRun_PlannerFailure(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{err: errors.New("planner unreachable")}
	o, _ := newTestOrchestrator(t, spec, p, &fakeRunner{})

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected planner error")
	}
	events := o.Stream().Events()
	if countType(events, stream.TypeTaskStarted) != 0 {
		t.Error("no tasks on planner failure")
	}
	errIdx := firstIndex(events, byType(stream.TypeError))
	if errIdx < 0 || !strings.Contains(events[errIdx].Message, "Planning failed") {
		t.Errorf("expected planning failure error, got %v", eventTypes(events))
	}
	if o.Phase() != PhaseDone {
		t.Errorf("phase = %s, want done", o.Phase())
	}
}

func TestRun_Cancel(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	runner := &fakeRunner{block: true}
	o, _ := newTestOrchestrator(t, spec, p, runner)

	done := make(chan error, 1)
	go func() { done <- o.Run(context.Background()) }()

	// Wait until the task is in flight, then cancel.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(runner.prompts()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	o.Cancel("Build stopped by user")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	events := o.Stream().Events()
	errIdx := firstIndex(events, byType(stream.TypeError))
	if errIdx < 0 {
		t.Fatalf("expected terminal error event; stream: %v", eventTypes(events))
	}
	e := events[errIdx]
	if e.Message != "Build stopped by user" || e.Recoverable {
		t.Errorf("unexpected terminal error: %+v", e)
	}
	if countType(events, stream.TypeSessionComplete) != 0 {
		t.Error("cancelled session must not emit session_complete")
	}
	if o.Phase() != PhaseDone {
		t.Errorf("phase = %s, want done", o.Phase())
	}

	// Cancel is idempotent once done.
	o.Cancel("again")
}

func TestRun_QuestionFlow(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	runner := &fakeRunner{questions: map[string]*agent.Question{
		"t1": {Prompt: "What color?", Schema: []byte(`{"type":"object"}`)},
	}}
	o, gates := newTestOrchestrator(t, spec, p, runner)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if q, ok := gates.PendingQuestion("sess-1"); ok {
				_ = gates.RespondToQuestion("sess-1", q.TaskID, []byte(`{"color":"blue"}`))
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	qIdx := firstIndex(events, byType(stream.TypeTaskQuestion))
	if qIdx < 0 || events[qIdx].Prompt != "What color?" {
		t.Fatalf("expected task_question event; stream: %v", eventTypes(events))
	}
	if firstIndex(events, taskEvent(stream.TypeTaskCompleted, "t1")) < 0 {
		t.Error("task should complete after the answer")
	}

	prompts := runner.prompts()
	last := prompts[len(prompts)-1]
	if !strings.Contains(string(last.Answers), "blue") {
		t.Error("answers should feed the follow-up turn")
	}
	if !strings.Contains(last.UserPrompt, `<user_input name="answers">`) {
		t.Error("answers block missing from the follow-up prompt")
	}
}

func TestRun_MidpointWorkflowGate(t *testing.T) {
	spec := &nugget.Spec{
		Nugget:   nugget.Nugget{Goal: "app"},
		Workflow: nugget.Workflow{HumanGates: []string{"design-check"}},
	}
	p := &fakePlanner{plan: &planner.Plan{
		Tasks:  []*planner.Task{simpleTask("t1"), simpleTask("t2", "t1")},
		Agents: builderAgents(),
	}}
	o, gates := newTestOrchestrator(t, spec, p, &fakeRunner{})

	respondToGateWhenOpen(t, gates, true, "")

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	gateIdx := firstIndex(events, func(e stream.Event) bool {
		return e.Type == stream.TypeHumanGate && e.Kind == "design-check"
	})
	if gateIdx < 0 {
		t.Fatalf("expected design-check gate; stream: %v", eventTypes(events))
	}
	// The gate fires at the midpoint: after t1 completes, before t2 starts.
	if gateIdx < firstIndex(events, taskEvent(stream.TypeTaskCompleted, "t1")) {
		t.Error("midpoint gate fired before half the tasks completed")
	}
	if gateIdx > firstIndex(events, taskEvent(stream.TypeTaskStarted, "t2")) {
		t.Error("midpoint gate fired after the second half started")
	}
	if countType(events, stream.TypeSessionComplete) != 1 {
		t.Error("approved gate should let the session finish")
	}
}

func TestRun_TestingPhase(t *testing.T) {
	spec := &nugget.Spec{
		Nugget:   nugget.Nugget{Goal: "app"},
		Workflow: nugget.Workflow{TestingEnabled: true},
	}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	gates := gate.NewStore()
	o := New("sess-1", spec, t.TempDir(), testConfig(), Deps{
		Planner: p,
		Runner:  &fakeRunner{},
		Git:     fakeGit{},
		Tests: &fakeTests{report: &testrunner.Report{
			Results:  []testrunner.Result{{Name: "renders list", Passed: true}, {Name: "adds item", Passed: false, Details: "timeout"}},
			Coverage: 81.5,
		}},
		Gates:  gates,
		Logger: logger.Default(),
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	events := o.Stream().Events()
	if countType(events, stream.TypeTestResult) != 2 {
		t.Errorf("expected 2 test_result events, got %d", countType(events, stream.TypeTestResult))
	}
	if firstIndex(events, func(e stream.Event) bool { return e.Type == stream.TypeCoverageUpdate && e.Percentage == 81.5 }) < 0 {
		t.Error("coverage_update missing")
	}
	report := o.TestReport()
	if report == nil || report.Passed() {
		t.Error("report should record the failing test")
	}
}

type fakeHardware struct {
	compileErr error
	flashed    bool
}

func (f *fakeHardware) Compile(context.Context, string, *hardware.Device) error {
	return f.compileErr
}

func (f *fakeHardware) Flash(context.Context, *hardware.Device) error {
	f.flashed = true
	return nil
}

func newHardwareOrchestrator(t *testing.T, hw *fakeHardware) *Orchestrator {
	t.Helper()
	spec := &nugget.Spec{
		Nugget:   nugget.Nugget{Goal: "blinking led", Type: "hardware"},
		Workflow: nugget.Workflow{DeploymentTarget: "esp32"},
	}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("firmware")}, Agents: builderAgents()}}
	return New("sess-1", spec, t.TempDir(), testConfig(), Deps{
		Planner:  p,
		Runner:   &fakeRunner{},
		Git:      fakeGit{},
		Tests:    &fakeTests{},
		Hardware: hw,
		Devices:  &hardware.Registry{Devices: []hardware.Device{{Name: "bench", Type: "esp32", Port: "/dev/ttyUSB0"}}},
		Gates:    gate.NewStore(),
		Logger:   logger.Default(),
	})
}

func TestRun_HardwareDeploy(t *testing.T) {
	hw := &fakeHardware{}
	o := newHardwareOrchestrator(t, hw)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !hw.flashed {
		t.Error("device should be flashed")
	}

	events := o.Stream().Events()
	dIdx := firstIndex(events, func(e stream.Event) bool {
		return e.Type == stream.TypeDeployStarted && e.Target == "esp32"
	})
	if dIdx < 0 {
		t.Fatalf("expected esp32 deploy_started; stream: %v", eventTypes(events))
	}
	if firstIndex(events, byType(stream.TypeDeployComplete)) < dIdx {
		t.Error("deploy_complete must follow deploy_started")
	}
	if countType(events, stream.TypeSessionComplete) != 1 {
		t.Error("expected session_complete")
	}
}

func TestRun_CompileFailure(t *testing.T) {
	hw := &fakeHardware{compileErr: &hardware.CompileError{Detail: "led.ino:3: expected ';'"}}
	o := newHardwareOrchestrator(t, hw)

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected compile error from Run")
	}
	if hw.flashed {
		t.Error("a failed compile must not flash")
	}

	events := o.Stream().Events()
	errIdx := firstIndex(events, byType(stream.TypeError))
	if errIdx < 0 {
		t.Fatalf("expected error event; stream: %v", eventTypes(events))
	}
	if !strings.HasPrefix(events[errIdx].Message, "Compilation failed: ") {
		t.Errorf("message = %q, want Compilation failed prefix", events[errIdx].Message)
	}
	if countType(events, stream.TypeSessionComplete) != 0 {
		t.Error("failed deploy must not emit session_complete")
	}
}

func TestTasks_SnapshotSafeDuringRun(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{
		Tasks:  []*planner.Task{simpleTask("t1"), simpleTask("t2", "t1")},
		Agents: builderAgents(),
	}}
	runner := &fakeRunner{failures: map[string]int{"t1": 1, "t2": 1}} // exercise retry bookkeeping
	o, _ := newTestOrchestrator(t, spec, p, runner)

	// Encode task snapshots continuously while the run mutates them.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := json.Marshal(o.Tasks()); err != nil {
				t.Errorf("marshal failed: %v", err)
				return
			}
		}
	}()

	err := o.Run(context.Background())
	close(stop)
	wg.Wait()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, task := range o.Tasks() {
		if task.Status != planner.TaskCompleted {
			t.Errorf("task %s = %s, want completed", task.ID, task.Status)
		}
		if task.Retries != 1 {
			t.Errorf("task %s retries = %d, want 1", task.ID, task.Retries)
		}
		if task.Summary == "" {
			t.Errorf("task %s summary missing", task.ID)
		}
	}
}

// questionLoopRunner raises a question on every turn, no matter the answers.
type questionLoopRunner struct {
	mu    sync.Mutex
	turns int
}

func (r *questionLoopRunner) RunTurn(_ context.Context, _ *agent.TurnRequest) (*agent.TurnResult, error) {
	r.mu.Lock()
	r.turns++
	r.mu.Unlock()
	return &agent.TurnResult{Question: &agent.Question{Prompt: "What next?"}}, nil
}

func (r *questionLoopRunner) turnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.turns
}

func TestRun_QuestionLoopExhaustsRetries(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	p := &fakePlanner{plan: &planner.Plan{Tasks: []*planner.Task{simpleTask("t1")}, Agents: builderAgents()}}
	runner := &questionLoopRunner{}
	o, gates := newTestOrchestrator(t, spec, p, runner)

	// Answer every question and approve the terminal gate.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if q, ok := gates.PendingQuestion("sess-1"); ok {
				_ = gates.RespondToQuestion("sess-1", q.TaskID, []byte(`{"go":"on"}`))
			}
			if _, ok := gates.PendingGate("sess-1"); ok {
				_ = gates.RespondToGate("sess-1", true, "")
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	err := o.Run(context.Background())
	close(done)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Each of the 3 attempts allows 3 answered questions; the 4th question
	// forfeits the attempt. The loop must terminate at 12 turns.
	if turns := runner.turnCount(); turns != 12 {
		t.Errorf("turns = %d, want 12", turns)
	}

	tasks := o.Tasks()
	if len(tasks) != 1 || tasks[0].Status != planner.TaskFailed {
		t.Fatalf("task should fail terminally, got %+v", tasks)
	}
	if !strings.Contains(tasks[0].Summary, "asking questions") {
		t.Errorf("summary = %q, want the question-loop reason", tasks[0].Summary)
	}
}

func TestRun_SessionCompleteIsLastWithHealthBus(t *testing.T) {
	spec := &nugget.Spec{Nugget: nugget.Nugget{Goal: "app"}}
	var tasks []*planner.Task
	for i := 1; i <= 6; i++ {
		tasks = append(tasks, simpleTask(fmt.Sprintf("t%d", i)))
	}
	p := &fakePlanner{plan: &planner.Plan{Tasks: tasks, Agents: builderAgents()}}

	// A live bus makes every task completion publish a health sample whose
	// forwarder runs on its own goroutine.
	o := New("sess-1", spec, t.TempDir(), testConfig(), Deps{
		Planner: p,
		Runner:  &fakeRunner{},
		Git:     fakeGit{},
		Tests:   &fakeTests{},
		Gates:   gate.NewStore(),
		Bus:     bus.NewMemoryEventBus(logger.Default()),
		Logger:  logger.Default(),
	})

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	evs := o.Stream().Events()
	if len(evs) == 0 {
		t.Fatal("no events emitted")
	}
	if last := evs[len(evs)-1].Type; last != stream.TypeSessionComplete {
		t.Fatalf("last event = %s, want %s (%v)", last, stream.TypeSessionComplete, eventTypes(evs))
	}
	sumIdx := firstIndex(evs, func(e stream.Event) bool { return e.Type == stream.TypeSystemHealthSummary })
	if sumIdx < 0 {
		t.Fatal("missing system_health_summary")
	}
	for _, e := range evs[sumIdx:] {
		if e.Type == stream.TypeSystemHealthUpdate {
			t.Fatalf("health update after the final summary (%v)", eventTypes(evs))
		}
	}
}
