package dag

import (
	"strings"
	"testing"

	"github.com/elisa-dev/elisa/internal/planner"
)

func task(id string, deps ...string) *planner.Task {
	return &planner.Task{ID: id, Name: id, Status: planner.TaskPending, DependsOn: deps}
}

func diamond() *Graph {
	g, err := New([]*planner.Task{
		task("t1"),
		task("t2", "t1"),
		task("t3", "t1"),
		task("t4", "t2", "t3"),
	})
	if err != nil {
		panic(err)
	}
	return g
}

func TestNew_UnknownDependency(t *testing.T) {
	_, err := New([]*planner.Task{task("a", "ghost")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestCheckCycles(t *testing.T) {
	g, err := New([]*planner.Task{task("a", "b"), task("b", "a")})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	err = g.CheckCycles()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "circular") {
		t.Errorf("cycle error should mention circular, got %q", err.Error())
	}
}

func TestCheckCycles_CleanGraph(t *testing.T) {
	if err := diamond().CheckCycles(); err != nil {
		t.Fatalf("unexpected cycle: %v", err)
	}
}

func TestReady_RespectsDependencies(t *testing.T) {
	g := diamond()

	ready := g.Ready()
	if len(ready) != 1 || ready[0].ID != "t1" {
		t.Fatalf("expected only t1 ready, got %v", ids(ready))
	}

	_ = g.SetStatus("t1", planner.TaskCompleted)
	ready = g.Ready()
	if len(ready) != 2 || ready[0].ID != "t2" || ready[1].ID != "t3" {
		t.Fatalf("expected t2,t3 ready in order, got %v", ids(ready))
	}

	_ = g.SetStatus("t2", planner.TaskCompleted)
	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "t3" {
		t.Fatalf("expected only t3 ready, got %v", ids(ready))
	}

	_ = g.SetStatus("t3", planner.TaskCompleted)
	ready = g.Ready()
	if len(ready) != 1 || ready[0].ID != "t4" {
		t.Fatalf("expected t4 ready, got %v", ids(ready))
	}
}

func TestMarkFailedTerminal_BlocksDependents(t *testing.T) {
	g := diamond()
	_ = g.SetStatus("t1", planner.TaskCompleted)
	g.MarkFailedTerminal("t2")

	t4, _ := g.Get("t4")
	if t4.Status != planner.TaskBlocked {
		t.Errorf("t4 should be blocked, got %s", t4.Status)
	}
	t3, _ := g.Get("t3")
	if t3.Status != planner.TaskPending {
		t.Errorf("t3 should stay pending, got %s", t3.Status)
	}
	if g.Done() {
		t.Error("graph is not done while t3 is pending")
	}
}

func TestInsertRevision_TakesOverDependents(t *testing.T) {
	g := diamond()
	_ = g.SetStatus("t1", planner.TaskCompleted)
	g.MarkFailedTerminal("t2")

	rev := &planner.Task{ID: "t2-revision-1", Name: "t2 fix"}
	if err := g.InsertRevision("t2", rev); err != nil {
		t.Fatalf("InsertRevision failed: %v", err)
	}

	// Revision inherits the satisfied deps, so it is ready alongside t3.
	ready := ids(g.Ready())
	if len(ready) != 2 {
		t.Fatalf("expected t3 and revision ready, got %v", ready)
	}

	_ = g.SetStatus("t3", planner.TaskCompleted)
	_ = g.SetStatus("t2-revision-1", planner.TaskCompleted)

	ready = ids(g.Ready())
	if len(ready) != 1 || ready[0] != "t4" {
		t.Fatalf("completing the revision should unblock t4, got %v", ready)
	}
}

func TestDone(t *testing.T) {
	g := diamond()
	if g.Done() {
		t.Error("fresh graph is not done")
	}
	for _, id := range []string{"t1", "t2", "t3", "t4"} {
		_ = g.SetStatus(id, planner.TaskCompleted)
	}
	if !g.Done() {
		t.Error("all-completed graph is done")
	}
}

func TestTransitiveDeps_DirectFirst(t *testing.T) {
	g := diamond()
	deps := g.TransitiveDeps("t4")
	if len(deps) != 3 {
		t.Fatalf("expected 3 deps, got %v", deps)
	}
	if deps[0] != "t2" || deps[1] != "t3" || deps[2] != "t1" {
		t.Errorf("expected direct deps first, got %v", deps)
	}
}

func ids(tasks []*planner.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestRecordRetryAndSetSummary(t *testing.T) {
	g := diamond()
	if n := g.RecordRetry("t1"); n != 1 {
		t.Errorf("first retry = %d, want 1", n)
	}
	if n := g.RecordRetry("t1"); n != 2 {
		t.Errorf("second retry = %d, want 2", n)
	}
	if n := g.RecordRetry("nope"); n != 0 {
		t.Errorf("unknown task retry = %d, want 0", n)
	}

	g.SetSummary("t1", "added the button")
	got, _ := g.Get("t1")
	if got.Summary != "added the button" {
		t.Errorf("summary = %q", got.Summary)
	}
}

func TestSnapshot_IsolatedFromGraph(t *testing.T) {
	g := diamond()
	g.SetSummary("t1", "before")

	snap := g.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("snapshot has %d tasks, want 4", len(snap))
	}
	if snap[0].ID != "t1" || snap[0].Summary != "before" {
		t.Fatalf("unexpected first task: %+v", snap[0])
	}

	// Mutating the snapshot must not leak into the graph, and vice versa.
	snap[0].Summary = "scribbled"
	snap[3].DependsOn[0] = "bogus"
	live, _ := g.Get("t1")
	if live.Summary != "before" {
		t.Error("snapshot write leaked into the graph")
	}
	t4, _ := g.Get("t4")
	if t4.DependsOn[0] != "t2" {
		t.Error("snapshot slice aliases the graph's")
	}

	g.SetSummary("t1", "after")
	if snap[0].Summary == "after" {
		t.Error("graph write leaked into the snapshot")
	}
}
