// Package dag holds the task dependency graph for one session.
package dag

import (
	"errors"
	"fmt"
	"sync"

	"github.com/elisa-dev/elisa/internal/planner"
)

// Common errors
var (
	ErrUnknownTask   = errors.New("task not found in graph")
	ErrDuplicateTask = errors.New("task id already present in graph")
)

// CycleError reports a circular dependency in planner output.
type CycleError struct {
	Tasks []string // ids of tasks on or reachable only through the cycle
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency involving tasks %v", e.Tasks)
}

// Graph holds tasks and their dependency edges. Edges point
// dependency -> dependent. All methods are safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*planner.Task
	order      []string            // insertion order, for stable iteration
	dependents map[string][]string // dep id -> dependent ids
}

// New builds a graph from planned tasks. Edge endpoints must reference
// existing task ids.
func New(tasks []*planner.Task) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*planner.Task, len(tasks)),
		dependents: make(map[string][]string),
	}
	for _, t := range tasks {
		if _, exists := g.tasks[t.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on unknown task %s", ErrUnknownTask, t.ID, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
	}
	return g, nil
}

// CheckCycles runs Kahn's algorithm and returns a CycleError if any task is
// unreachable from the sources.
func (g *Graph) CheckCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	indegree := make(map[string]int, len(g.tasks))
	for id, t := range g.tasks {
		indegree[id] = len(t.DependsOn)
	}

	queue := make([]string, 0, len(g.tasks))
	for _, id := range g.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited == len(g.tasks) {
		return nil
	}

	var cyclic []string
	for _, id := range g.order {
		if indegree[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	return &CycleError{Tasks: cyclic}
}

// Ready returns pending tasks whose dependencies are all completed, in
// insertion order.
func (g *Graph) Ready() []*planner.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*planner.Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status != planner.TaskPending {
			continue
		}
		if g.depsCompletedLocked(t) {
			ready = append(ready, t)
		}
	}
	return ready
}

func (g *Graph) depsCompletedLocked(t *planner.Task) bool {
	for _, dep := range t.DependsOn {
		if g.tasks[dep].Status != planner.TaskCompleted {
			return false
		}
	}
	return true
}

// Get returns a task by id.
func (g *Graph) Get(id string) (*planner.Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	return t, ok
}

// SetStatus updates a task's status.
func (g *Graph) SetStatus(id string, status planner.TaskStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	t.Status = status
	return nil
}

// RecordRetry increments a task's retry count and returns the new value.
func (g *Graph) RecordRetry(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return 0
	}
	t.Retries++
	return t.Retries
}

// SetSummary records the latest attempt summary for a task.
func (g *Graph) SetSummary(id, summary string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.tasks[id]; ok {
		t.Summary = summary
	}
}

// MarkFailedTerminal marks a task failed and flags every transitive dependent
// as blocked. Blocked tasks are never dispatched.
func (g *Graph) MarkFailedTerminal(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return
	}
	t.Status = planner.TaskFailed
	g.blockDependentsLocked(id)
}

func (g *Graph) blockDependentsLocked(id string) {
	for _, dep := range g.dependents[id] {
		t := g.tasks[dep]
		if t.Status == planner.TaskPending {
			t.Status = planner.TaskBlocked
			g.blockDependentsLocked(dep)
		}
	}
}

// InsertRevision adds a revision task as a successor of a failed task.
// The revision inherits the failed task's dependencies (already satisfied)
// and takes over its dependents, so completing the revision unblocks them.
func (g *Graph) InsertRevision(failedID string, revision *planner.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	failed, ok := g.tasks[failedID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, failedID)
	}
	if _, exists := g.tasks[revision.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, revision.ID)
	}

	failed.Status = planner.TaskFailed
	revision.Status = planner.TaskPending
	revision.DependsOn = append([]string(nil), failed.DependsOn...)

	g.tasks[revision.ID] = revision
	g.order = append(g.order, revision.ID)
	for _, dep := range revision.DependsOn {
		g.dependents[dep] = append(g.dependents[dep], revision.ID)
	}

	// Rewire dependents of the failed task onto the revision. Tasks that were
	// already blocked by the failure become pending again.
	for _, depID := range g.dependents[failedID] {
		if depID == revision.ID {
			continue
		}
		t := g.tasks[depID]
		for i, dep := range t.DependsOn {
			if dep == failedID {
				t.DependsOn[i] = revision.ID
			}
		}
		if t.Status == planner.TaskBlocked {
			t.Status = planner.TaskPending
		}
		g.dependents[revision.ID] = append(g.dependents[revision.ID], depID)
	}
	g.dependents[failedID] = nil
	return nil
}

// Done reports whether no task can make further progress: every task is
// completed, failed, or blocked.
func (g *Graph) Done() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, t := range g.tasks {
		switch t.Status {
		case planner.TaskCompleted, planner.TaskFailed, planner.TaskBlocked:
		default:
			return false
		}
	}
	return true
}

// Counts returns (total, completed) task counts.
func (g *Graph) Counts() (int, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	completed := 0
	for _, t := range g.tasks {
		if t.Status == planner.TaskCompleted {
			completed++
		}
	}
	return len(g.tasks), completed
}

// Tasks returns the tasks in insertion order.
func (g *Graph) Tasks() []*planner.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*planner.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Snapshot returns deep copies of the tasks in insertion order, safe to hand
// to an encoder while workers keep mutating the graph.
func (g *Graph) Snapshot() []*planner.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*planner.Task, 0, len(g.order))
	for _, id := range g.order {
		c := *g.tasks[id]
		c.AcceptanceCriteria = append([]string(nil), c.AcceptanceCriteria...)
		c.DependsOn = append([]string(nil), c.DependsOn...)
		out = append(out, &c)
	}
	return out
}

// DirectDeps returns a task's direct dependency ids.
func (g *Graph) DirectDeps(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	return append([]string(nil), t.DependsOn...)
}

// TransitiveDeps returns all transitive dependency ids of a task in
// breadth-first order, direct dependencies first, without duplicates.
func (g *Graph) TransitiveDeps(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, ok := g.tasks[id]
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var order []string
	queue := append([]string(nil), t.DependsOn...)
	for len(queue) > 0 {
		dep := queue[0]
		queue = queue[1:]
		if seen[dep] {
			continue
		}
		seen[dep] = true
		order = append(order, dep)
		if dt, ok := g.tasks[dep]; ok {
			queue = append(queue, dt.DependsOn...)
		}
	}
	return order
}
