package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/orchestrator/stream"
	"github.com/elisa-dev/elisa/internal/planner"
)

// commitTask records the task's workspace changes as one commit and emits
// commit_created ahead of task_completed. An empty SHA means the task left
// the workspace untouched.
func (o *Orchestrator) commitTask(ctx context.Context, task *planner.Task) {
	message := fmt.Sprintf("%s: %s", task.AgentName, task.Name)
	sha, err := o.deps.Git.CommitAll(ctx, o.workspaceDir, message, task.AgentName, task.ID)
	if err != nil {
		o.logger.Warn("failed to commit task output",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if sha == "" {
		return
	}
	o.stream.Emit(stream.CommitCreated(sha, task.AgentName, task.ID))
}
