// Package gitlog provides the narrow git interface the orchestrator needs:
// initializing a workspace repository, committing task output, and reading
// back the commit log.
package gitlog

import "context"

// Commit is one entry in a session's commit log.
type Commit struct {
	SHA       string `json:"sha"`
	Message   string `json:"message"`
	AgentName string `json:"agent_name"`
	TaskID    string `json:"task_id"`
}

// Service is the git surface consumed by the orchestrator.
type Service interface {
	// EnsureRepo initializes a repository in dir if none exists.
	EnsureRepo(ctx context.Context, dir string) error

	// CommitAll stages everything and commits. It returns the new SHA, or
	// an empty SHA with nil error when there was nothing to commit.
	CommitAll(ctx context.Context, dir, message, agentName, taskID string) (string, error)

	// Log returns the commits recorded for dir, oldest first.
	Log(ctx context.Context, dir string) ([]Commit, error)
}
