package gitlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/elisa-dev/elisa/internal/common/logger"
	"go.uber.org/zap"
)

// CLIService shells out to the git binary. Commit metadata (agent, task) is
// kept in memory per directory since trailers are not needed elsewhere.
type CLIService struct {
	logger *logger.Logger

	mu   sync.Mutex
	logs map[string][]Commit // dir -> commits, oldest first
}

// NewCLIService creates a git service backed by the git CLI.
func NewCLIService(log *logger.Logger) *CLIService {
	return &CLIService{
		logger: log.WithFields(zap.String("component", "git")),
		logs:   make(map[string][]Commit),
	}
}

func (s *CLIService) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Elisa",
		"GIT_AUTHOR_EMAIL=elisa@localhost",
		"GIT_COMMITTER_NAME=Elisa",
		"GIT_COMMITTER_EMAIL=elisa@localhost",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), fmt.Errorf("git %s failed: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// EnsureRepo initializes a repository in dir if none exists.
func (s *CLIService) EnsureRepo(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
		return nil
	}
	if _, err := s.run(ctx, dir, "init"); err != nil {
		return err
	}
	s.logger.Debug("initialized git repository", zap.String("dir", dir))
	return nil
}

// CommitAll stages everything and commits.
func (s *CLIService) CommitAll(ctx context.Context, dir, message, agentName, taskID string) (string, error) {
	if _, err := s.run(ctx, dir, "add", "-A"); err != nil {
		return "", err
	}

	status, err := s.run(ctx, dir, "status", "--porcelain")
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", nil // nothing to commit
	}

	if _, err := s.run(ctx, dir, "commit", "-m", message); err != nil {
		return "", err
	}
	sha, err := s.run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.logs[dir] = append(s.logs[dir], Commit{SHA: sha, Message: message, AgentName: agentName, TaskID: taskID})
	s.mu.Unlock()
	return sha, nil
}

// Log returns the commits recorded for dir, oldest first.
func (s *CLIService) Log(ctx context.Context, dir string) ([]Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Commit(nil), s.logs[dir]...), nil
}
