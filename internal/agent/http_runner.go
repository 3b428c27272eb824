package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/elisa-dev/elisa/internal/common/logger"
	"go.uber.org/zap"
)

// HTTPRunner drives agents through the runtime REST API.
type HTTPRunner struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

// NewHTTPRunner creates a runner client. Per-attempt timeouts come from the
// caller's context, not the HTTP client, so cancellation propagates.
func NewHTTPRunner(baseURL string, log *logger.Logger) *HTTPRunner {
	return &HTTPRunner{
		baseURL: baseURL,
		client:  &http.Client{},
		logger:  log.WithFields(zap.String("component", "agent-runner")),
	}
}

// RunTurn posts the turn request to the runtime and decodes the result.
func (r *HTTPRunner) RunTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal turn request: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/turns", r.baseURL, req.AgentName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build turn request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent turn request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("agent runtime returned status %d: %s", resp.StatusCode, string(data))
	}

	var result TurnResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode turn result: %w", err)
	}

	r.logger.Debug("agent turn finished",
		zap.String("task_id", req.TaskID),
		zap.String("agent_name", req.AgentName),
		zap.Bool("success", result.Success))
	return &result, nil
}
