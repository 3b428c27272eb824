package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/nugget"
	"go.uber.org/zap"
)

// HTTPClient calls an external planner over REST.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *logger.Logger
}

// NewHTTPClient creates a planner client for the given endpoint.
func NewHTTPClient(url string, timeout time.Duration, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: log.WithFields(zap.String("component", "planner-client")),
	}
}

type planRequest struct {
	Spec *nugget.Spec `json:"spec"`
}

// Plan posts the spec to the planner and decodes the returned plan.
func (c *HTTPClient) Plan(ctx context.Context, spec *nugget.Spec) (*Plan, error) {
	body, err := json.Marshal(planRequest{Spec: spec})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build plan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("planner request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("planner returned status %d: %s", resp.StatusCode, string(data))
	}

	var plan Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}

	Normalize(&plan)
	c.logger.Info("plan received",
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("agents", len(plan.Agents)))
	return &plan, nil
}
