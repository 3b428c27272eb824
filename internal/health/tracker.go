// Package health scores a session's build health from task, retry, and test
// outcomes, and publishes periodic samples onto the event bus.
package health

import (
	"context"
	"sync"

	"github.com/elisa-dev/elisa/internal/common/logger"
	"github.com/elisa-dev/elisa/internal/events"
	"github.com/elisa-dev/elisa/internal/events/bus"
	"go.uber.org/zap"
)

// Summary is the final health report for a session.
type Summary struct {
	HealthScore float64        `json:"health_score"`
	Grade       string         `json:"grade"`
	Breakdown   map[string]int `json:"breakdown"`
}

// Tracker accumulates per-session health signals.
type Tracker struct {
	sessionID string
	bus       bus.EventBus
	logger    *logger.Logger

	mu            sync.Mutex
	tasksDone     int
	tasksFailed   int
	retries       int
	testsPassed   int
	testsFailed   int
}

// NewTracker creates a tracker publishing onto the bus for one session.
func NewTracker(sessionID string, eventBus bus.EventBus, log *logger.Logger) *Tracker {
	return &Tracker{
		sessionID: sessionID,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "health"), zap.String("session_id", sessionID)),
	}
}

// RecordTaskCompleted notes a successful task and publishes a sample.
func (t *Tracker) RecordTaskCompleted(ctx context.Context) {
	t.mu.Lock()
	t.tasksDone++
	t.mu.Unlock()
	t.publish(ctx)
}

// RecordTaskFailed notes a terminally failed task and publishes a sample.
func (t *Tracker) RecordTaskFailed(ctx context.Context) {
	t.mu.Lock()
	t.tasksFailed++
	t.mu.Unlock()
	t.publish(ctx)
}

// RecordRetry notes a retried attempt.
func (t *Tracker) RecordRetry() {
	t.mu.Lock()
	t.retries++
	t.mu.Unlock()
}

// RecordTestResult notes one test outcome.
func (t *Tracker) RecordTestResult(passed bool) {
	t.mu.Lock()
	if passed {
		t.testsPassed++
	} else {
		t.testsFailed++
	}
	t.mu.Unlock()
}

func (t *Tracker) publish(ctx context.Context) {
	if t.bus == nil {
		return
	}
	summary := t.Summary()
	event := bus.NewEvent(events.HealthUpdated, "health-tracker", map[string]interface{}{
		"session_id":   t.sessionID,
		"health_score": summary.HealthScore,
		"grade":        summary.Grade,
		"breakdown":    summary.Breakdown,
	})
	if err := t.bus.Publish(ctx, events.BuildHealthUpdatedSubject(t.sessionID), event); err != nil {
		t.logger.Warn("failed to publish health update", zap.Error(err))
	}
}

// Summary computes the current health score and grade.
// Scoring: start at 100; each failed task costs 25, each retry 5, each
// failed test 10. Floor at 0.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	score := 100.0
	score -= float64(t.tasksFailed) * 25
	score -= float64(t.retries) * 5
	score -= float64(t.testsFailed) * 10
	if score < 0 {
		score = 0
	}

	return Summary{
		HealthScore: score,
		Grade:       gradeFor(score),
		Breakdown: map[string]int{
			"tasks_completed": t.tasksDone,
			"tasks_failed":    t.tasksFailed,
			"retries":         t.retries,
			"tests_passed":    t.testsPassed,
			"tests_failed":    t.testsFailed,
		},
	}
}

func gradeFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}
