// Package budget tracks per-session token consumption with reservations for
// planned but not-yet-consumed work.
package budget

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultMaxBudget is the effective token ceiling when none is configured.
const DefaultMaxBudget = 500000

// warnThreshold is the fraction of the budget at which the one-shot warning fires.
const warnThreshold = 0.8

// AgentUsage holds per-agent token counters.
type AgentUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Snapshot is a point-in-time copy of the budget state.
type Snapshot struct {
	ActualInput  int                   `json:"actual_input"`
	ActualOutput int                   `json:"actual_output"`
	Reserved     int                   `json:"reserved"`
	Effective    int                   `json:"effective"`
	MaxBudget    int                   `json:"max_budget"`
	CostUSD      float64               `json:"cost_usd"`
	PerAgent     map[string]AgentUsage `json:"per_agent"`
}

// Budget tracks actual and reserved tokens for one session.
// The effective total (actual + reserved) is what scheduling checks against.
type Budget struct {
	mu           sync.Mutex
	maxBudget    int
	actualInput  int
	actualOutput int
	reserved     int
	costUSD      float64
	warned80     bool
	perAgent     map[string]AgentUsage
}

// New creates a budget with the given ceiling (DefaultMaxBudget if <= 0).
func New(maxBudget int) *Budget {
	if maxBudget <= 0 {
		maxBudget = DefaultMaxBudget
	}
	return &Budget{
		maxBudget: maxBudget,
		perAgent:  make(map[string]AgentUsage),
	}
}

// Reserve adds tokens to the reservation pool before a task is dispatched.
func (b *Budget) Reserve(tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.reserved += tokens
	b.mu.Unlock()
}

// Release removes a prior reservation. Reserved never drops below zero.
func (b *Budget) Release(tokens int) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	b.reserved -= tokens
	if b.reserved < 0 {
		b.reserved = 0
	}
	b.mu.Unlock()
}

// AddUsage records actual consumption for an agent and returns true exactly
// once, the first time the effective total crosses 80% of the budget.
func (b *Budget) AddUsage(agentName string, inputTokens, outputTokens int, costUSD float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.actualInput += inputTokens
	b.actualOutput += outputTokens
	b.costUSD += costUSD

	usage := b.perAgent[agentName]
	usage.InputTokens += inputTokens
	usage.OutputTokens += outputTokens
	b.perAgent[agentName] = usage

	if b.warned80 {
		return false
	}
	if float64(b.effectiveLocked()) >= warnThreshold*float64(b.maxBudget) {
		b.warned80 = true
		return true
	}
	return false
}

func (b *Budget) effectiveLocked() int {
	return b.actualInput + b.actualOutput + b.reserved
}

// Effective returns actual + reserved tokens.
func (b *Budget) Effective() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveLocked()
}

// Exceeded reports whether the effective total has reached the ceiling.
func (b *Budget) Exceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.effectiveLocked() >= b.maxBudget
}

// Get returns a snapshot of the current state.
func (b *Budget) Get() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	perAgent := make(map[string]AgentUsage, len(b.perAgent))
	for name, usage := range b.perAgent {
		perAgent[name] = usage
	}
	return Snapshot{
		ActualInput:  b.actualInput,
		ActualOutput: b.actualOutput,
		Reserved:     b.reserved,
		Effective:    b.effectiveLocked(),
		MaxBudget:    b.maxBudget,
		CostUSD:      b.costUSD,
		PerAgent:     perAgent,
	}
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of a prompt. It uses the
// cl100k_base encoding when available and falls back to a bytes/4 heuristic
// when the encoding cannot be loaded (e.g. offline).
func EstimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}
