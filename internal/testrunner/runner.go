// Package testrunner defines the test phase contract.
package testrunner

import "context"

// Result is one test's outcome.
type Result struct {
	Name    string `json:"test_name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details,omitempty"`
}

// Report is the full outcome of a test run.
type Report struct {
	Results  []Result `json:"results"`
	Coverage float64  `json:"coverage"` // percentage, 0 when unknown
}

// Passed reports whether every test in the report passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

// Runner executes the workspace's behavioral tests.
type Runner interface {
	// HasTests reports whether the workspace contains runnable tests.
	HasTests(ctx context.Context, dir string) bool

	// Run executes the tests and returns a report.
	Run(ctx context.Context, dir string) (*Report, error)
}
