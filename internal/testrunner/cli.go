package testrunner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/elisa-dev/elisa/internal/common/logger"
)

// CLIRunner runs the workspace's npm test script. Most kid projects are
// node-based web apps; anything without a test script is treated as having
// no tests.
type CLIRunner struct {
	logger *logger.Logger
}

// NewCLIRunner creates a test runner shelling out to npm.
func NewCLIRunner(log *logger.Logger) *CLIRunner {
	return &CLIRunner{logger: log.WithFields(zap.String("component", "testrunner"))}
}

// HasTests reports whether package.json declares a test script.
func (r *CLIRunner) HasTests(_ context.Context, dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	script, ok := pkg.Scripts["test"]
	return ok && script != "" && !strings.Contains(script, "no test specified")
}

// Run executes npm test and parses the output into per-test results. Lines
// matching the common "✓ name" / "✗ name" reporter shapes become individual
// results; otherwise the whole run is reported as one result.
func (r *CLIRunner) Run(ctx context.Context, dir string) (*Report, error) {
	cmd := exec.CommandContext(ctx, "npm", "test", "--silent")
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	report := parseOutput(out.String())
	if len(report.Results) == 0 {
		report.Results = []Result{{
			Name:    "npm test",
			Passed:  runErr == nil,
			Details: tail(out.String(), 2000),
		}}
	}
	if runErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	r.logger.Info("test run finished",
		zap.Int("results", len(report.Results)), zap.Bool("passed", report.Passed()))
	return report, nil
}

func parseOutput(output string) *Report {
	report := &Report{}
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "✓ "), strings.HasPrefix(line, "PASS "):
			report.Results = append(report.Results, Result{Name: strings.TrimLeft(line, "✓PASS "), Passed: true})
		case strings.HasPrefix(line, "✗ "), strings.HasPrefix(line, "✕ "), strings.HasPrefix(line, "FAIL "):
			report.Results = append(report.Results, Result{Name: strings.TrimLeft(line, "✗✕FAIL "), Passed: false, Details: line})
		case strings.Contains(line, "All files") && strings.Contains(line, "%"):
			// istanbul-style coverage summary row
			if pct := extractPercent(line); pct > 0 {
				report.Coverage = pct
			}
		}
	}
	return report
}

func extractPercent(line string) float64 {
	fields := strings.Split(line, "|")
	if len(fields) < 2 {
		return 0
	}
	pct, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0
	}
	return pct
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
