package testrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/runbox/internal/sandbox"
)

// pytest exit codes. 0 and 1 both mean the run completed; 5 means nothing
// was collected, which is a valid empty run, not a failure.
const (
	pytestExitOK          = 0
	pytestExitTestsFailed = 1
	pytestExitNoTests     = 5
)

type pytestAdapter struct {
	logger *slog.Logger
}

func (a *pytestAdapter) Framework() Framework { return Pytest }

// Run executes pytest once per test directory with the json-report plugin
// writing to a file under the sandbox tmp dir, then parses the reports into
// the unified schema.
func (a *pytestAdapter) Run(ctx context.Context, exec *sandbox.Manager, t Target, testDirs []string) Result {
	pytestPath := resolveTool(t, "pytest")
	if pytestPath == "" {
		return errorResult(Pytest, "pytest not found in environment")
	}

	results := runPerDir(ctx, testDirs, func(ctx context.Context, dir string, slot int) Result {
		reportPath := filepath.Join(t.Sandbox.TmpDir, fmt.Sprintf("pytest-report-%d.json", slot))
		argv := []string{
			pytestPath, "-vv", "--no-header",
			"--json-report", "--json-report-file=" + reportPath,
			dir,
		}

		res, err := exec.Exec(ctx, t.Sandbox, argv, nil)
		if err != nil {
			return errorResult(Pytest, fmt.Sprintf("pytest failed to run: %v", err))
		}

		switch res.ExitCode {
		case pytestExitOK, pytestExitTestsFailed:
			// Completed; the report holds the outcome.
		case pytestExitNoTests:
			return emptyResult(Pytest)
		default:
			return errorResult(Pytest, fmt.Sprintf("pytest exited %d: %s",
				res.ExitCode, strings.TrimSpace(res.Stderr)))
		}

		data, err := os.ReadFile(reportPath)
		if err != nil {
			return errorResult(Pytest, fmt.Sprintf("pytest produced no report for %s", dir))
		}
		parsed, err := parsePytestReport(data)
		if err != nil {
			a.logger.Warn("malformed pytest report",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			return errorResult(Pytest, fmt.Sprintf("failed to parse pytest output for %s", dir))
		}
		return parsed
	})

	merged := Aggregate(results)
	if cov, ok := parseCoveragePy(filepath.Join(t.Sandbox.WorkDir, "coverage.json")); ok {
		merged.Coverage = cov
	}
	return merged
}

// pytestReport mirrors the pytest-json-report schema, leniently.
type pytestReport struct {
	ExitCode int `json:"exitcode"`
	Tests    []struct {
		NodeID  string `json:"nodeid"`
		Outcome string `json:"outcome"`
		Call    struct {
			Duration float64 `json:"duration"`
			Longrepr any     `json:"longrepr"`
		} `json:"call"`
	} `json:"tests"`
}

func parsePytestReport(data []byte) (Result, error) {
	var report pytestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return Result{}, err
	}

	tests := make([]TestCase, 0, len(report.Tests))
	for _, t := range report.Tests {
		tc := TestCase{
			Name:        t.NodeID,
			Outcome:     normalizePytestOutcome(t.Outcome),
			DurationSec: t.Call.Duration,
		}
		if t.Call.Longrepr != nil {
			tc.FailureMessage = fmt.Sprint(t.Call.Longrepr)
		}
		tests = append(tests, tc)
	}

	summary := summarize(tests)
	return Result{
		Runner:  string(Pytest),
		Success: summary.Failed == 0,
		Summary: summary,
		Tests:   tests,
	}, nil
}

func normalizePytestOutcome(outcome string) Status {
	switch outcome {
	case "passed", "xpassed":
		return StatusPassed
	case "failed":
		return StatusFailed
	case "skipped", "xfailed":
		// xfail is an expected failure, not a regression.
		return StatusSkipped
	default:
		return StatusError
	}
}
