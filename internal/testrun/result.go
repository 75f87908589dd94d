// Package testrun detects a project's test frameworks, executes them inside
// a sandbox, and normalizes their heterogeneous output into one uniform
// result schema.
package testrun

import (
	"strings"
)

// Framework identifies a supported test framework.
type Framework string

const (
	Pytest   Framework = "pytest"
	Unittest Framework = "unittest"
	Jest     Framework = "jest"
	Vitest   Framework = "vitest"
)

// Status is one test's outcome.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// TestCase is one test's normalized outcome.
type TestCase struct {
	Name           string   `json:"name"`
	Outcome        Status   `json:"outcome"`
	Output         []string `json:"output,omitempty"`
	FailureMessage string   `json:"failure_message,omitempty"`
	DurationSec    float64  `json:"duration,omitempty"`
}

// CoverageResult holds normalized coverage percentages, 0–100 inclusive.
type CoverageResult struct {
	Lines      float64            `json:"lines"`
	Statements float64            `json:"statements"`
	Branches   float64            `json:"branches"`
	Functions  float64            `json:"functions"`
	Files      map[string]float64 `json:"files,omitempty"` // file path -> line coverage %
}

// Summary partitions the test cases by status.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Result is the unified record for one test run, independent of which
// framework produced it. When the run could not produce structured output at
// all, Error is set and Success is false; faults never propagate as errors.
type Result struct {
	Runner   string          `json:"runner"`
	Success  bool            `json:"success"`
	Summary  Summary         `json:"summary"`
	Tests    []TestCase      `json:"tests"`
	Coverage *CoverageResult `json:"coverage,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// summarize recomputes the summary from the test cases so the partition
// invariant (total == passed+failed+skipped) always holds.
func summarize(tests []TestCase) Summary {
	s := Summary{Total: len(tests)}
	for _, tc := range tests {
		switch tc.Outcome {
		case StatusPassed:
			s.Passed++
		case StatusSkipped:
			s.Skipped++
		default: // failed and error both count as failures
			s.Failed++
		}
	}
	return s
}

// errorResult builds a zero-summary failure record for runs that could not
// produce structured output.
func errorResult(runner Framework, msg string) Result {
	return Result{
		Runner: string(runner),
		Tests:  []TestCase{},
		Error:  msg,
	}
}

// emptyResult is the "no tests collected" record: all counts zero, success
// true. Distinct from an execution error.
func emptyResult(runner Framework) Result {
	return Result{
		Runner:  string(runner),
		Success: true,
		Tests:   []TestCase{},
	}
}

// Aggregate merges per-framework and per-directory results into a single
// record. Counts are summed, test cases concatenated, success is the logical
// AND of all inputs, the runner label is the first input's, and the first
// non-nil coverage wins.
func Aggregate(results []Result) Result {
	if len(results) == 0 {
		return Result{Runner: "none", Tests: []TestCase{}, Error: "no test results produced"}
	}

	merged := Result{
		Runner:  results[0].Runner,
		Success: true,
		Tests:   []TestCase{},
	}
	var errs []string
	for _, r := range results {
		merged.Success = merged.Success && r.Success
		merged.Tests = append(merged.Tests, r.Tests...)
		if merged.Coverage == nil && r.Coverage != nil {
			merged.Coverage = r.Coverage
		}
		if r.Error != "" {
			errs = append(errs, r.Error)
		}
	}
	merged.Summary = summarize(merged.Tests)
	merged.Error = strings.Join(errs, "; ")
	return merged
}

// percent guards the covered/total×100 computation against a zero total.
func percent(covered, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return covered / total * 100
}
