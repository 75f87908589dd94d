package testrun

import (
	"strings"
	"testing"
)

const jestJSONFixture = `{
  "success": false,
  "numTotalTests": 4,
  "numPassedTests": 2,
  "numFailedTests": 1,
  "numPendingTests": 1,
  "testResults": [
    {
      "assertionResults": [
        {"fullName": "math adds", "title": "adds", "status": "passed", "duration": 12},
        {"fullName": "math divides", "title": "divides", "status": "failed", "duration": 3,
         "failureMessages": ["Expected: 2", "Received: Infinity"]},
        {"fullName": "math subtracts", "title": "subtracts", "status": "passed"},
        {"fullName": "math todo", "title": "todo", "status": "todo"}
      ]
    }
  ]
}`

func TestParseJestJSON(t *testing.T) {
	res, err := parseJestJSON(Jest, jestJSONFixture)
	if err != nil {
		t.Fatalf("parseJestJSON() error: %v", err)
	}

	if res.Runner != string(Jest) {
		t.Errorf("runner = %q", res.Runner)
	}
	if res.Success {
		t.Error("report says failure; result must agree")
	}
	if res.Summary.Total != 4 || res.Summary.Passed != 2 || res.Summary.Failed != 1 || res.Summary.Skipped != 1 {
		t.Errorf("summary = %+v", res.Summary)
	}

	failing := res.Tests[1]
	if failing.Name != "math divides" {
		t.Errorf("name = %q", failing.Name)
	}
	if !strings.Contains(failing.FailureMessage, "Expected: 2") {
		t.Errorf("failure message = %q", failing.FailureMessage)
	}
	// jest reports milliseconds.
	if res.Tests[0].DurationSec != 0.012 {
		t.Errorf("duration = %v, want 0.012", res.Tests[0].DurationSec)
	}
}

func TestParseJestJSON_LeadingNoise(t *testing.T) {
	// Stray console output before the report must not break parsing.
	res, err := parseJestJSON(Vitest, "warning: something\n"+jestJSONFixture)
	if err != nil {
		t.Fatalf("parseJestJSON() error: %v", err)
	}
	if res.Runner != string(Vitest) {
		t.Errorf("runner = %q", res.Runner)
	}
	if res.Summary.Total != 4 {
		t.Errorf("total = %d, want 4", res.Summary.Total)
	}
}

func TestParseJestJSON_NoJSON(t *testing.T) {
	if _, err := parseJestJSON(Jest, "nothing here"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseJestJSON_EmptyRun(t *testing.T) {
	res, err := parseJestJSON(Jest, `{"success": true, "numTotalTests": 0, "testResults": []}`)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("empty passing run must succeed")
	}
	if res.Tests == nil {
		t.Error("tests must be an empty slice, not nil")
	}
}

func TestNormalizeJestStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"passed", StatusPassed},
		{"failed", StatusFailed},
		{"pending", StatusSkipped},
		{"skipped", StatusSkipped},
		{"todo", StatusSkipped},
		{"disabled", StatusSkipped},
		{"broken", StatusError},
	}
	for _, tc := range tests {
		if got := normalizeJestStatus(tc.in); got != tc.want {
			t.Errorf("normalizeJestStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
