package testrun

import "testing"

// --- summarize ---

func TestSummarize_PartitionsByStatus(t *testing.T) {
	tests := []TestCase{
		{Name: "a", Outcome: StatusPassed},
		{Name: "b", Outcome: StatusPassed},
		{Name: "c", Outcome: StatusFailed},
		{Name: "d", Outcome: StatusError},
		{Name: "e", Outcome: StatusSkipped},
	}
	s := summarize(tests)
	if s.Total != 5 {
		t.Errorf("total = %d, want 5", s.Total)
	}
	if s.Passed != 2 {
		t.Errorf("passed = %d, want 2", s.Passed)
	}
	// Errors fold into the failed bucket.
	if s.Failed != 2 {
		t.Errorf("failed = %d, want 2", s.Failed)
	}
	if s.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", s.Skipped)
	}
	if s.Total != s.Passed+s.Failed+s.Skipped {
		t.Error("summary partition does not add up")
	}
}

// --- Aggregate ---

func TestAggregate_MergesCountsAndTests(t *testing.T) {
	merged := Aggregate([]Result{
		{
			Runner:  string(Pytest),
			Success: true,
			Tests:   []TestCase{{Name: "t1", Outcome: StatusPassed}},
		},
		{
			Runner:  string(Pytest),
			Success: true,
			Tests: []TestCase{
				{Name: "t2", Outcome: StatusPassed},
				{Name: "t3", Outcome: StatusSkipped},
			},
		},
	})

	if !merged.Success {
		t.Error("expected success when all inputs succeed")
	}
	if merged.Runner != string(Pytest) {
		t.Errorf("runner = %q", merged.Runner)
	}
	if len(merged.Tests) != 3 {
		t.Errorf("tests = %d, want 3", len(merged.Tests))
	}
	if merged.Summary.Total != 3 || merged.Summary.Passed != 2 || merged.Summary.Skipped != 1 {
		t.Errorf("summary = %+v", merged.Summary)
	}
}

func TestAggregate_AnyFailureFailsTheRun(t *testing.T) {
	merged := Aggregate([]Result{
		{Runner: string(Jest), Success: true, Tests: []TestCase{{Name: "a", Outcome: StatusPassed}}},
		{Runner: string(Vitest), Success: false, Tests: []TestCase{{Name: "b", Outcome: StatusFailed}}},
	})
	if merged.Success {
		t.Error("expected failure when any input fails")
	}
	if merged.Summary.Failed != 1 {
		t.Errorf("failed = %d, want 1", merged.Summary.Failed)
	}
}

func TestAggregate_CollectsErrors(t *testing.T) {
	merged := Aggregate([]Result{
		errorResult(Pytest, "first"),
		errorResult(Pytest, "second"),
	})
	if merged.Success {
		t.Error("error results must not aggregate to success")
	}
	if merged.Error != "first; second" {
		t.Errorf("error = %q", merged.Error)
	}
}

func TestAggregate_Empty(t *testing.T) {
	merged := Aggregate(nil)
	if merged.Success {
		t.Error("empty aggregate must not succeed")
	}
	if merged.Error == "" {
		t.Error("empty aggregate must carry an error message")
	}
}

func TestAggregate_FirstCoverageWins(t *testing.T) {
	first := &CoverageResult{Lines: 80}
	second := &CoverageResult{Lines: 20}
	merged := Aggregate([]Result{
		{Runner: string(Pytest), Success: true, Coverage: first},
		{Runner: string(Pytest), Success: true, Coverage: second},
	})
	if merged.Coverage != first {
		t.Error("expected first non-nil coverage to win")
	}
}

// --- empty / error results ---

func TestEmptyResult(t *testing.T) {
	r := emptyResult(Pytest)
	if !r.Success {
		t.Error("empty run is a success")
	}
	if r.Summary.Total != 0 {
		t.Errorf("total = %d, want 0", r.Summary.Total)
	}
	if r.Tests == nil {
		t.Error("tests must be an empty slice, not nil")
	}
}

// --- percent ---

func TestPercent(t *testing.T) {
	if got := percent(8, 10); got != 80.0 {
		t.Errorf("percent(8, 10) = %v, want 80.0", got)
	}
	if got := percent(0, 0); got != 0 {
		t.Errorf("percent(0, 0) = %v, want 0", got)
	}
	if got := percent(5, 0); got != 0 {
		t.Errorf("percent(5, 0) = %v, want 0", got)
	}
}
