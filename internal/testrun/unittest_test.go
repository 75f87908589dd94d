package testrun

import "testing"

const unittestOutputFixture = `test_add (tests.test_math.MathTest) ... ok
test_div (tests.test_math.MathTest) ... FAIL
test_broken (tests.test_math.MathTest) ... ERROR
test_legacy (tests.test_math.MathTest) ... skipped 'deprecated'

======================================================================
FAIL: test_div (tests.test_math.MathTest)
----------------------------------------------------------------------
Ran 4 tests in 0.005s

FAILED (failures=1, errors=1, skipped=1)
`

func TestParseUnittestOutput(t *testing.T) {
	res := parseUnittestOutput(unittestOutputFixture, 1)

	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Success {
		t.Error("exit 1 must not succeed")
	}
	if res.Summary.Total != 4 {
		t.Errorf("total = %d, want 4", res.Summary.Total)
	}
	if res.Summary.Passed != 1 {
		t.Errorf("passed = %d, want 1", res.Summary.Passed)
	}
	if res.Summary.Failed != 2 { // FAIL + ERROR
		t.Errorf("failed = %d, want 2", res.Summary.Failed)
	}
	if res.Summary.Skipped != 1 {
		t.Errorf("skipped = %d, want 1", res.Summary.Skipped)
	}

	if got := res.Tests[0].Name; got != "tests.test_math.MathTest.test_add" {
		t.Errorf("name = %q", got)
	}
	if res.Tests[3].Outcome != StatusSkipped {
		t.Errorf("skipped outcome = %s", res.Tests[3].Outcome)
	}
}

func TestParseUnittestOutput_AllPassing(t *testing.T) {
	out := "test_one (t.T) ... ok\ntest_two (t.T) ... ok\n\nRan 2 tests in 0.001s\n\nOK\n"
	res := parseUnittestOutput(out, 0)
	if !res.Success {
		t.Error("expected success")
	}
	if res.Summary.Passed != 2 || res.Summary.Failed != 0 {
		t.Errorf("summary = %+v", res.Summary)
	}
}

func TestParseUnittestOutput_DocstringVerdictOnNextLine(t *testing.T) {
	// A test method with a docstring makes verbose mode print the verdict
	// after the docstring's first line, not on the header line.
	out := `test_add (tests.test_math.MathTest)
Adds two numbers. ... ok
test_div (tests.test_math.MathTest) ... FAIL
test_mod (tests.test_math.MathTest)
Modulo of two numbers. ... skipped 'not implemented'

Ran 3 tests in 0.002s

FAILED (failures=1)
`
	res := parseUnittestOutput(out, 1)

	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Summary.Total != 3 {
		t.Fatalf("total = %d, want 3", res.Summary.Total)
	}
	if got := res.Tests[0].Name; got != "tests.test_math.MathTest.test_add" {
		t.Errorf("name = %q", got)
	}
	if res.Tests[0].Outcome != StatusPassed {
		t.Errorf("docstring test outcome = %s, want %s", res.Tests[0].Outcome, StatusPassed)
	}
	if res.Tests[1].Outcome != StatusFailed {
		t.Errorf("inline verdict outcome = %s, want %s", res.Tests[1].Outcome, StatusFailed)
	}
	if res.Tests[2].Outcome != StatusSkipped {
		t.Errorf("skipped outcome = %s, want %s", res.Tests[2].Outcome, StatusSkipped)
	}
}

func TestParseUnittestOutput_NoTests(t *testing.T) {
	res := parseUnittestOutput("\nRan 0 tests in 0.000s\n\nOK\n", 0)
	if !res.Success {
		t.Error("empty run is a success")
	}
	if res.Summary.Total != 0 {
		t.Errorf("total = %d, want 0", res.Summary.Total)
	}
	if res.Error != "" {
		t.Errorf("unexpected error: %s", res.Error)
	}
}

func TestParseUnittestOutput_Unparseable(t *testing.T) {
	res := parseUnittestOutput("Traceback (most recent call last): ...", 1)
	if res.Error == "" {
		t.Fatal("expected a parse-failure error")
	}
	if res.Success {
		t.Error("parse failure must not succeed")
	}
}
