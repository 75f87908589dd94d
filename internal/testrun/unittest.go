package testrun

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/jkaninda/runbox/internal/sandbox"
)

type unittestAdapter struct {
	logger *slog.Logger
}

func (a *unittestAdapter) Framework() Framework { return Unittest }

// unittest has no machine-readable reporter; the verbose text protocol on
// stderr is stable enough to parse. The verdict usually sits on the header
// line, but a test method with a docstring pushes it onto the next line
// (the docstring's first sentence, then "... ok"), so both shapes are
// recognized.
var (
	unittestCaseRe    = regexp.MustCompile(`^(\S+) \(([^)]+)\)(?:\s*\.\.\.\s*(ok|FAIL|ERROR|skipped.*))?$`)
	unittestVerdictRe = regexp.MustCompile(`\.\.\.\s*(ok|FAIL|ERROR|skipped.*)$`)
	unittestRanRe     = regexp.MustCompile(`^Ran (\d+) tests? in`)
)

// Run executes unittest discovery once per test directory and parses the
// verbose output.
func (a *unittestAdapter) Run(ctx context.Context, execMgr *sandbox.Manager, t Target, testDirs []string) Result {
	pythonPath := resolveTool(t, "python")
	if pythonPath == "" {
		pythonPath = resolveTool(t, "python3")
	}
	if pythonPath == "" {
		// Last resort: the host interpreter.
		if p, err := exec.LookPath("python3"); err == nil {
			pythonPath = p
		}
	}
	if pythonPath == "" {
		return errorResult(Unittest, "python not found in environment")
	}

	results := runPerDir(ctx, testDirs, func(ctx context.Context, dir string, _ int) Result {
		argv := []string{pythonPath, "-m", "unittest", "discover", "-v", "-s", dir}

		res, err := execMgr.Exec(ctx, t.Sandbox, argv, nil)
		if err != nil {
			return errorResult(Unittest, fmt.Sprintf("unittest failed to run: %v", err))
		}
		if res.ExitCode != 0 && res.ExitCode != 1 {
			return errorResult(Unittest, fmt.Sprintf("unittest exited %d: %s",
				res.ExitCode, strings.TrimSpace(res.Stderr)))
		}
		return parseUnittestOutput(res.Stderr, res.ExitCode)
	})

	return Aggregate(results)
}

// parseUnittestOutput turns the verbose text protocol into the unified
// schema. An output with "Ran 0 tests" is the empty run; output with no
// recognizable protocol at all is a parse failure.
func parseUnittestOutput(stderr string, exitCode int) Result {
	type header struct{ name, class string }
	var (
		tests   []TestCase
		ranSeen bool
		pending *header // header seen, verdict expected on the docstring line
	)

	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimRight(line, "\r")

		if unittestRanRe.MatchString(line) {
			ranSeen = true
			pending = nil
			continue
		}
		if m := unittestCaseRe.FindStringSubmatch(line); m != nil {
			pending = nil
			if m[3] == "" {
				pending = &header{name: m[1], class: m[2]}
				continue
			}
			tests = append(tests, unittestCase(m[1], m[2], m[3]))
			continue
		}
		if pending != nil {
			// The line right after a bare header is the docstring carrying
			// the verdict. Anything else orphans the header.
			if m := unittestVerdictRe.FindStringSubmatch(line); m != nil {
				tests = append(tests, unittestCase(pending.name, pending.class, m[1]))
			}
			pending = nil
		}
	}

	if !ranSeen && len(tests) == 0 {
		return errorResult(Unittest, "failed to parse unittest output")
	}
	if len(tests) == 0 {
		return emptyResult(Unittest)
	}

	summary := summarize(tests)
	return Result{
		Runner:  string(Unittest),
		Success: exitCode == 0 && summary.Failed == 0,
		Summary: summary,
		Tests:   tests,
	}
}

// unittestCase maps one parsed header and verdict onto the unified schema.
func unittestCase(name, class, verdict string) TestCase {
	tc := TestCase{Name: class + "." + name}
	switch {
	case verdict == "ok":
		tc.Outcome = StatusPassed
	case verdict == "FAIL":
		tc.Outcome = StatusFailed
	case verdict == "ERROR":
		tc.Outcome = StatusError
	case strings.HasPrefix(verdict, "skipped"):
		tc.Outcome = StatusSkipped
		tc.Output = []string{verdict}
	default:
		tc.Outcome = StatusError
	}
	return tc
}
