package testrun

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
)

// jest and vitest share an exit-code contract (0 = all passed, 1 = tests
// failed, anything else = the tool itself broke) and a near-identical JSON
// report shape, so both adapters funnel into the same parser.

type jestAdapter struct {
	logger *slog.Logger
}

func (a *jestAdapter) Framework() Framework { return Jest }

func (a *jestAdapter) Run(ctx context.Context, exec *sandbox.Manager, t Target, testDirs []string) Result {
	jestBin := resolveTool(t, "jest")
	var argv []string
	switch {
	case jestBin != "":
		argv = []string{jestBin}
	default:
		// Fall back to invoking jest's entrypoint through the runtime.
		entry := filepath.Join(t.Sandbox.WorkDir, "node_modules", "jest", "bin", "jest.js")
		nodeBin := filepath.Join(t.Sandbox.BinDir, "node")
		if !fileExists(entry) || !fileExists(nodeBin) {
			return errorResult(Jest, "jest not found in environment")
		}
		argv = []string{nodeBin, entry}
	}
	argv = append(argv, "--json", "--passWithNoTests")
	argv = append(argv, relativeDirs(t.Sandbox.WorkDir, testDirs)...)

	res, err := exec.Exec(ctx, t.Sandbox, argv, map[string]string{"CI": "true"})
	if err != nil {
		return errorResult(Jest, fmt.Sprintf("jest failed to run: %v", err))
	}
	return finishJavaScriptRun(a.logger, Jest, t, res)
}

type vitestAdapter struct {
	logger *slog.Logger
}

func (a *vitestAdapter) Framework() Framework { return Vitest }

func (a *vitestAdapter) Run(ctx context.Context, exec *sandbox.Manager, t Target, testDirs []string) Result {
	entry := filepath.Join(t.Sandbox.WorkDir, "node_modules", "vitest", "vitest.mjs")
	if !fileExists(entry) {
		return errorResult(Vitest, "vitest not found in environment")
	}

	// Bun runs vitest directly; Node needs the VM-modules flag for ESM.
	var argv []string
	if t.Runtime.Name == runtime.Bun {
		argv = []string{filepath.Join(t.Sandbox.BinDir, "bun"), entry}
	} else {
		nodeBin := filepath.Join(t.Sandbox.BinDir, "node")
		if !fileExists(nodeBin) {
			return errorResult(Vitest, "node not found in environment")
		}
		argv = []string{nodeBin, "--experimental-vm-modules", entry}
	}
	argv = append(argv, "run", "--reporter=json")
	argv = append(argv, relativeDirs(t.Sandbox.WorkDir, testDirs)...)

	res, err := exec.Exec(ctx, t.Sandbox, argv, map[string]string{"CI": "true"})
	if err != nil {
		return errorResult(Vitest, fmt.Sprintf("vitest failed to run: %v", err))
	}
	return finishJavaScriptRun(a.logger, Vitest, t, res)
}

// finishJavaScriptRun applies the shared exit-code policy, parses the JSON
// report from stdout, and attaches istanbul coverage when the project
// produced it.
func finishJavaScriptRun(logger *slog.Logger, fw Framework, t Target, res *sandbox.ExecResult) Result {
	if res.ExitCode != 0 && res.ExitCode != 1 {
		return errorResult(fw, fmt.Sprintf("%s exited %d: %s",
			fw, res.ExitCode, strings.TrimSpace(res.Stderr)))
	}

	parsed, err := parseJestJSON(fw, res.Stdout)
	if err != nil {
		logger.Warn("malformed test reporter output",
			slog.String("framework", string(fw)),
			slog.String("error", err.Error()),
		)
		return errorResult(fw, fmt.Sprintf("failed to parse %s output", fw))
	}

	if cov, ok := parseIstanbulSummary(filepath.Join(t.Sandbox.WorkDir, "coverage", "coverage-summary.json")); ok {
		parsed.Coverage = cov
	}
	return parsed
}

// jestJSON mirrors the report emitted by `jest --json` and
// `vitest run --reporter=json`.
type jestJSON struct {
	Success        bool `json:"success"`
	NumTotalTests  int  `json:"numTotalTests"`
	NumPassedTests int  `json:"numPassedTests"`
	NumFailedTests int  `json:"numFailedTests"`
	NumPended      int  `json:"numPendingTests"`
	TestResults    []struct {
		AssertionResults []struct {
			FullName        string   `json:"fullName"`
			Title           string   `json:"title"`
			Status          string   `json:"status"`
			Duration        *float64 `json:"duration"`
			FailureMessages []string `json:"failureMessages"`
		} `json:"assertionResults"`
	} `json:"testResults"`
}

func parseJestJSON(fw Framework, stdout string) (Result, error) {
	// The reporter may be preceded by stray console output; the report is
	// the first JSON object on the stream.
	start := strings.Index(stdout, "{")
	if start < 0 {
		return Result{}, fmt.Errorf("no JSON object in output")
	}

	var report jestJSON
	if err := json.Unmarshal([]byte(stdout[start:]), &report); err != nil {
		return Result{}, err
	}

	var tests []TestCase
	for _, file := range report.TestResults {
		for _, assertion := range file.AssertionResults {
			name := assertion.FullName
			if name == "" {
				name = assertion.Title
			}
			tc := TestCase{
				Name:    name,
				Outcome: normalizeJestStatus(assertion.Status),
			}
			if assertion.Duration != nil {
				tc.DurationSec = *assertion.Duration / 1000 // reported in ms
			}
			if len(assertion.FailureMessages) > 0 {
				tc.FailureMessage = strings.Join(assertion.FailureMessages, "\n")
				tc.Output = assertion.FailureMessages
			}
			tests = append(tests, tc)
		}
	}
	if tests == nil {
		tests = []TestCase{}
	}

	return Result{
		Runner:  string(fw),
		Success: report.Success,
		Summary: summarize(tests),
		Tests:   tests,
	}, nil
}

func normalizeJestStatus(status string) Status {
	switch status {
	case "passed":
		return StatusPassed
	case "failed":
		return StatusFailed
	case "pending", "skipped", "todo", "disabled":
		return StatusSkipped
	default:
		return StatusError
	}
}

func relativeDirs(workDir string, dirs []string) []string {
	rel := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if r, err := filepath.Rel(workDir, d); err == nil {
			rel = append(rel, r)
		} else {
			rel = append(rel, d)
		}
	}
	return rel
}
