package testrun

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/jkaninda/runbox/internal/sandbox"
)

// Adapter executes one framework's test suite and normalizes its output.
// Run never returns a Go error: execution and parse failures are downgraded
// to a Result with Error set, so one framework's breakage cannot abort the
// others.
type Adapter interface {
	Framework() Framework
	Run(ctx context.Context, exec *sandbox.Manager, t Target, testDirs []string) Result
}

// ForFramework returns the adapter for a framework identifier.
func ForFramework(f Framework, logger *slog.Logger) (Adapter, bool) {
	switch f {
	case Pytest:
		return &pytestAdapter{logger: logger}, true
	case Unittest:
		return &unittestAdapter{logger: logger}, true
	case Jest:
		return &jestAdapter{logger: logger}, true
	case Vitest:
		return &vitestAdapter{logger: logger}, true
	default:
		return nil, false
	}
}

// maxConcurrentDirs bounds the per-directory fan-out within one framework
// run. Each invocation owns its captured-output buffers, so concurrent runs
// share no mutable state.
const maxConcurrentDirs = 4

// runPerDir fans one invocation out per test directory and merges the
// results in directory order.
func runPerDir(ctx context.Context, dirs []string, run func(ctx context.Context, dir string, slot int) Result) []Result {
	if len(dirs) == 0 {
		return nil
	}
	results := make([]Result, len(dirs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDirs)
	for i, dir := range dirs {
		g.Go(func() error {
			results[i] = run(ctx, dir, i)
			return nil
		})
	}
	_ = g.Wait() // run never reports errors; failures live in the Results
	return results
}

// resolveTool finds a project-local executable: the package manager's bin
// dir first (virtual env or node_modules), then the sandbox bin dir.
// Returns "" when the tool is not present.
func resolveTool(t Target, name string) string {
	candidates := []string{
		filepath.Join(t.Sandbox.WorkDir, t.Runtime.BinPath, name),
		filepath.Join(t.Sandbox.BinDir, name),
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
