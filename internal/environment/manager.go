package environment

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/runbox/internal/observability"
	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
	"github.com/jkaninda/runbox/internal/testrun"
)

// Manager drives the environment lifecycle: fetch a project into a fresh
// sandbox, detect its runtime, install dependencies, register the result, and
// later run tests in it or tear it down.
type Manager struct {
	sandboxes *sandbox.Manager
	installer *runtime.Installer
	store     *Store
	metrics   *observability.MetricsCollector
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewManager creates an environment manager. metrics may be nil when
// observability is disabled; tracer is expected non-nil (use a noop tracer).
func NewManager(
	sandboxes *sandbox.Manager,
	installer *runtime.Installer,
	store *Store,
	metrics *observability.MetricsCollector,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		sandboxes: sandboxes,
		installer: installer,
		store:     store,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger,
	}
}

// CreateFromPath builds an environment from a project directory on the local
// filesystem. The tree is copied into the sandbox; the original is never
// touched.
func (m *Manager) CreateFromPath(ctx context.Context, projectPath string) (*Environment, error) {
	ctx, span := m.tracer.Start(ctx, "environment.create",
		trace.WithAttributes(attribute.String("source", string(SourcePath))))
	defer span.End()

	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, fmt.Errorf("project path %s: %w", projectPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project path %s is not a directory", projectPath)
	}

	return m.create(ctx, SourcePath, projectPath, func(ctx context.Context, sb *sandbox.Sandbox) error {
		return copyTree(projectPath, sb.WorkDir)
	})
}

// CreateFromGitHub builds an environment from a GitHub repository URL. The
// URL is normalized and validated before any subprocess runs; branch is
// optional.
func (m *Manager) CreateFromGitHub(ctx context.Context, repoURL, branch string) (*Environment, error) {
	ctx, span := m.tracer.Start(ctx, "environment.create",
		trace.WithAttributes(attribute.String("source", string(SourceGitHub))))
	defer span.End()

	normalized, err := sandbox.NormalizeRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	return m.create(ctx, SourceGitHub, normalized, func(ctx context.Context, sb *sandbox.Sandbox) error {
		return m.sandboxes.Clone(ctx, sb, normalized, branch)
	})
}

// create runs the shared pipeline: sandbox, fetch, detect, install, register.
// Any failure unwinds the sandbox so nothing half-built leaks.
func (m *Manager) create(ctx context.Context, source Source, origin string, fetch func(context.Context, *sandbox.Sandbox) error) (env *Environment, err error) {
	started := time.Now()

	sb, err := m.sandboxes.Create("runbox-env")
	if err != nil {
		m.recordCreate("", source, "error")
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = m.sandboxes.Cleanup(sb)
		}
	}()

	if err = fetch(ctx, sb); err != nil {
		m.recordCreate("", source, "fetch_error")
		return nil, err
	}

	rt, err := runtime.Detect(sb.WorkDir)
	if err != nil {
		m.recordCreate("", source, "detect_error")
		return nil, fmt.Errorf("detecting runtime for %s: %w", origin, err)
	}

	if err = m.installer.Install(ctx, sb, rt); err != nil {
		m.recordCreate(string(rt.Name), source, "install_error")
		return nil, fmt.Errorf("installing dependencies: %w", err)
	}

	env = &Environment{
		ID:        uuid.NewString(),
		Runtime:   rt,
		Source:    source,
		Origin:    origin,
		CreatedAt: time.Now().UTC(),
		Sandbox:   sb,
	}
	m.store.Put(env)

	m.recordCreate(string(rt.Name), source, "ok")
	if m.metrics != nil {
		m.metrics.EnvironmentSetupDuration.WithLabelValues(string(rt.Name)).Observe(time.Since(started).Seconds())
		m.metrics.ActiveEnvironments.Set(float64(m.store.Len()))
	}

	m.logger.Info("environment created",
		slog.String("id", env.ID),
		slog.String("runtime", string(rt.Name)),
		slog.String("origin", origin),
		slog.Duration("setup", time.Since(started)),
	)
	return env, nil
}

// RunTests detects the project's test frameworks, runs every detected one,
// and returns the merged result. An environment with no detectable framework
// yields a result carrying an error message, not a Go error: the pipeline
// completed, it just found nothing to run.
func (m *Manager) RunTests(ctx context.Context, id string) (testrun.Result, error) {
	env, ok := m.store.Get(id)
	if !ok {
		return testrun.Result{}, fmt.Errorf("unknown environment %q", id)
	}

	ctx, span := m.tracer.Start(ctx, "environment.run_tests",
		trace.WithAttributes(attribute.String("environment.id", id)))
	defer span.End()

	target := testrun.Target{Sandbox: env.Sandbox, Runtime: env.Runtime}
	frameworks := testrun.DetectFrameworks(target, m.logger)
	if frameworks.IsEmpty() {
		return testrun.Result{
			Runner: "none",
			Tests:  []testrun.TestCase{},
			Error:  "no test frameworks detected",
		}, nil
	}

	testDirs := testrun.FindTestDirs(env.Sandbox.WorkDir, env.Runtime.Name)
	if len(testDirs) == 0 {
		// Tests living at the project root still deserve a run.
		testDirs = []string{env.Sandbox.WorkDir}
	}

	names := frameworks.ToSlice()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	results := make([]testrun.Result, 0, len(names))
	for _, fw := range names {
		adapter, ok := testrun.ForFramework(fw, m.logger)
		if !ok {
			continue
		}
		started := time.Now()
		res := adapter.Run(ctx, m.sandboxes, target, testDirs)
		m.recordRun(fw, res, time.Since(started))
		results = append(results, res)
	}

	merged := testrun.Aggregate(results)
	m.logger.Info("test run complete",
		slog.String("id", id),
		slog.String("runner", merged.Runner),
		slog.Bool("success", merged.Success),
		slog.Int("total", merged.Summary.Total),
		slog.Int("failed", merged.Summary.Failed),
	)
	return merged, nil
}

// Cleanup destroys an environment and its sandbox. Unknown IDs are not an
// error: cleanup is idempotent.
func (m *Manager) Cleanup(ctx context.Context, id string) error {
	_, span := m.tracer.Start(ctx, "environment.cleanup",
		trace.WithAttributes(attribute.String("environment.id", id)))
	defer span.End()

	env, ok := m.store.Delete(id)
	if !ok {
		m.logger.Debug("cleanup of unknown environment", slog.String("id", id))
		return nil
	}
	if err := m.sandboxes.Cleanup(env.Sandbox); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.ActiveEnvironments.Set(float64(m.store.Len()))
	}
	m.logger.Info("environment destroyed", slog.String("id", id))
	return nil
}

// CleanupAll destroys every live environment. Used at shutdown and by tests.
func (m *Manager) CleanupAll(ctx context.Context) {
	for _, env := range m.store.List() {
		if err := m.Cleanup(ctx, env.ID); err != nil {
			m.logger.Warn("cleanup failed",
				slog.String("id", env.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Store exposes the underlying registry, mainly for health checks and the
// janitor.
func (m *Manager) Store() *Store { return m.store }

func (m *Manager) recordCreate(rt string, source Source, status string) {
	if m.metrics == nil {
		return
	}
	if rt == "" {
		rt = "unknown"
	}
	m.metrics.EnvironmentsCreatedTotal.WithLabelValues(rt, string(source), status).Inc()
}

func (m *Manager) recordRun(fw testrun.Framework, res testrun.Result, elapsed time.Duration) {
	if m.metrics == nil {
		return
	}
	status := "failed"
	if res.Success {
		status = "ok"
	}
	if res.Error != "" && res.Summary.Total == 0 {
		status = "error"
	}
	m.metrics.TestRunsTotal.WithLabelValues(string(fw), status).Inc()
	m.metrics.TestRunDuration.WithLabelValues(string(fw)).Observe(elapsed.Seconds())
	m.metrics.TestCasesTotal.WithLabelValues(string(fw), "passed").Add(float64(res.Summary.Passed))
	m.metrics.TestCasesTotal.WithLabelValues(string(fw), "failed").Add(float64(res.Summary.Failed))
	m.metrics.TestCasesTotal.WithLabelValues(string(fw), "skipped").Add(float64(res.Summary.Skipped))
}

// copyTree copies src into dest recursively, preserving file modes. Symlinks
// are skipped: a link could point outside the project tree, and nothing a
// test run needs should depend on one.
func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			return nil
		case d.IsDir():
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0700)
		default:
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dest string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
