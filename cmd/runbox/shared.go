package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/runbox/internal/binaries"
	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/environment"
	"github.com/jkaninda/runbox/internal/observability"
	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
	"github.com/jkaninda/runbox/internal/workspace"
)

// SharedComponents holds the initialized pipeline that both server and
// one-shot modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config      *config.Config
	Logger      *slog.Logger
	Workspace   *workspace.Workspace
	Metrics     *observability.MetricsCollector // nil when metrics are disabled
	Tracing     *observability.TracerSetup      // nil when tracing is disabled
	Health      *observability.HealthChecker
	Provisioner *binaries.Provisioner
	Sandboxes   *sandbox.Manager
	Envs        *environment.Manager

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared wires the whole pipeline: workspace, observability, binary
// provisioner, sandbox manager, dependency installer, environment manager.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	if cfg.Observability != nil && cfg.Observability.Metrics {
		sc.Metrics = observability.NewMetricsCollector()
		logger.Debug("metrics collector initialized")
	}
	if cfg.Observability != nil {
		tracing, err := observability.NewTracerSetup(cfg.Observability.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		sc.Tracing = tracing
		if tracing != nil {
			sc.addCleanup(func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tracing.Shutdown(shutdownCtx); err != nil {
					logger.Error("shutting down tracing", slog.String("error", err.Error()))
				}
			})
			logger.Debug("tracing initialized")
		}
	}
	sc.Health = observability.NewHealthChecker(logger)

	// Binary provisioner.
	sc.Provisioner = binaries.NewProvisioner(ws.BinaryCacheDir(), ws.DownloadsDir(), cfg.Binaries, sc.Metrics, logger)

	// Sandbox manager.
	sc.Sandboxes = sandbox.NewManager(sandbox.Config{
		BaseDir:        ws.SandboxesDir(),
		HostBinaries:   cfg.Sandbox.HostBinaries,
		CommandTimeout: cfg.Sandbox.CommandTimeout,
		Metrics:        sc.Metrics,
	}, logger)

	// Environment manager.
	installer := runtime.NewInstaller(sc.Sandboxes, sc.Provisioner, logger)
	store := environment.NewStore()
	sc.Envs = environment.NewManager(sc.Sandboxes, installer, store, sc.Metrics, tracerOrNoop(sc.Tracing), logger)

	// Destroy whatever is still alive at shutdown; sandboxes must not
	// outlive the process that tracks them.
	sc.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sc.Envs.CleanupAll(shutdownCtx)
	})

	return sc, nil
}

// initWorkspace creates and returns the workspace, resolving the root from
// config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}

func tracerOrNoop(t *observability.TracerSetup) trace.Tracer {
	return t.Tracer() // nil-safe: returns a noop tracer for nil setups
}
