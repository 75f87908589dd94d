package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/environment"
	"github.com/jkaninda/runbox/internal/server"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server on stdio",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `runbox --config path` and `runbox serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	}
}

// runServe starts the MCP server plus the optional janitor and HTTP sidecar.
// Stdout belongs to the MCP transport, so all logging goes to stderr.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("RUNBOX_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	logger.Info("starting in server mode", slog.String("config", serveConfigPath))

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	sc.Health.AddCheck("workspace", func(_ context.Context) error {
		_, err := os.Stat(sc.Workspace.Root)
		return err
	})
	sc.Health.AddCheck("binary_cache", func(_ context.Context) error {
		_, err := os.Stat(sc.Workspace.BinaryCacheDir())
		return err
	})
	sc.Health.TrackEnvironments(sc.Envs.Store().Len)

	// Janitor.
	if cfg.Janitor != nil {
		janitor := environment.NewJanitor(sc.Envs, sc.Provisioner, *cfg.Janitor, sc.Metrics, logger)
		if err := janitor.Start(); err != nil {
			return err
		}
		defer janitor.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP sidecar.
	var httpSrv *server.HTTPServer
	if cfg.HTTP != nil {
		httpCfg := server.HTTPConfig{
			ListenAddr:    cfg.HTTP.ListenAddr,
			MetricsPath:   cfg.HTTP.MetricsPath,
			HealthChecker: sc.Health,
		}
		if sc.Metrics != nil {
			httpCfg.MetricsRegistry = sc.Metrics.Registry
		}
		httpSrv = server.NewHTTPServer(httpCfg, logger)
		go func() {
			if err := httpSrv.Start(ctx); err != nil {
				logger.Error("http sidecar failed", slog.String("error", err.Error()))
			}
		}()
	}

	server.Version = version
	mcpSrv := server.NewMCPServer(sc.Envs, logger)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- mcpSrv.Serve()
	}()

	select {
	case err = <-serveErr:
		// Client closed stdin; a normal end of session.
		if err != nil {
			logger.Error("mcp server exited", slog.String("error", err.Error()))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		err = nil
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if stopErr := httpSrv.Stop(shutdownCtx); stopErr != nil {
			logger.Error("stopping http sidecar", slog.String("error", stopErr.Error()))
		}
	}
	return err
}
