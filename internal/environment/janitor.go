package environment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/observability"
)

// BinaryEvictor trims stale versions from the runtime-binary cache.
// Implemented by the binaries provisioner.
type BinaryEvictor interface {
	EvictAllStale()
}

// Janitor reaps environments whose age exceeds the configured maximum.
// Clients are expected to clean up after themselves; the janitor is the
// backstop for the ones that crash or forget.
type Janitor struct {
	cron     *cron.Cron
	manager  *Manager
	binaries BinaryEvictor
	cfg      config.JanitorConfig
	metrics  *observability.MetricsCollector
	logger   *slog.Logger
}

// NewJanitor creates a janitor. binaries may be nil to skip cache eviction.
func NewJanitor(manager *Manager, binaries BinaryEvictor, cfg config.JanitorConfig, metrics *observability.MetricsCollector, logger *slog.Logger) *Janitor {
	return &Janitor{
		cron:     cron.New(),
		manager:  manager,
		binaries: binaries,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start schedules the reap job and begins running it.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.reap); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.cfg.Schedule, err)
	}
	j.cron.Start()
	j.logger.Info("janitor started",
		slog.String("schedule", j.cfg.Schedule),
		slog.Duration("max_age", j.cfg.MaxAge),
	)
	return nil
}

// Stop halts the schedule and waits for an in-flight reap to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("janitor stopped")
}

// reap destroys every environment older than MaxAge, then optionally evicts
// stale binary-cache versions.
func (j *Janitor) reap() {
	cutoff := time.Now().UTC().Add(-j.cfg.MaxAge)
	reaped := 0

	for _, env := range j.manager.Store().List() {
		if env.CreatedAt.After(cutoff) {
			// List is oldest-first; everything after this is younger.
			break
		}
		j.logger.Info("reaping stale environment",
			slog.String("id", env.ID),
			slog.Time("created_at", env.CreatedAt),
		)
		if err := j.manager.Cleanup(context.Background(), env.ID); err != nil {
			j.logger.Warn("failed to reap environment",
				slog.String("id", env.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		reaped++
	}

	if j.metrics != nil && reaped > 0 {
		j.metrics.EnvironmentsReapedTotal.Add(float64(reaped))
	}
	if j.cfg.Binaries && j.binaries != nil {
		j.binaries.EvictAllStale()
	}
}
