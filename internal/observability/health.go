package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// readinessTimeout bounds one full readiness sweep; a hung dependency must
// not wedge the probe.
const readinessTimeout = 3 * time.Second

// ReadinessCheck probes one dependency of the pipeline (workspace root,
// binary cache). A nil error means the dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// HealthChecker assembles the payloads served by the health and readiness
// endpoints from registered dependency checks and the live environment count.
type HealthChecker struct {
	mu       sync.Mutex
	checks   []namedCheck
	envCount func() int
	logger   *slog.Logger
}

type namedCheck struct {
	name  string
	check ReadinessCheck
}

// HealthStatus is the JSON body for the health and readiness endpoints.
type HealthStatus struct {
	Status             string                 `json:"status"` // "ok" or "degraded"
	ActiveEnvironments int                    `json:"active_environments"`
	Checks             map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the status of a single dependency check.
type CheckResult struct {
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
}

// NewHealthChecker creates a HealthChecker with no checks registered.
func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{logger: logger}
}

// AddCheck registers a named dependency check.
func (h *HealthChecker) AddCheck(name string, check ReadinessCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, namedCheck{name: name, check: check})
}

// TrackEnvironments registers the source of the live environment count,
// normally the environment registry's Len.
func (h *HealthChecker) TrackEnvironments(count func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.envCount = count
}

// CheckHealth reports liveness: "ok" whenever the process can answer,
// regardless of dependency state. The environment count rides along so a
// liveness probe doubles as a cheap load indicator.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{
		Status:             "ok",
		ActiveEnvironments: h.environments(),
	}
}

// CheckReady runs every registered dependency check and reports "ok" only
// when all of them pass; any failure degrades the whole status.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:             "ok",
		ActiveEnvironments: h.environments(),
	}

	checks := h.snapshot()
	if len(checks) == 0 {
		return status
	}

	checkCtx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	status.Checks = make(map[string]CheckResult, len(checks))
	for _, c := range checks {
		err := c.check(checkCtx)
		if err == nil {
			status.Checks[c.name] = CheckResult{Status: "ok"}
			continue
		}
		status.Status = "degraded"
		status.Checks[c.name] = CheckResult{Status: "fail", Message: err.Error()}
		if h.logger != nil {
			h.logger.Warn("readiness check failed",
				slog.String("check", c.name),
				slog.String("error", err.Error()),
			)
		}
	}
	return status
}

func (h *HealthChecker) environments() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.envCount == nil {
		return 0
	}
	return h.envCount()
}

func (h *HealthChecker) snapshot() []namedCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]namedCheck(nil), h.checks...)
}
