// Package observability provides metrics, tracing, and health reporting.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for runbox.
// Uses a custom registry, no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Environment lifecycle metrics.
	EnvironmentsCreatedTotal *prometheus.CounterVec
	EnvironmentSetupDuration *prometheus.HistogramVec
	ActiveEnvironments       prometheus.Gauge

	// Test run metrics.
	TestRunsTotal   *prometheus.CounterVec
	TestRunDuration *prometheus.HistogramVec
	TestCasesTotal  *prometheus.CounterVec

	// Sandbox metrics.
	SandboxCommandsTotal   *prometheus.CounterVec
	SandboxCommandDuration *prometheus.HistogramVec

	// Binary provisioning metrics.
	BinaryDownloadsTotal   *prometheus.CounterVec
	BinaryDownloadDuration *prometheus.HistogramVec

	// Janitor metrics.
	EnvironmentsReapedTotal prometheus.Counter
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		EnvironmentsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "environment",
			Name:      "created_total",
			Help:      "Total environments created.",
		}, []string{"runtime", "source", "status"}),

		EnvironmentSetupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "environment",
			Name:      "setup_duration_seconds",
			Help:      "Environment setup duration (fetch, detect, install) in seconds.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"runtime"}),

		ActiveEnvironments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "environment",
			Name:      "active",
			Help:      "Number of currently active environments.",
		}),

		TestRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "testrun",
			Name:      "runs_total",
			Help:      "Total test runs.",
		}, []string{"framework", "status"}),

		TestRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "testrun",
			Name:      "duration_seconds",
			Help:      "Test run duration in seconds.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"framework"}),

		TestCasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "testrun",
			Name:      "cases_total",
			Help:      "Total test cases by outcome.",
		}, []string{"framework", "outcome"}),

		SandboxCommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "sandbox",
			Name:      "commands_total",
			Help:      "Total sandboxed command executions.",
		}, []string{"status"}),

		SandboxCommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "sandbox",
			Name:      "command_duration_seconds",
			Help:      "Sandboxed command duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"status"}),

		BinaryDownloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "binaries",
			Name:      "downloads_total",
			Help:      "Total runtime binary downloads.",
		}, []string{"binary", "status"}),

		BinaryDownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "binaries",
			Name:      "download_duration_seconds",
			Help:      "Runtime binary download and extraction duration in seconds.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"binary"}),

		EnvironmentsReapedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "janitor",
			Name:      "environments_reaped_total",
			Help:      "Total stale environments reaped by the janitor.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.EnvironmentsCreatedTotal,
		m.EnvironmentSetupDuration,
		m.ActiveEnvironments,
		m.TestRunsTotal,
		m.TestRunDuration,
		m.TestCasesTotal,
		m.SandboxCommandsTotal,
		m.SandboxCommandDuration,
		m.BinaryDownloadsTotal,
		m.BinaryDownloadDuration,
		m.EnvironmentsReapedTotal,
	)

	return m
}
