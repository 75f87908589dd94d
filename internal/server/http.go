package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/runbox/internal/observability"
)

// HTTPConfig configures the health/metrics sidecar.
type HTTPConfig struct {
	ListenAddr      string
	MetricsPath     string                       // Default: "/metrics".
	MetricsRegistry *prometheus.Registry         // nil = no metrics endpoint.
	HealthChecker   *observability.HealthChecker // nil = /readyz always ok.
}

// HTTPServer is the unauthenticated observability sidecar: liveness,
// readiness, and Prometheus metrics. The MCP transport carries all tool
// traffic; nothing here mutates state.
type HTTPServer struct {
	config HTTPConfig
	logger *slog.Logger
	okapi  *okapi.Okapi
	server *http.Server
}

// HealthResponse is the JSON body for /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// NewHTTPServer creates the sidecar.
func NewHTTPServer(cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		config: cfg,
		logger: logger,
		okapi:  okapi.New(),
	}
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http sidecar starting", slog.String("addr", s.config.ListenAddr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http sidecar stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *HTTPServer) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *HTTPServer) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
