// Package config handles loading and validating runbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for runbox.
type Config struct {
	Workspace     string                `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root. Default: ~/.runbox/workspace. Override: RUNBOX_WORKSPACE env var.
	Sandbox       SandboxConfig         `json:"sandbox" yaml:"sandbox"`
	Binaries      map[string]BinarySpec `json:"binaries,omitempty" yaml:"binaries,omitempty"` // nil = built-in node/bun/uv specs
	Janitor       *JanitorConfig        `json:"janitor,omitempty" yaml:"janitor,omitempty"`   // nil = janitor disabled
	HTTP          *HTTPConfig           `json:"http,omitempty" yaml:"http,omitempty"`         // nil = no HTTP sidecar
	Observability *ObservabilityConfig  `json:"observability,omitempty" yaml:"observability,omitempty"`
}

// SandboxConfig configures sandbox creation and command execution.
type SandboxConfig struct {
	// CommandTimeout is the wall-clock limit for one sandboxed command
	// (install, clone, or a test run). Zero = 10 minutes.
	CommandTimeout time.Duration `json:"command_timeout" yaml:"command_timeout"`

	// HostBinaries is the allow-list of host executables symlinked into each
	// sandbox's bin directory. This is a deliberate, narrow capability leak:
	// the version-control client plus a handful of POSIX utilities, never a
	// general PATH passthrough. Empty = DefaultHostBinaries.
	HostBinaries []string `json:"host_binaries,omitempty" yaml:"host_binaries,omitempty"`
}

// DefaultHostBinaries is the default borrow allow-list.
var DefaultHostBinaries = []string{"git", "sh", "env", "uname", "tar", "gzip", "ls", "cat"}

// BinarySpec describes how to provision one runtime executable.
type BinarySpec struct {
	Version     string `json:"version" yaml:"version"`
	URLTemplate string `json:"url_template" yaml:"url_template"`           // expands {version}, {platform}, {arch}, {ext}
	ChecksumURL string `json:"checksum_url,omitempty" yaml:"checksum_url"` // expands {version}; empty = no published manifest
	ArchivePath string `json:"archive_path,omitempty" yaml:"archive_path"` // binary name inside the archive; empty = spec name
}

// JanitorConfig configures background reaping of stale state.
type JanitorConfig struct {
	Schedule string        `json:"schedule" yaml:"schedule"`                 // cron expression, default "@every 10m"
	MaxAge   time.Duration `json:"max_age,omitempty" yaml:"max_age"`        // reap environments older than this, default 2h
	Binaries bool          `json:"evict_binaries" yaml:"evict_binaries"`    // also evict stale binary-cache versions
}

// HTTPConfig configures the optional health/metrics HTTP sidecar.
type HTTPConfig struct {
	ListenAddr  string `json:"listen_addr" yaml:"listen_addr"` // e.g. ":8990"
	MetricsPath string `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
}

// ObservabilityConfig enables metrics and tracing.
type ObservabilityConfig struct {
	Metrics bool           `json:"metrics" yaml:"metrics"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"` // nil = tracing disabled
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"` // host:port of the OTLP collector
	Protocol    string  `json:"protocol,omitempty" yaml:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/runbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".runbox", "config.yaml")
}

// Default returns a Config with all defaults applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .json for JSON, everything else
// for YAML. A missing file is not an error; defaults apply. Environment
// variables take precedence over file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(resolved)
	switch {
	case os.IsNotExist(err):
		// No config file: run on defaults.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	default:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".json":
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		}
	}

	// Environment variable overrides. Env vars take precedence over config values.
	cfg.Workspace = goutils.Env("RUNBOX_WORKSPACE", cfg.Workspace)
	if addr := os.Getenv("RUNBOX_HTTP_ADDR"); addr != "" {
		if cfg.HTTP == nil {
			cfg.HTTP = &HTTPConfig{}
		}
		cfg.HTTP.ListenAddr = addr
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sandbox.CommandTimeout == 0 {
		c.Sandbox.CommandTimeout = 10 * time.Minute
	}
	if len(c.Sandbox.HostBinaries) == 0 {
		c.Sandbox.HostBinaries = append([]string(nil), DefaultHostBinaries...)
	}
	if c.Binaries == nil {
		c.Binaries = DefaultBinarySpecs()
	}
	if c.Janitor != nil {
		if c.Janitor.Schedule == "" {
			c.Janitor.Schedule = "@every 10m"
		}
		if c.Janitor.MaxAge == 0 {
			c.Janitor.MaxAge = 2 * time.Hour
		}
	}
	if c.HTTP != nil && c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = "/metrics"
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	for name, spec := range c.Binaries {
		if spec.Version == "" {
			return fmt.Errorf("binaries.%s: version is required", name)
		}
		if spec.URLTemplate == "" {
			return fmt.Errorf("binaries.%s: url_template is required", name)
		}
	}
	if c.HTTP != nil && c.HTTP.ListenAddr == "" {
		return fmt.Errorf("http.listen_addr is required when the http section is present")
	}
	if t := c.tracing(); t != nil && t.Enabled && t.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

func (c *Config) tracing() *TracingConfig {
	if c.Observability == nil {
		return nil
	}
	return c.Observability.Tracing
}

// DefaultBinarySpecs returns the built-in provisioning specs for the
// supported runtime executables.
func DefaultBinarySpecs() map[string]BinarySpec {
	return map[string]BinarySpec{
		"node": {
			Version:     "20.11.1",
			URLTemplate: "https://nodejs.org/dist/v{version}/node-v{version}-{platform}-{arch}.{ext}",
			ChecksumURL: "https://nodejs.org/dist/v{version}/SHASUMS256.txt",
			ArchivePath: "bin/node",
		},
		"bun": {
			Version:     "1.1.0",
			URLTemplate: "https://github.com/oven-sh/bun/releases/download/bun-v{version}/bun-{platform}-{arch}.{ext}",
			ChecksumURL: "https://github.com/oven-sh/bun/releases/download/bun-v{version}/SHASUMS256.txt",
			ArchivePath: "bun",
		},
		"uv": {
			Version:     "0.4.27",
			URLTemplate: "https://github.com/astral-sh/uv/releases/download/{version}/uv-{arch}-{platform}.{ext}",
			ChecksumURL: "https://github.com/astral-sh/uv/releases/download/{version}/uv-{arch}-{platform}.{ext}.sha256",
			ArchivePath: "uv",
		},
	}
}

// resolvePath expands a leading ~ and returns an absolute path.
func resolvePath(path string) (string, error) {
	if path == "" {
		return DefaultConfigPath(), nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return filepath.Abs(path)
}
