// Package sandbox provides isolated execution contexts for project commands.
// Every external command in the pipeline runs through a sandbox, never
// directly on the host. A sandbox is an isolated directory tree plus a
// scrubbed environment-variable map; the isolation is advisory (against
// accidental cross-contamination), not adversarial.
package sandbox

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jkaninda/runbox/internal/observability"
)

// Sandbox is one isolated filesystem root with its environment map.
//
// Layout: root/{bin,tmp,work,cache}. work holds the copied project tree and
// is the working directory for every command; bin holds borrowed and
// installed executables.
type Sandbox struct {
	Root     string
	WorkDir  string
	BinDir   string
	TmpDir   string
	CacheDir string

	// Env is the scrubbed environment map (keys unique). Seeded at creation;
	// the dependency installer prepends package-manager bin paths later.
	Env map[string]string

	mu        sync.Mutex
	active    map[*exec.Cmd]struct{}
	destroyed bool
}

// SetEnv sets one environment variable on the sandbox.
func (s *Sandbox) SetEnv(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Env[key] = value
}

// PrependPath puts dir in front of the sandbox's PATH.
func (s *Sandbox) PrependPath(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.Env["PATH"]; cur != "" {
		s.Env["PATH"] = dir + string(os.PathListSeparator) + cur
	} else {
		s.Env["PATH"] = dir
	}
}

// environ flattens the env map (plus overrides) into exec.Cmd form.
func (s *Sandbox) environ(extra map[string]string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make(map[string]string, len(s.Env)+len(extra))
	for k, v := range s.Env {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// Config configures the sandbox manager.
type Config struct {
	// BaseDir is where sandbox roots are created. Empty = the system temp dir.
	BaseDir string

	// HostBinaries is the allow-list of host executables symlinked into each
	// sandbox's bin directory. git and sh are mandatory; the rest are
	// borrowed on a best-effort basis.
	HostBinaries []string

	// CommandTimeout bounds each Exec call when the caller's context carries
	// no deadline of its own.
	CommandTimeout time.Duration

	// Metrics records per-command counters and durations. Optional.
	Metrics *observability.MetricsCollector
}

// Manager creates, executes into, and destroys sandboxes.
type Manager struct {
	baseDir      string
	hostBinaries []string
	timeout      time.Duration
	metrics      *observability.MetricsCollector
	logger       *slog.Logger
}

const defaultCommandTimeout = 10 * time.Minute

// requiredBinaries must resolve on the host or sandbox creation fails.
var requiredBinaries = map[string]bool{"git": true, "sh": true}

// NewManager creates a sandbox manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	timeout := cfg.CommandTimeout
	if timeout == 0 {
		timeout = defaultCommandTimeout
	}
	bins := cfg.HostBinaries
	if len(bins) == 0 {
		bins = []string{"git", "sh", "env", "uname", "tar", "gzip", "ls", "cat"}
	}
	return &Manager{
		baseDir:      cfg.BaseDir,
		hostBinaries: bins,
		timeout:      timeout,
		metrics:      cfg.Metrics,
		logger:       logger,
	}
}

// Create builds a new sandbox root with the standard directory layout, a
// scrubbed environment map, borrowed host binaries, and owner-only
// permissions. Any failure removes whatever was partially created.
func (m *Manager) Create(prefix string) (*Sandbox, error) {
	root, err := os.MkdirTemp(m.baseDir, prefix+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}

	sb, err := m.populate(root)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}

	m.logger.Info("sandbox created",
		slog.String("root", sb.Root),
		slog.String("work_dir", sb.WorkDir),
	)
	return sb, nil
}

func (m *Manager) populate(root string) (*Sandbox, error) {
	sb := &Sandbox{
		Root:     root,
		BinDir:   filepath.Join(root, "bin"),
		TmpDir:   filepath.Join(root, "tmp"),
		WorkDir:  filepath.Join(root, "work"),
		CacheDir: filepath.Join(root, "cache"),
		active:   make(map[*exec.Cmd]struct{}),
	}

	for _, dir := range []string{sb.BinDir, sb.TmpDir, sb.WorkDir, sb.CacheDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("creating sandbox directory %s: %w", dir, err)
		}
	}

	sb.Env = scrubbedEnv(sb)

	if err := m.borrowHostBinaries(sb); err != nil {
		return nil, err
	}

	if err := harden(root); err != nil {
		return nil, fmt.Errorf("hardening sandbox permissions: %w", err)
	}

	return sb, nil
}

// scrubbedEnv builds the sandbox environment from scratch. Host variables
// that could leak state (LD_PRELOAD, LD_LIBRARY_PATH, PYTHONPATH, NODE_PATH)
// are never copied; only PATH survives, with the sandbox bin dir in front.
func scrubbedEnv(sb *Sandbox) map[string]string {
	hostPath := os.Getenv("PATH")
	if hostPath == "" {
		hostPath = "/usr/local/bin:/usr/bin:/bin"
	}
	return map[string]string{
		"PATH":            sb.BinDir + string(os.PathListSeparator) + hostPath,
		"HOME":            sb.WorkDir,
		"TMPDIR":          sb.TmpDir,
		"XDG_RUNTIME_DIR": sb.TmpDir,
		"XDG_CACHE_HOME":  sb.CacheDir,
		"LANG":            "en_US.UTF-8",
		"TERM":            "dumb",
	}
}

// borrowHostBinaries symlinks the allow-listed host executables into the
// sandbox bin dir. The allow-list is deliberately narrow: the
// version-control client plus a few POSIX utilities.
func (m *Manager) borrowHostBinaries(sb *Sandbox) error {
	for _, name := range m.hostBinaries {
		path, err := exec.LookPath(name)
		if err != nil {
			if requiredBinaries[name] {
				return fmt.Errorf("required host binary %q not found: %w", name, err)
			}
			m.logger.Debug("optional host binary not found, skipping",
				slog.String("binary", name))
			continue
		}
		link := filepath.Join(sb.BinDir, name)
		if err := os.Symlink(path, link); err != nil && !os.IsExist(err) {
			return fmt.Errorf("borrowing host binary %q: %w", name, err)
		}
	}
	return nil
}

// harden recursively restricts the sandbox tree to owner-only permissions.
func harden(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil // chmod would follow the link target
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(path, 0700)
		}
		return os.Chmod(path, info.Mode().Perm()&0700)
	})
}

// Cleanup destroys a sandbox: outstanding subprocesses are killed first so
// nothing is left referencing removed paths, then the backing directory is
// deleted. Safe to call more than once.
func (m *Manager) Cleanup(sb *Sandbox) error {
	if sb == nil {
		return nil
	}

	sb.mu.Lock()
	already := sb.destroyed
	sb.destroyed = true
	procs := make([]*exec.Cmd, 0, len(sb.active))
	for cmd := range sb.active {
		procs = append(procs, cmd)
	}
	sb.mu.Unlock()

	for _, cmd := range procs {
		if cmd.Process != nil {
			// Negative PID = the whole process group.
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	if err := os.RemoveAll(sb.Root); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing sandbox root %s: %w", sb.Root, err)
	}
	if !already {
		m.logger.Info("sandbox destroyed", slog.String("root", sb.Root))
	}
	return nil
}
