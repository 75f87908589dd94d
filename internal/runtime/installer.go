package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jkaninda/runbox/internal/sandbox"
)

// BinaryProvider materializes a named runtime executable. Implemented by the
// binaries provisioner; faked in tests.
type BinaryProvider interface {
	Ensure(ctx context.Context, name string) (string, error)
}

// MissingToolError means the package-manager executable could not be found.
type MissingToolError struct {
	Tool string
}

func (e *MissingToolError) Error() string {
	return fmt.Sprintf("required tool %q not found in sandbox or host PATH", e.Tool)
}

// InstallError means the package manager ran and exited non-zero. Fatal to
// the environment's usability; never retried automatically.
type InstallError struct {
	Manager  PackageManager
	ExitCode int
	Stderr   string
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("%s install exited %d: %s", e.Manager, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// Installer provisions the runtime executable into a sandbox and runs the
// package manager's install subcommand there.
type Installer struct {
	sandboxes *sandbox.Manager
	binaries  BinaryProvider
	logger    *slog.Logger
}

// NewInstaller creates an installer.
func NewInstaller(sandboxes *sandbox.Manager, binaries BinaryProvider, logger *slog.Logger) *Installer {
	return &Installer{sandboxes: sandboxes, binaries: binaries, logger: logger}
}

// Install makes the runtime usable inside the sandbox: the runtime
// executable is provisioned and linked into the sandbox bin dir, the
// package-manager bin path goes onto PATH *before* installing (so
// post-install invocations of project-local tools resolve), runtime env vars
// are merged, and the install subcommand runs in the work dir.
func (i *Installer) Install(ctx context.Context, sb *sandbox.Sandbox, cfg Config) error {
	if err := i.linkRuntime(ctx, sb, cfg); err != nil {
		return err
	}

	mgr, err := i.resolveManager(sb, cfg.PackageManager)
	if err != nil {
		return err
	}

	// PATH first: the order matters. Anything the install step drops into
	// the project-local bin dir must be resolvable immediately afterwards.
	sb.PrependPath(filepath.Join(sb.WorkDir, cfg.BinPath))

	for k, v := range cfg.EnvSetup {
		sb.SetEnv(k, v)
	}
	switch cfg.Name {
	case Python:
		sb.SetEnv("VIRTUAL_ENV", filepath.Join(sb.WorkDir, ".venv"))
	case Node, Bun:
		sb.SetEnv("NODE_PATH", filepath.Join(sb.WorkDir, "node_modules"))
	}

	argv := installCommand(mgr, cfg.PackageManager)
	i.logger.Info("installing dependencies",
		slog.String("runtime", string(cfg.Name)),
		slog.Any("command", argv),
	)

	res, err := i.sandboxes.Exec(ctx, sb, argv, nil)
	if err != nil {
		return fmt.Errorf("running %s install: %w", cfg.PackageManager, err)
	}
	if res.ExitCode != 0 {
		return &InstallError{
			Manager:  cfg.PackageManager,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}

	i.logger.Info("dependencies installed",
		slog.String("runtime", string(cfg.Name)),
		slog.Duration("duration", res.Duration),
	)
	return nil
}

// linkRuntime ensures the runtime executable exists and symlinks it into the
// sandbox bin dir. Bun doubles as node for tools that shell out to it.
func (i *Installer) linkRuntime(ctx context.Context, sb *sandbox.Sandbox, cfg Config) error {
	path, err := i.binaries.Ensure(ctx, cfg.BinaryName)
	if err != nil {
		return fmt.Errorf("provisioning %s: %w", cfg.BinaryName, err)
	}

	links := []string{cfg.BinaryName}
	if cfg.Name == Bun {
		links = append(links, "node")
	}
	for _, name := range links {
		link := filepath.Join(sb.BinDir, name)
		if err := os.Symlink(path, link); err != nil && !os.IsExist(err) {
			return fmt.Errorf("linking %s into sandbox: %w", name, err)
		}
	}
	return nil
}

// resolveManager finds the package-manager executable: the sandbox bin dir
// first (provisioned or borrowed), then the host PATH.
func (i *Installer) resolveManager(sb *sandbox.Sandbox, mgr PackageManager) (string, error) {
	name := string(mgr)

	local := filepath.Join(sb.BinDir, name)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", &MissingToolError{Tool: name}
}

// installCommand builds the manager-specific install invocation.
func installCommand(mgrPath string, mgr PackageManager) []string {
	switch mgr {
	case UV:
		return []string{mgrPath, "sync"}
	case BunPM:
		return []string{mgrPath, "install"}
	default: // NPM
		return []string{mgrPath, "install"}
	}
}
