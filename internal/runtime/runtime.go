// Package runtime detects which language runtime a project uses and installs
// its dependencies inside a sandbox.
package runtime

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// Name identifies a supported language runtime.
type Name string

const (
	Python Name = "python"
	Node   Name = "node"
	Bun    Name = "bun"
)

// PackageManager identifies the tool that installs a project's dependencies.
type PackageManager string

const (
	UV    PackageManager = "uv"
	NPM   PackageManager = "npm"
	BunPM PackageManager = "bun"
)

// Config is the immutable description of one supported runtime. Instances
// are chosen at detection time and never mutated.
type Config struct {
	Name Name

	// Markers are the files that signal this runtime. A candidate matches
	// only if every marker is present somewhere under the project tree
	// (suffix match against the recursive file listing).
	Markers []string

	// PackageManager is the default manager for this runtime.
	PackageManager PackageManager

	// EnvSetup holds baseline environment variables merged into the sandbox
	// before installation (telemetry and interactive-hint suppression).
	EnvSetup map[string]string

	// BinPath is where the manager's install step puts project-local
	// executables, relative to the work dir. Prepended to PATH before
	// installing so post-install tool invocations resolve.
	BinPath string

	// BinaryName is the runtime executable the provisioner materializes.
	BinaryName string
}

// ErrNoRuntime is returned when no supported runtime matches the project.
var ErrNoRuntime = errors.New("no supported runtime detected")

// candidates returns the detection candidates in fixed priority order, most
// specific first. Marker sets overlap (a Bun project also carries
// package.json), so the Bun candidates must precede Node. Runtimes with
// alternative descriptor files appear once per alternative.
func candidates() []Config {
	bun := Config{
		Name:           Bun,
		PackageManager: BunPM,
		EnvSetup:       map[string]string{"NO_INSTALL_HINTS": "1"},
		BinPath:        filepath.Join("node_modules", ".bin"),
		BinaryName:     "bun",
	}
	node := Config{
		Name:           Node,
		PackageManager: NPM,
		EnvSetup: map[string]string{
			"NODE_NO_WARNINGS":           "1",
			"NPM_CONFIG_UPDATE_NOTIFIER": "false",
		},
		BinPath:    filepath.Join("node_modules", ".bin"),
		BinaryName: "node",
	}
	python := Config{
		Name:           Python,
		PackageManager: UV,
		EnvSetup:       map[string]string{"PIP_NO_CACHE_DIR": "1"},
		BinPath:        filepath.Join(".venv", "bin"),
		BinaryName:     "uv",
	}

	withMarkers := func(c Config, markers ...string) Config {
		c.Markers = markers
		return c
	}
	return []Config{
		withMarkers(bun, "bun.lockb", "package.json"),
		withMarkers(bun, "bun.lock", "package.json"),
		withMarkers(node, "package.json"),
		withMarkers(python, "pyproject.toml"),
		withMarkers(python, "setup.py"),
	}
}

// Detect inspects the project tree under workDir and returns the matching
// runtime configuration. First matching candidate in priority order wins;
// no match is a detection error, reported to the caller and never retried.
func Detect(workDir string) (Config, error) {
	files, err := listFiles(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("listing project files: %w", err)
	}

	for _, cand := range candidates() {
		if matchesAll(files, cand.Markers) {
			return cand, nil
		}
	}
	return Config{}, ErrNoRuntime
}

// listFiles returns every file path under root, relative, forward-slashed.
func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Dependency trees are huge and never carry project markers.
			if name := d.Name(); name == ".git" || name == "node_modules" || name == ".venv" {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

func matchesAll(files, markers []string) bool {
	for _, marker := range markers {
		if !anySuffix(files, marker) {
			return false
		}
	}
	return len(markers) > 0
}

func anySuffix(files []string, marker string) bool {
	for _, f := range files {
		if f == marker || strings.HasSuffix(f, "/"+marker) {
			return true
		}
	}
	return false
}
