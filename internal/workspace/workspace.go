// Package workspace manages the runbox runtime directory structure.
// All runtime state (sandbox roots, the binary cache, download staging) is
// consolidated under a single workspace root, making runbox portable.
//
// Default workspace: ~/.runbox/workspace (configurable via config or the
// RUNBOX_WORKSPACE env var).
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Default workspace location relative to user home directory.
const defaultRelativePath = ".runbox/workspace"

// Workspace manages all runbox runtime directories and derived paths.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // tracks which directories have been ensured
}

// New creates a Workspace rooted at the given path.
// It resolves ~ to the user's home directory and creates the root directory
// with appropriate permissions if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// Default creates a Workspace at ~/.runbox/workspace.
func Default() (*Workspace, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("determining home directory: %w", err)
	}
	return New(filepath.Join(home, defaultRelativePath))
}

// --- Top-level directory accessors ---

// SandboxesDir returns <root>/sandboxes/. Ephemeral per-environment roots.
func (w *Workspace) SandboxesDir() string {
	return w.dir("sandboxes")
}

// BinaryCacheDir returns <root>/binaries/. Verified runtime executables,
// keyed name/version/checksum.
func (w *Workspace) BinaryCacheDir() string {
	return w.dir("binaries")
}

// DownloadsDir returns <root>/downloads/. Scratch space for in-flight
// archive downloads; contents are discarded after extraction.
func (w *Workspace) DownloadsDir() string {
	return w.dir("downloads")
}

// dir returns the path for a named subdirectory, creating it on first access.
func (w *Workspace) dir(name string) string {
	path := filepath.Join(w.Root, name)

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.created[path] {
		if err := os.MkdirAll(path, 0750); err == nil {
			w.created[path] = true
		}
	}
	return path
}

// ensureDir creates a directory if it does not exist and records it.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.created[path] {
		return nil
	}
	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}
	w.created[path] = true
	return nil
}

// resolvePath expands a leading ~ and returns an absolute path.
func resolvePath(path string) (string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, defaultRelativePath), nil
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
