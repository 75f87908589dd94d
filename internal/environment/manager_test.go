package environment

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/runbox/internal/observability"
	"github.com/jkaninda/runbox/internal/sandbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	sandboxes := sandbox.NewManager(sandbox.Config{BaseDir: t.TempDir()}, testLogger())
	tracer := (*observability.TracerSetup)(nil).Tracer()
	return NewManager(sandboxes, nil, NewStore(), nil, tracer, testLogger())
}

// --- Error paths (no runtime install required) ---

func TestCreateFromPath_MissingDirectory(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateFromPath(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing project path")
	}
}

func TestCreateFromPath_FileNotDirectory(t *testing.T) {
	m := newTestManager(t)
	file := filepath.Join(t.TempDir(), "project.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreateFromPath(context.Background(), file); err == nil {
		t.Fatal("expected error for non-directory path")
	}
}

func TestCreateFromGitHub_InvalidURL(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateFromGitHub(context.Background(), "http://github.com/a/b", ""); err == nil {
		t.Fatal("expected error for http:// URL")
	}
	if m.Store().Len() != 0 {
		t.Error("failed creation must not register an environment")
	}
}

func TestRunTests_UnknownEnvironment(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.RunTests(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected error for unknown environment")
	}
}

func TestCleanup_UnknownEnvironmentIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.Cleanup(context.Background(), "does-not-exist"); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
}

// --- copyTree ---

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "pkg"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "pkg", "run.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("/etc/passwd", filepath.Join(src, "link")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	dest := t.TempDir()
	if err := copyTree(src, dest); err != nil {
		t.Fatalf("copyTree() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "main.py"))
	if err != nil {
		t.Fatalf("copied file missing: %v", err)
	}
	if string(data) != "print('hi')\n" {
		t.Errorf("copied content = %q", data)
	}

	info, err := os.Stat(filepath.Join(dest, "pkg", "run.sh"))
	if err != nil {
		t.Fatalf("nested file missing: %v", err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Error("executable bit lost in copy")
	}

	if _, err := os.Lstat(filepath.Join(dest, "link")); !os.IsNotExist(err) {
		t.Error("symlink must not be copied")
	}
}
