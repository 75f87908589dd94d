package testrun

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeProject lays files (path -> content) under a temp root and returns a
// detection target for the given runtime.
func writeProject(t *testing.T, rt runtime.Name, files map[string]string) Target {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return Target{
		Sandbox: &sandbox.Sandbox{WorkDir: root},
		Runtime: runtime.Config{Name: rt},
	}
}

// --- FindTestDirs ---

func TestFindTestDirs(t *testing.T) {
	target := writeProject(t, runtime.Python, map[string]string{
		"tests/test_a.py":          "",
		"src/helpers/test_b.py":    "", // unconventional dir, but holds test files
		"src/app.py":               "",
		"node_modules/x/test_c.py": "", // dependency tree, skipped
	})

	dirs := FindTestDirs(target.Sandbox.WorkDir, runtime.Python)
	want := map[string]bool{
		filepath.Join(target.Sandbox.WorkDir, "tests"):          true,
		filepath.Join(target.Sandbox.WorkDir, "src", "helpers"): true,
	}
	if len(dirs) != len(want) {
		t.Fatalf("dirs = %v, want %d entries", dirs, len(want))
	}
	for _, d := range dirs {
		if !want[d] {
			t.Errorf("unexpected test dir %s", d)
		}
	}
}

func TestFindTestDirs_JavaScriptConventions(t *testing.T) {
	target := writeProject(t, runtime.Node, map[string]string{
		"__tests__/app.test.ts": "",
		"lib/util.spec.js":      "",
		"lib/util.js":           "",
	})
	dirs := FindTestDirs(target.Sandbox.WorkDir, runtime.Node)
	if len(dirs) != 2 {
		t.Fatalf("dirs = %v, want 2 entries", dirs)
	}
}

// --- isTestFile ---

func TestIsTestFile(t *testing.T) {
	tests := []struct {
		name string
		rt   runtime.Name
		want bool
	}{
		{"test_math.py", runtime.Python, true},
		{"math_test.py", runtime.Python, true},
		{"math.py", runtime.Python, false},
		{"test_math.js", runtime.Python, false},
		{"app.test.ts", runtime.Node, true},
		{"app.spec.mjs", runtime.Bun, true},
		{"app.ts", runtime.Node, false},
		{"apptest.js", runtime.Node, false},
	}
	for _, tc := range tests {
		if got := isTestFile(tc.name, tc.rt); got != tc.want {
			t.Errorf("isTestFile(%q, %s) = %v, want %v", tc.name, tc.rt, got, tc.want)
		}
	}
}

// --- DetectFrameworks ---

func TestDetectFrameworks_PytestViaConfigFile(t *testing.T) {
	target := writeProject(t, runtime.Python, map[string]string{
		"pytest.ini":      "[pytest]\n",
		"tests/test_a.py": "def test_a():\n    assert True\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Pytest) {
		t.Error("expected pytest via pytest.ini")
	}
}

func TestDetectFrameworks_BothPythonFrameworks(t *testing.T) {
	target := writeProject(t, runtime.Python, map[string]string{
		"tests/test_a.py": "import pytest\n\ndef test_a():\n    assert True\n",
		"tests/test_b.py": "import unittest\n\nclass T(unittest.TestCase):\n    pass\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Pytest) || !fws.Contains(Unittest) {
		t.Errorf("frameworks = %v, want both pytest and unittest", fws.ToSlice())
	}
}

func TestDetectFrameworks_UnittestStructuralFallback(t *testing.T) {
	target := writeProject(t, runtime.Python, map[string]string{
		"tests/test_a.py": "class TestMath(TestCase):\n    pass\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Unittest) {
		t.Error("expected unittest via structural fallback")
	}
	if fws.Contains(Pytest) {
		t.Error("nothing points at pytest here")
	}
}

func TestDetectFrameworks_VitestViaImport(t *testing.T) {
	target := writeProject(t, runtime.Node, map[string]string{
		"package.json":      `{"name": "x"}`,
		"tests/app.test.ts": "import { describe, it } from 'vitest'\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Vitest) {
		t.Error("expected vitest via import")
	}
}

func TestDetectFrameworks_JestViaManifest(t *testing.T) {
	target := writeProject(t, runtime.Node, map[string]string{
		"package.json":      `{"devDependencies": {"jest": "^29.0.0"}}`,
		"tests/app.test.js": "test('x', () => {})\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Jest) {
		t.Error("expected jest via package.json dependency")
	}
}

func TestDetectFrameworks_JestStructuralFallback(t *testing.T) {
	target := writeProject(t, runtime.Node, map[string]string{
		"package.json":      `{"name": "x"}`,
		"tests/app.test.js": "describe('math', () => { it('adds', () => {}) })\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.Contains(Jest) {
		t.Error("bare describe/it files default to jest")
	}
}

func TestDetectFrameworks_NoneDetected(t *testing.T) {
	target := writeProject(t, runtime.Python, map[string]string{
		"app.py": "print('hi')\n",
	})
	fws := DetectFrameworks(target, discardLogger())
	if !fws.IsEmpty() {
		t.Errorf("frameworks = %v, want empty set", fws.ToSlice())
	}
}
