package testrun

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/jkaninda/runbox/internal/runtime"
	"github.com/jkaninda/runbox/internal/sandbox"
)

// Target is what the detector and adapters operate on: one environment's
// sandbox plus its detected runtime.
type Target struct {
	Sandbox *sandbox.Sandbox
	Runtime runtime.Config
}

// testDirNames are the directory-name conventions that signal test code.
var testDirNames = map[string]bool{
	"tests":             true,
	"test":              true,
	"testing":           true,
	"unit_tests":        true,
	"integration_tests": true,
	"__tests__":         true,
}

// FindTestDirs returns every directory under workDir that either matches a
// conventional test-directory name or directly contains test files for the
// given runtime. Sorted for deterministic scheduling.
func FindTestDirs(workDir string, rt runtime.Name) []string {
	found := mapset.NewSet[string]()

	_ = filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		name := d.Name()
		if name == ".git" || name == "node_modules" || name == ".venv" {
			if path != workDir {
				return filepath.SkipDir
			}
			return nil
		}
		if path == workDir {
			return nil
		}
		if testDirNames[strings.ToLower(name)] || containsTestFiles(path, rt) {
			found.Add(path)
		}
		return nil
	})

	dirs := found.ToSlice()
	sort.Strings(dirs)
	return dirs
}

// containsTestFiles reports whether dir directly holds files whose names
// signal tests for the runtime.
func containsTestFiles(dir string, rt runtime.Name) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isTestFile(e.Name(), rt) {
			return true
		}
	}
	return false
}

func isTestFile(name string, rt runtime.Name) bool {
	switch rt {
	case runtime.Python:
		return strings.HasSuffix(name, ".py") &&
			(strings.HasPrefix(name, "test_") || strings.HasSuffix(name, "_test.py"))
	default: // Node, Bun
		for _, ext := range []string{".js", ".jsx", ".ts", ".tsx", ".mjs"} {
			if strings.HasSuffix(name, ".test"+ext) || strings.HasSuffix(name, ".spec"+ext) {
				return true
			}
		}
		return false
	}
}

// DetectFrameworks inspects the project for test frameworks. Heuristics, in
// order: framework-specific config files, import statements in test files,
// manifest dependency declarations, and finally structural patterns when
// nothing else fired. Multiple frameworks may be detected at once; an empty
// set is not an error.
func DetectFrameworks(t Target, logger *slog.Logger) mapset.Set[Framework] {
	frameworks := mapset.NewSet[Framework]()
	workDir := t.Sandbox.WorkDir
	testDirs := FindTestDirs(workDir, t.Runtime.Name)

	switch t.Runtime.Name {
	case runtime.Python:
		detectPython(workDir, testDirs, frameworks)
	case runtime.Node, runtime.Bun:
		detectJavaScript(workDir, testDirs, frameworks)
	}

	logger.Info("framework detection complete",
		slog.String("runtime", string(t.Runtime.Name)),
		slog.Any("frameworks", frameworks.ToSlice()),
		slog.Int("test_dirs", len(testDirs)),
	)
	return frameworks
}

func detectPython(workDir string, testDirs []string, frameworks mapset.Set[Framework]) {
	// (a) configuration files.
	for _, cfg := range []string{"pytest.ini", "setup.cfg", "tox.ini"} {
		if fileExists(filepath.Join(workDir, cfg)) {
			frameworks.Add(Pytest)
			break
		}
	}
	for _, dir := range testDirs {
		if fileExists(filepath.Join(dir, "conftest.py")) {
			frameworks.Add(Pytest)
			break
		}
	}

	// (b) import statements in test files.
	scanFiles(testDirs, ".py", func(content string) {
		if hasPythonImport(content, "pytest") {
			frameworks.Add(Pytest)
		}
		if hasPythonImport(content, "unittest") {
			frameworks.Add(Unittest)
		}
	})

	// (c) manifest dependency declarations.
	if manifest := readFile(filepath.Join(workDir, "pyproject.toml")); strings.Contains(manifest, "pytest") {
		frameworks.Add(Pytest)
	}

	// (d) structural fallback: the unittest base-class convention.
	if frameworks.IsEmpty() {
		scanFiles(testDirs, ".py", func(content string) {
			if strings.Contains(content, "class Test") && strings.Contains(content, "TestCase") {
				frameworks.Add(Unittest)
			}
		})
	}
}

func detectJavaScript(workDir string, testDirs []string, frameworks mapset.Set[Framework]) {
	// (a) configuration files.
	for _, cfg := range []string{"jest.config.js", "jest.config.ts", "jest.config.mjs", "jest.config.json"} {
		if fileExists(filepath.Join(workDir, cfg)) {
			frameworks.Add(Jest)
			break
		}
	}
	for _, cfg := range []string{"vitest.config.js", "vitest.config.ts", "vitest.config.mts", "vite.config.js", "vite.config.ts"} {
		if fileExists(filepath.Join(workDir, cfg)) {
			frameworks.Add(Vitest)
			break
		}
	}

	// (b) import statements in test files.
	for _, ext := range []string{".js", ".ts", ".jsx", ".tsx", ".mjs"} {
		scanFiles(testDirs, ext, func(content string) {
			if strings.Contains(content, "from 'vitest'") || strings.Contains(content, `from "vitest"`) {
				frameworks.Add(Vitest)
			}
			if strings.Contains(content, "from '@jest/globals'") || strings.Contains(content, `from "@jest/globals"`) {
				frameworks.Add(Jest)
			}
		})
	}

	// (c) manifest dependency declarations.
	manifest := readFile(filepath.Join(workDir, "package.json"))
	if strings.Contains(manifest, `"jest"`) {
		frameworks.Add(Jest)
	}
	if strings.Contains(manifest, `"vitest"`) {
		frameworks.Add(Vitest)
	}

	// (d) structural fallback: bare describe/it files default to jest, the
	// ecosystem's assumed runner.
	if frameworks.IsEmpty() && len(testDirs) > 0 {
		for _, ext := range []string{".js", ".ts"} {
			scanFiles(testDirs, ext, func(content string) {
				if strings.Contains(content, "describe(") || strings.Contains(content, "it(") {
					frameworks.Add(Jest)
				}
			})
		}
	}
}

// hasPythonImport matches both import forms the language allows.
func hasPythonImport(content, module string) bool {
	return strings.Contains(content, "import "+module) ||
		strings.Contains(content, "from "+module)
}

// scanFiles calls fn with the content of every file under dirs carrying ext.
func scanFiles(dirs []string, ext string, fn func(content string)) {
	for _, dir := range dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !strings.HasSuffix(path, ext) {
				return nil
			}
			if content := readFile(path); content != "" {
				fn(content)
			}
			return nil
		})
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
