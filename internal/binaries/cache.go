package binaries

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Cache layout: <cacheDir>/<name>/<version>-<checksum>/<name>.
// The checksum in the directory name ties the cached file to the exact
// archive that was verified.

// cachedPath returns the cached executable for name at version, if present.
func (p *Provisioner) cachedPath(name, version string) (string, bool) {
	entries, err := os.ReadDir(filepath.Join(p.cacheDir, name))
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), version+"-") {
			continue
		}
		path := filepath.Join(p.cacheDir, name, e.Name(), name)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

// store moves a verified binary into the cache and marks it executable.
func (p *Provisioner) store(name, version, checksum, src string) (string, error) {
	dir := filepath.Join(p.cacheDir, name, version+"-"+checksum)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}
	dest := filepath.Join(dir, name)

	// Rename can fail across filesystems; fall back to a copy.
	if err := os.Rename(src, dest); err != nil {
		if err := copyFile(src, dest); err != nil {
			return "", fmt.Errorf("caching binary: %w", err)
		}
	}
	if err := os.Chmod(dest, 0755); err != nil {
		return "", fmt.Errorf("marking binary executable: %w", err)
	}

	p.logger.Info("binary cached",
		slog.String("binary", name),
		slog.String("version", version),
		slog.String("path", dest),
	)
	return dest, nil
}

// evictStale removes cached versions of name other than current. Best
// effort: eviction failures are logged, never fatal.
func (p *Provisioner) evictStale(name, current string) {
	dir := filepath.Join(p.cacheDir, name)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), current+"-") {
			continue
		}
		stale := filepath.Join(dir, e.Name())
		if err := os.RemoveAll(stale); err != nil {
			p.logger.Warn("failed to evict stale binary version",
				slog.String("path", stale),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Debug("evicted stale binary version", slog.String("path", stale))
	}
}

// EvictAllStale walks every known spec and evicts versions that no longer
// match. Called by the janitor.
func (p *Provisioner) EvictAllStale() {
	for name, spec := range p.specs {
		p.evictStale(name, spec.Version)
	}
}

// verifyChecksum compares the file's sha256 digest against expected.
func verifyChecksum(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, actual, expected)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
