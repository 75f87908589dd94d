// Package binaries resolves named runtime executables (node, bun, uv) to
// cached, checksum-verified local binaries, fetching them on first use.
package binaries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/observability"
)

// Sentinel errors for the provisioning taxonomy.
var (
	// ErrUnknownBinary means no spec exists for the requested name.
	ErrUnknownBinary = errors.New("unknown binary")
	// ErrChecksumMismatch means the downloaded archive failed verification.
	// The archive is discarded, never installed.
	ErrChecksumMismatch = errors.New("checksum verification failed")
	// ErrChecksumNotFound means the published manifest has no entry for the
	// downloaded archive filename.
	ErrChecksumNotFound = errors.New("checksum not found in manifest")
)

// Provisioner materializes runtime executables into a version-keyed cache.
type Provisioner struct {
	cacheDir    string
	downloadDir string
	specs       map[string]config.BinarySpec
	client      *http.Client
	metrics     *observability.MetricsCollector
	logger      *slog.Logger

	// resolved memoizes name -> cached executable path for this process.
	resolved *xsync.MapOf[string, string]
	// inflight dedupes concurrent downloads of the same binary.
	inflight singleflight.Group
}

// NewProvisioner creates a provisioner caching under cacheDir and staging
// in-flight downloads under downloadDir (empty = the system temp dir).
// metrics may be nil.
func NewProvisioner(cacheDir, downloadDir string, specs map[string]config.BinarySpec, metrics *observability.MetricsCollector, logger *slog.Logger) *Provisioner {
	if specs == nil {
		specs = config.DefaultBinarySpecs()
	}
	return &Provisioner{
		cacheDir:    cacheDir,
		downloadDir: downloadDir,
		specs:       specs,
		client:      &http.Client{Timeout: 5 * time.Minute},
		metrics:     metrics,
		logger:      logger,
		resolved:    xsync.NewMapOf[string, string](),
	}
}

// Ensure returns the path to a verified executable for name, downloading,
// verifying, and caching it on first use. Concurrent calls for the same name
// download at most once.
func (p *Provisioner) Ensure(ctx context.Context, name string) (string, error) {
	if path, ok := p.resolved.Load(name); ok {
		return path, nil
	}

	v, err, _ := p.inflight.Do(name, func() (any, error) {
		return p.ensure(ctx, name)
	})
	if err != nil {
		return "", err
	}
	path := v.(string)
	p.resolved.Store(name, path)
	return path, nil
}

func (p *Provisioner) ensure(ctx context.Context, name string) (string, error) {
	spec, ok := p.specs[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownBinary, name)
	}

	if path, ok := p.cachedPath(name, spec.Version); ok {
		p.logger.Debug("binary cache hit",
			slog.String("binary", name),
			slog.String("path", path),
		)
		return path, nil
	}

	plat, err := platformFor(name)
	if err != nil {
		return "", err
	}

	started := time.Now()
	cached, err := p.fetch(ctx, name, spec, plat)
	p.recordDownload(name, time.Since(started), err)
	if err != nil {
		return "", err
	}

	// Old versions are dead weight once a newer one is verified.
	p.evictStale(name, spec.Version)

	return cached, nil
}

// fetch downloads, verifies, extracts, and caches one binary.
func (p *Provisioner) fetch(ctx context.Context, name string, spec config.BinarySpec, plat platform) (string, error) {
	downloadURL := expandTemplate(spec.URLTemplate, spec.Version, plat)
	archiveName := filepath.Base(downloadURL)

	tmpDir, err := os.MkdirTemp(p.downloadDir, "fetch-*")
	if err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archivePath := filepath.Join(tmpDir, archiveName)
	p.logger.Info("downloading binary",
		slog.String("binary", name),
		slog.String("url", downloadURL),
	)
	if err := p.download(ctx, downloadURL, archivePath); err != nil {
		return "", fmt.Errorf("downloading %s: %w", name, err)
	}

	checksum, err := p.publishedChecksum(ctx, spec, plat, archiveName)
	if err != nil {
		return "", err
	}
	if err := verifyChecksum(archivePath, checksum); err != nil {
		return "", fmt.Errorf("verifying %s: %w", archiveName, err)
	}

	binaryName := spec.ArchivePath
	if binaryName == "" {
		binaryName = name
	}
	extracted, err := extractBinary(archivePath, binaryName, tmpDir)
	if err != nil {
		return "", fmt.Errorf("extracting %s from %s: %w", binaryName, archiveName, err)
	}

	return p.store(name, spec.Version, checksum, extracted)
}

// recordDownload is a no-op without a collector. Cache hits never reach it;
// only real fetch attempts count as downloads.
func (p *Provisioner) recordDownload(name string, d time.Duration, err error) {
	if p.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.metrics.BinaryDownloadsTotal.WithLabelValues(name, status).Inc()
	p.metrics.BinaryDownloadDuration.WithLabelValues(name).Observe(d.Seconds())
}

// download streams url to dest.
func (p *Provisioner) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return err
	}
	return out.Close()
}

// publishedChecksum fetches the checksum manifest and finds the entry for
// archiveName. Manifest format: "checksum<whitespace>filename" per line,
// matched by filename suffix.
func (p *Provisioner) publishedChecksum(ctx context.Context, spec config.BinarySpec, plat platform, archiveName string) (string, error) {
	if spec.ChecksumURL == "" {
		return "", fmt.Errorf("%w: no checksum manifest configured", ErrChecksumNotFound)
	}
	url := expandTemplate(spec.ChecksumURL, spec.Version, plat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching checksum manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching checksum manifest: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return findChecksum(string(body), archiveName)
}

// findChecksum scans a manifest for the line whose filename suffix-matches
// archiveName.
func findChecksum(manifest, archiveName string) (string, error) {
	for _, line := range strings.Split(manifest, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Some manifests prefix filenames with "*" (binary mode marker).
		name := strings.TrimPrefix(fields[len(fields)-1], "*")
		if strings.HasSuffix(name, archiveName) {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrChecksumNotFound, archiveName)
}
