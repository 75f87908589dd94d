package binaries

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	dto "github.com/prometheus/client_model/go"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/observability"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const fakeBinary = "#!/bin/sh\necho node\n"

// makeTarGz builds a gzipped tarball holding one file at entryName.
func makeTarGz(t *testing.T, entryName string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{
		Name:     entryName,
		Mode:     0755,
		Size:     int64(len(content)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatalf("writing tar header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("writing tar content: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

// testFixture serves one node archive plus a checksum manifest over httptest
// and returns specs pointing at it. downloads counts archive requests.
func testFixture(t *testing.T, manifestSum string) (specs map[string]config.BinarySpec, downloads *atomic.Int64, teardown func()) {
	t.Helper()
	plat, err := platformFor("node")
	if err != nil {
		t.Skipf("unsupported test platform: %v", err)
	}

	archive := makeTarGz(t, "node-v9.9.9-dist/bin/node", []byte(fakeBinary))
	archiveName := fmt.Sprintf("node-9.9.9-%s-%s.%s", plat.os, plat.arch, plat.ext)

	sum := manifestSum
	if sum == "" {
		digest := sha256.Sum256(archive)
		sum = hex.EncodeToString(digest[:])
	}

	downloads = &atomic.Int64{}
	mux := http.NewServeMux()
	mux.HandleFunc("/dist/"+archiveName, func(w http.ResponseWriter, _ *http.Request) {
		downloads.Add(1)
		_, _ = w.Write(archive)
	})
	mux.HandleFunc("/dist/SHASUMS256.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "%s  %s\n", sum, archiveName)
	})
	srv := httptest.NewServer(mux)

	specs = map[string]config.BinarySpec{
		"node": {
			Version:     "9.9.9",
			URLTemplate: srv.URL + "/dist/node-{version}-{platform}-{arch}.{ext}",
			ChecksumURL: srv.URL + "/dist/SHASUMS256.txt",
			ArchivePath: "bin/node",
		},
	}
	return specs, downloads, srv.Close
}

// --- Ensure ---

func TestEnsure_DownloadsVerifiesAndCaches(t *testing.T) {
	specs, downloads, teardown := testFixture(t, "")
	defer teardown()

	cacheDir := t.TempDir()
	p := NewProvisioner(cacheDir, t.TempDir(), specs, nil, testLogger())

	path, err := p.Ensure(context.Background(), "node")
	if err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading cached binary: %v", err)
	}
	if string(data) != fakeBinary {
		t.Errorf("cached binary content = %q", data)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0100 == 0 {
		t.Error("cached binary is not executable")
	}
	if got := downloads.Load(); got != 1 {
		t.Errorf("downloads = %d, want 1", got)
	}

	// Second call is memoized.
	if _, err := p.Ensure(context.Background(), "node"); err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}
	if got := downloads.Load(); got != 1 {
		t.Errorf("downloads after memoized call = %d, want 1", got)
	}

	// A fresh provisioner over the same cache dir hits disk, not the network.
	p2 := NewProvisioner(cacheDir, t.TempDir(), specs, nil, testLogger())
	if _, err := p2.Ensure(context.Background(), "node"); err != nil {
		t.Fatalf("Ensure() on warm cache error: %v", err)
	}
	if got := downloads.Load(); got != 1 {
		t.Errorf("downloads after warm-cache call = %d, want 1", got)
	}
}

func TestEnsure_ChecksumMismatchNotCached(t *testing.T) {
	wrong := "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	specs, _, teardown := testFixture(t, wrong)
	defer teardown()

	cacheDir := t.TempDir()
	p := NewProvisioner(cacheDir, t.TempDir(), specs, nil, testLogger())

	_, err := p.Ensure(context.Background(), "node")
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Ensure() error = %v, want ErrChecksumMismatch", err)
	}
	if _, ok := p.cachedPath("node", "9.9.9"); ok {
		t.Error("unverified binary ended up in the cache")
	}
}

func TestEnsure_ChecksumMissingFromManifest(t *testing.T) {
	specs, _, teardown := testFixture(t, "")
	defer teardown()

	// Point the manifest URL at the archive itself: no matching line.
	spec := specs["node"]
	spec.ChecksumURL = spec.URLTemplate
	specs["node"] = spec

	p := NewProvisioner(t.TempDir(), t.TempDir(), specs, nil, testLogger())
	_, err := p.Ensure(context.Background(), "node")
	if !errors.Is(err, ErrChecksumNotFound) {
		t.Fatalf("Ensure() error = %v, want ErrChecksumNotFound", err)
	}
}

func TestEnsure_RecordsDownloadMetrics(t *testing.T) {
	specs, _, teardown := testFixture(t, "")
	defer teardown()

	metrics := observability.NewMetricsCollector()
	p := NewProvisioner(t.TempDir(), t.TempDir(), specs, metrics, testLogger())

	if _, err := p.Ensure(context.Background(), "node"); err != nil {
		t.Fatalf("Ensure() error: %v", err)
	}
	// Warm-cache call must not count as a download.
	if _, err := p.Ensure(context.Background(), "node"); err != nil {
		t.Fatalf("second Ensure() error: %v", err)
	}

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	var total *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "runbox_binaries_downloads_total" {
			total = f
		}
	}
	if total == nil {
		t.Fatal("runbox_binaries_downloads_total not recorded")
	}
	if len(total.GetMetric()) != 1 {
		t.Fatalf("metric series = %d, want 1", len(total.GetMetric()))
	}
	m := total.GetMetric()[0]
	labels := make(map[string]string)
	for _, l := range m.GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["binary"] != "node" || labels["status"] != "ok" {
		t.Errorf("labels = %v, want binary=node status=ok", labels)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("download count = %v, want 1", got)
	}
}

func TestEnsure_UnknownBinary(t *testing.T) {
	p := NewProvisioner(t.TempDir(), t.TempDir(), map[string]config.BinarySpec{}, nil, testLogger())
	_, err := p.Ensure(context.Background(), "ruby")
	if !errors.Is(err, ErrUnknownBinary) {
		t.Fatalf("Ensure() error = %v, want ErrUnknownBinary", err)
	}
}

// --- Manifest parsing ---

func TestFindChecksum(t *testing.T) {
	manifest := "abc123  node-9.9.9-linux-x64.tar.gz\n" +
		"def456 *bun-linux-x64.zip\n" +
		"malformed-line\n"

	tests := []struct {
		archive string
		want    string
		wantErr bool
	}{
		{archive: "node-9.9.9-linux-x64.tar.gz", want: "abc123"},
		{archive: "bun-linux-x64.zip", want: "def456"}, // "*" marker stripped
		{archive: "uv-x86_64.tar.gz", wantErr: true},
	}
	for _, tc := range tests {
		got, err := findChecksum(manifest, tc.archive)
		if tc.wantErr {
			if !errors.Is(err, ErrChecksumNotFound) {
				t.Errorf("findChecksum(%q) error = %v, want ErrChecksumNotFound", tc.archive, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("findChecksum(%q) error: %v", tc.archive, err)
			continue
		}
		if got != tc.want {
			t.Errorf("findChecksum(%q) = %q, want %q", tc.archive, got, tc.want)
		}
	}
}

// --- Template expansion ---

func TestExpandTemplate(t *testing.T) {
	got := expandTemplate("https://host/{version}/x-{platform}-{arch}.{ext}", "1.2.3",
		platform{os: "linux", arch: "x64", ext: "tar.gz"})
	want := "https://host/1.2.3/x-linux-x64.tar.gz"
	if got != want {
		t.Errorf("expandTemplate = %q, want %q", got, want)
	}
}
