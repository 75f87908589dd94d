package binaries

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// extractBinary pulls the named binary out of a zip or tar.gz archive into
// destDir and returns its path. The entry is located by filename suffix so
// nested archive layouts (node-v20.x-linux-x64/bin/node) resolve without
// knowing the top-level directory name.
func extractBinary(archivePath, binaryPath, destDir string) (string, error) {
	if strings.HasSuffix(archivePath, ".zip") {
		return extractFromZip(archivePath, binaryPath, destDir)
	}
	return extractFromTarGz(archivePath, binaryPath, destDir)
}

func extractFromZip(archivePath, binaryPath, destDir string) (string, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", err
	}
	defer zr.Close()

	want := filepath.Base(binaryPath)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != want {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		dest := filepath.Join(destDir, want)
		err = writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("binary %s not found in archive", want)
}

func extractFromTarGz(archivePath, binaryPath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("reading gzip stream: %w", err)
	}
	defer gz.Close()

	want := filepath.Base(binaryPath)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		if hdr.Typeflag != tar.TypeReg || filepath.Base(hdr.Name) != want {
			continue
		}
		// For multi-entry archives, respect the configured sub-path when it
		// is more than a bare name (avoids matching stray files like
		// "share/man/node").
		if strings.Contains(binaryPath, "/") && !strings.HasSuffix(hdr.Name, binaryPath) {
			continue
		}
		dest := filepath.Join(destDir, want)
		if err := writeFile(dest, tr); err != nil {
			return "", err
		}
		return dest, nil
	}
	return "", fmt.Errorf("binary %s not found in archive", want)
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return out.Close()
}
