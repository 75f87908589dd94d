package binaries

import (
	"fmt"
	"runtime"
	"strings"
)

// platform holds the template values for the current OS/architecture as one
// upstream project names them. Every runtime vendor spells these differently.
type platform struct {
	os   string
	arch string
	ext  string
}

// platformFor maps the current GOOS/GOARCH to the naming scheme used by the
// named binary's release artifacts.
func platformFor(name string) (platform, error) {
	switch name {
	case "node":
		return nodePlatform()
	case "bun":
		return bunPlatform()
	case "uv":
		return uvPlatform()
	default:
		return platform{}, fmt.Errorf("%w: %s", ErrUnknownBinary, name)
	}
}

func nodePlatform() (platform, error) {
	p := platform{ext: "tar.gz"}
	switch runtime.GOOS {
	case "linux":
		p.os = "linux"
	case "darwin":
		p.os = "darwin"
	default:
		return p, fmt.Errorf("unsupported OS for node: %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64":
		p.arch = "x64"
	case "arm64":
		p.arch = "arm64"
	default:
		return p, fmt.Errorf("unsupported architecture for node: %s", runtime.GOARCH)
	}
	return p, nil
}

func bunPlatform() (platform, error) {
	p := platform{ext: "zip"}
	switch runtime.GOOS {
	case "linux":
		p.os = "linux"
	case "darwin":
		p.os = "darwin"
	default:
		return p, fmt.Errorf("unsupported OS for bun: %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64":
		p.arch = "x64"
	case "arm64":
		p.arch = "aarch64"
	default:
		return p, fmt.Errorf("unsupported architecture for bun: %s", runtime.GOARCH)
	}
	return p, nil
}

func uvPlatform() (platform, error) {
	p := platform{ext: "tar.gz"}
	switch runtime.GOOS {
	case "linux":
		p.os = "unknown-linux-gnu"
	case "darwin":
		p.os = "apple-darwin"
	default:
		return p, fmt.Errorf("unsupported OS for uv: %s", runtime.GOOS)
	}
	switch runtime.GOARCH {
	case "amd64":
		p.arch = "x86_64"
	case "arm64":
		p.arch = "aarch64"
	default:
		return p, fmt.Errorf("unsupported architecture for uv: %s", runtime.GOARCH)
	}
	return p, nil
}

// expandTemplate substitutes {version}, {platform}, {arch} and {ext} in a
// URL template.
func expandTemplate(tmpl, version string, plat platform) string {
	r := strings.NewReplacer(
		"{version}", version,
		"{platform}", plat.os,
		"{arch}", plat.arch,
		"{ext}", plat.ext,
	)
	return r.Replace(tmpl)
}
