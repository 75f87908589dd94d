package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NormalizeRepoURL rewrites the accepted repository URL forms to canonical
// HTTPS and rejects everything else before any subprocess is spawned.
//
// Accepted: "owner/repo" shorthand, https://github.com/... URLs, and
// SSH-style git@host:owner/repo (rewritten to HTTPS). Rejected: empty URLs,
// plain http://, and non-GitHub hosts.
func NormalizeRepoURL(url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("repository URL cannot be empty")
	}

	switch {
	case strings.HasPrefix(url, "git@"):
		host, repo, ok := strings.Cut(strings.TrimPrefix(url, "git@"), ":")
		if !ok {
			return "", fmt.Errorf("malformed SSH repository URL %q", url)
		}
		// Strip a custom port if present.
		if h, _, hasPort := strings.Cut(host, ":"); hasPort {
			host = h
		}
		url = "https://" + host + "/" + repo
	case strings.HasPrefix(url, "http://"):
		return "", fmt.Errorf("http:// repository URLs are not supported, use https://")
	case strings.HasPrefix(url, "https://"):
		// Already canonical.
	case strings.Contains(url, "/") && !strings.HasPrefix(url, "github.com"):
		// owner/repo shorthand.
		url = "https://github.com/" + url
	default:
		url = "https://" + url
	}

	if !strings.HasPrefix(url, "https://github.com/") {
		return "", fmt.Errorf("only GitHub repositories are supported, got %q", url)
	}
	return url, nil
}

// Clone clones a GitHub repository into the sandbox work directory using the
// borrowed git client. branch is optional.
func (m *Manager) Clone(ctx context.Context, sb *Sandbox, url, branch string) error {
	normalized, err := NormalizeRepoURL(url)
	if err != nil {
		return err
	}

	argv := []string{"git", "clone", "--depth", "1", normalized, sb.WorkDir}
	if branch != "" {
		argv = append(argv, "--branch", branch)
	}

	m.logger.Info("cloning repository",
		slog.String("url", normalized),
		slog.String("target", sb.WorkDir),
	)

	res, err := m.Exec(ctx, sb, argv, map[string]string{
		// Never fall back to interactive credential prompts.
		"GIT_TERMINAL_PROMPT": "0",
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", normalized, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("cloning %s: git exited %d: %s", normalized, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}
