package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// maxOutputBytes caps stdout/stderr to prevent OOM from chatty test suites.
const maxOutputBytes = 1 << 20 // 1 MB

// ExecResult captures one fully-drained command invocation.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Exec runs argv inside the sandbox's work directory with the sandbox's
// environment map, optionally overlaid with per-call overrides. Both output
// streams are captured fully before returning; this is for short-lived CLI
// invocations, not long-running servers.
//
// A non-zero exit code is a result, not an error. An error means the command
// could not run at all (binary missing, context cancelled, sandbox destroyed).
func (m *Manager) Exec(ctx context.Context, sb *Sandbox, argv []string, extraEnv map[string]string) (*ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = sb.WorkDir
	cmd.Env = sb.environ(extraEnv)

	// Own process group so the whole tree can be reaped on cancellation or
	// sandbox teardown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdoutBuf, remaining: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderrBuf, remaining: maxOutputBytes}

	m.logger.Debug("sandbox executing",
		slog.Any("command", argv),
		slog.String("dir", cmd.Dir),
	)

	// The destroyed check and the registration share one critical section so
	// a concurrent Cleanup either sees this command and kills it, or marks
	// the sandbox destroyed before we register and the exec is refused.
	sb.mu.Lock()
	if sb.destroyed {
		sb.mu.Unlock()
		return nil, fmt.Errorf("sandbox %s already destroyed", sb.Root)
	}
	sb.active[cmd] = struct{}{}
	sb.mu.Unlock()

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	sb.mu.Lock()
	delete(sb.active, cmd)
	sb.mu.Unlock()

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			m.recordCommand("error", duration)
			return nil, fmt.Errorf("command %q: %w", argv[0], ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			m.recordCommand("error", duration)
			return nil, fmt.Errorf("running %q: %w", argv[0], runErr)
		}
	}

	if exitCode == 0 {
		m.recordCommand("ok", duration)
	} else {
		m.recordCommand("failed", duration)
	}

	m.logger.Debug("sandbox execution completed",
		slog.String("command", argv[0]),
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", duration),
	)

	return &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

// recordCommand is a no-op without a collector.
func (m *Manager) recordCommand(status string, d time.Duration) {
	if m.metrics == nil {
		return
	}
	m.metrics.SandboxCommandsTotal.WithLabelValues(status).Inc()
	m.metrics.SandboxCommandDuration.WithLabelValues(status).Observe(d.Seconds())
}

// limitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded, not reported as an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
