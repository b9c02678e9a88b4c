package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const maxStderrBytes = 8 * 1024

// runTool executes bin with args, streaming stdout into stdout (may be nil)
// and keeping only the tail of stderr.
func runTool(ctx context.Context, logger *slog.Logger, bin string, args []string, stdout io.Writer) (RunResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	logger.Debug("executing media tool", "tool", bin, "args", strings.Join(args, " "))

	err := cmd.Run()
	result := RunResult{StderrTail: stderrBuf.String(), Duration: time.Since(start)}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		logger.Warn("media tool failed",
			"tool", bin,
			"exit_code", result.ExitCode,
			"duration_ms", result.Duration.Milliseconds(),
			"stderr_tail", truncate(result.StderrTail, 512),
		)
		return result, &ToolError{Tool: bin, ExitCode: result.ExitCode, StderrTail: result.StderrTail, Err: ctxErr(ctx, err)}
	}

	logger.Debug("media tool succeeded", "tool", bin, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}

// ctxErr prefers the context error so callers can detect timeouts.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
