package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// ToolRunner launches an external binary and returns its combined
// stdout and stderr.
type ToolRunner interface {
	Run(ctx context.Context, tool string, args ...string) ([]byte, error)
}

// ProcessError is returned when a tool cannot start or exits non-zero.
type ProcessError struct {
	Tool     string
	Args     []string
	ExitCode int // -1 when the process never ran to exit
	Output   []byte
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s failed: %v\noutput: %s",
		filepath.Base(e.Tool), e.Err, e.Output)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool { return target == ErrExternalProcess }

// ExecRunner runs tools with os/exec. Env is appended to the inherited
// environment.
type ExecRunner struct {
	Env    []string
	Logger *slog.Logger
}

// NewExecRunner returns a runner logging to logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	return &ExecRunner{Logger: logger}
}

// Run executes tool with args and waits for it.
func (r *ExecRunner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, tool, args...)

	// A nil Stdin reads from the null device, so the tool never inherits
	// the host's input.
	cmd.Stdin = nil

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()

	if err := cmd.Run(); err != nil {
		code := -1

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}

		logger.Warn("tool failed",
			slog.String("tool", tool),
			slog.Int("exit_code", code),
		)

		return out.Bytes(), &ProcessError{
			Tool:     tool,
			Args:     args,
			ExitCode: code,
			Output:   out.Bytes(),
			Err:      err,
		}
	}

	logger.Debug("tool finished",
		slog.String("tool", tool),
		slog.Duration("wall_time", time.Since(start)),
	)

	return out.Bytes(), nil
}

// ResolveTool returns the path of a bundled tool. An explicit configured
// path wins; otherwise <dir>/<name>/<name> is used when it exists, and the
// name is looked up on PATH as a last resort.
func ResolveTool(configured, dir, name string) string {
	if configured != "" {
		return configured
	}

	if dir != "" {
		bundled := filepath.Join(dir, name, name)
		if _, err := os.Stat(bundled); err == nil {
			return bundled
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	return name
}

// EnsureExecutable adds the owner execute bit to path. Some deployment
// targets unpack bundles without it; read-only ones reject the chmod, so
// callers treat failure as non-fatal.
func EnsureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Mode()&0o100 != 0 {
		return nil
	}

	if err := os.Chmod(path, info.Mode()|0o100); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}

	return nil
}
