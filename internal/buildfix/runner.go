package buildfix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"
)

// ErrBuildTimeout is returned by a Builder when the build exceeded its
// deadline and was killed.
var ErrBuildTimeout = errors.New("build timed out")

// Builder is the external build collaborator. It is opaque to the engine
// beyond success/failure and its raw output text.
type Builder interface {
	// Build runs the build against projectDir. A failing build returns
	// ok=false with the raw diagnostics and a nil error; err is reserved
	// for invocation-level failures such as a timeout.
	Build(ctx context.Context, projectDir string) (ok bool, rawOutput string, err error)
}

// CommandBuilder runs a shell command as the build step, with an enforced
// timeout and process-group cleanup.
type CommandBuilder struct {
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandBuilder creates a CommandBuilder for the given shell command.
func NewCommandBuilder(command string, timeout time.Duration, logger *slog.Logger) *CommandBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &CommandBuilder{
		command: command,
		timeout: timeout,
		logger:  logger,
	}
}

// Build executes the build command in projectDir. The command runs in its
// own process group so that a timeout or cancellation kills the whole tree,
// not just the shell.
func (b *CommandBuilder) Build(ctx context.Context, projectDir string) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", b.command)
	cmd.Dir = projectDir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	b.logger.Debug("running build command",
		"command", b.command,
		"project_dir", projectDir,
	)

	start := time.Now()
	err := cmd.Run()
	raw := output.String()

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		b.logger.Warn("build timed out",
			"project_dir", projectDir,
			"timeout", b.timeout.String(),
		)
		return false, raw, fmt.Errorf("%w after %s", ErrBuildTimeout, b.timeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, raw, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Ordinary build failure: the diagnostics are the payload.
			return false, raw, nil
		}
		return false, raw, fmt.Errorf("invoking build command: %w", err)
	}

	b.logger.Debug("build command succeeded",
		"project_dir", projectDir,
		"duration", time.Since(start).String(),
	)
	return true, raw, nil
}
