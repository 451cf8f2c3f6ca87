// Package shell runs external commands and reports their outcome as typed errors.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrLaunch reports that a command could not be started at all.
var ErrLaunch = errors.New("command could not be launched")

// ExitError reports a command that ran and exited with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates an ExecRunner. A nil logger uses slog.Default().
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run executes argv and returns its standard output.
// A start failure wraps ErrLaunch; a non-zero exit is an *ExitError.
func (r *ExecRunner) Run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrLaunch)
	}

	rendered := Render(argv)
	r.logger.Info("running command", slog.String("command", rendered))

	// #nosec G204 -- argv comes from operator settings, never from traffic.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ExitError{
				Command:  rendered,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunch, rendered, err)
	}
	return stdout.Bytes(), nil
}

// Render joins argv into a shell-quoted command line for logs and errors.
func Render(argv []string) string {
	return shellquote.Join(argv...)
}

// SplitTool splits an operator-configured tool setting such as
// "sudo /sbin/tc" into argv words.
func SplitTool(setting string) ([]string, error) {
	words, err := shellquote.Split(setting)
	if err != nil {
		return nil, fmt.Errorf("SplitTool: %q: %w", setting, err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("SplitTool: empty tool setting")
	}
	return words, nil
}
