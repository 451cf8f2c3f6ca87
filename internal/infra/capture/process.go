package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"trafficwarden/internal/infra/shell"
)

// RequiredFlags fix the output format Reader parses.
const RequiredFlags = "-fnvKtq"

// Command builds the capture argv: <tool...> <filter...> -fnvKtq -i <iface>.
func Command(tool, filter []string, iface string) []string {
	argv := make([]string, 0, len(tool)+len(filter)+3)
	argv = append(argv, tool...)
	argv = append(argv, filter...)
	return append(argv, RequiredFlags, "-i", iface)
}

// Process is a running capture tool.
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// Start launches argv with its standard output piped to the returned
// Process. The tool's standard error is passed through to ours.
func Start(ctx context.Context, argv []string, logger *slog.Logger) (*Process, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty capture command", shell.ErrLaunch)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// #nosec G204 -- argv comes from operator settings
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shell.ErrLaunch, shell.Render(argv), err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shell.ErrLaunch, shell.Render(argv), err)
	}

	logger.Info("capture started",
		slog.String("command", shell.Render(argv)),
		slog.Int("pid", cmd.Process.Pid))
	return &Process{cmd: cmd, stdout: stdout}, nil
}

// Stdout returns the capture stream.
func (p *Process) Stdout() io.Reader {
	return p.stdout
}

// Wait waits for the tool to exit. It must be called after the stream has
// been drained or the context canceled.
func (p *Process) Wait() error {
	return p.cmd.Wait()
}
