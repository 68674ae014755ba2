package docker

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
)

// Output is the captured result of one CLI invocation.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes container CLI invocations. A nonzero exit status is
// reported through Output.ExitCode, not as an error. The error return is
// reserved for failures to run the CLI at all and for context
// cancellation or deadline expiry.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, args ...string) (Output, error)
}

// CLI runs the docker binary (or a compatible one such as podman).
type CLI struct {
	Binary string
}

// Run implements Runner.
func (c CLI) Run(ctx context.Context, stdin io.Reader, args ...string) (Output, error) {
	binary := c.Binary
	if binary == "" {
		binary = "docker"
	}

	debug.Log("docker", "exec", "binary", binary, "args", debug.Truncate(strings.Join(args, " "), 200))

	cmd := exec.CommandContext(ctx, binary, args...)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	out := Output{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if err == nil {
		return out, nil
	}

	// Context expiry takes precedence over the exit status of the killed process.
	if ctx.Err() != nil {
		out.ExitCode = -1
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	return out, err
}
