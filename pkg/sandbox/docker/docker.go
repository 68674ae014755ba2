// Package docker implements the sandbox contract on top of a local
// container runtime driven through its CLI.
//
// Each Interpreter owns one long-running container started from a prebuilt
// image with networking disabled and a host directory bind-mounted at the
// workspace root. Python code runs inside a uv-managed virtual environment
// created during Initialize.
package docker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// Defaults for containers started by this package.
const (
	DefaultImage       = "yingchuan/devenv:latest"
	DefaultPrefix      = "mcp-sandbox"
	DefaultExecTimeout = 30 * time.Second

	// WorkspaceRoot is the directory inside the container that every file
	// path is confined to.
	WorkspaceRoot = "/home/sandbox/workspace"

	hostname     = "mcp-sandbox"
	cleanupLimit = 5 * time.Second

	// stopGrace is the docker stop grace period in seconds. The container's
	// init process ignores SIGTERM.
	stopGrace = "1"
)

const nixProfile = `if [ -f ~/.nix-profile/etc/profile.d/nix.sh ]; then
    source ~/.nix-profile/etc/profile.d/nix.sh
fi
`

const provisionUserScript = `mkdir -p /home/sandbox/workspace
current_user=$(whoami)
if [ "$current_user" != "root" ]; then
    cd /home/sandbox/workspace
else
    if ! id sandbox >/dev/null 2>&1; then
        useradd -m -s /bin/bash sandbox
    fi
    chown -R sandbox:sandbox /home/sandbox
fi
`

const bootstrapEnvScript = nixProfile + `cat > pyproject.toml << 'PYPROJECT'
[project]
name = "mcp-sandbox"
version = "0.1.0"
description = "MCP Code Sandbox"
requires-python = ">=3.8"
dependencies = []

[build-system]
requires = ["setuptools>=61.0"]
build-backend = "setuptools.build_meta"
PYPROJECT
if [ ! -d .venv ]; then
    uv venv
fi
echo 'source .venv/bin/activate' >> ~/.bashrc
`

// Interpreter is the container backend adapter.
type Interpreter struct {
	runner      Runner
	image       string
	name        string
	prefix      string
	mount       string
	execTimeout time.Duration

	mu          sync.Mutex
	initialized bool
	files       *Files
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithRunner replaces the docker CLI runner.
func WithRunner(r Runner) Option {
	return func(i *Interpreter) { i.runner = r }
}

// WithContainerName sets an explicit container name.
func WithContainerName(name string) Option {
	return func(i *Interpreter) { i.name = name }
}

// WithContainerPrefix sets the prefix of generated container names.
func WithContainerPrefix(prefix string) Option {
	return func(i *Interpreter) {
		if prefix != "" {
			i.prefix = prefix
		}
	}
}

// WithWorkspaceMount sets the host directory mounted at WorkspaceRoot.
func WithWorkspaceMount(dir string) Option {
	return func(i *Interpreter) { i.mount = dir }
}

// WithExecTimeout bounds each code or command execution.
func WithExecTimeout(d time.Duration) Option {
	return func(i *Interpreter) {
		if d > 0 {
			i.execTimeout = d
		}
	}
}

// New creates an uninitialized container interpreter for image.
func New(image string, opts ...Option) *Interpreter {
	if image == "" {
		image = DefaultImage
	}
	i := &Interpreter{
		runner:      CLI{},
		image:       image,
		prefix:      DefaultPrefix,
		execTimeout: DefaultExecTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.name == "" {
		i.name = i.prefix + "-" + uuid.NewString()[:8]
	}
	if i.mount == "" {
		i.mount = defaultMount()
	}
	return i
}

func defaultMount() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "mcp-sandbox")
	}
	return filepath.Join(home, "tmp", "mcp-sandbox")
}

// Backend implements sandbox.CodeInterpreter.
func (i *Interpreter) Backend() string { return sandbox.BackendDocker }

// ContainerName returns the name of the managed container.
func (i *Interpreter) ContainerName() string { return i.name }

// Image returns the image the container is started from.
func (i *Interpreter) Image() string { return i.image }

// Initialize starts a fresh container and bootstraps its package
// environment. A container left behind by a failed bootstrap is removed.
func (i *Interpreter) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.initialized {
		return nil
	}

	if err := os.MkdirAll(i.mount, 0o755); err != nil {
		return fmt.Errorf("creating workspace mount %s: %w", i.mount, err)
	}

	out, err := i.runner.Run(ctx, nil, "image", "inspect", i.image)
	if err != nil {
		return fmt.Errorf("inspecting docker image %s: %w", i.image, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("docker image %s not found, build it first", i.image)
	}

	// Stale container from an earlier run with the same name.
	i.runner.Run(ctx, nil, "stop", "-t", stopGrace, i.name)
	i.runner.Run(ctx, nil, "rm", i.name)

	out, err = i.runner.Run(ctx, nil,
		"run", "-d",
		"--name", i.name,
		"--hostname", hostname,
		"-v", i.mount+":"+WorkspaceRoot,
		"--network", "none",
		"--workdir", WorkspaceRoot,
		i.image,
		"tail", "-f", "/dev/null",
	)
	if err != nil {
		return fmt.Errorf("starting container %s: %w", i.name, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("starting container %s: %s", i.name, strings.TrimSpace(out.Stderr))
	}

	for _, step := range []struct {
		name   string
		script string
	}{
		{"provisioning sandbox user", provisionUserScript},
		{"bootstrapping uv environment", bootstrapEnvScript},
	} {
		out, err = i.runner.Run(ctx, nil, "exec", i.name, "bash", "-c", step.script)
		if err == nil && out.ExitCode != 0 {
			err = errors.New(strings.TrimSpace(out.Stderr))
		}
		if err != nil {
			i.removeContainer(ctx)
			return fmt.Errorf("%s in %s: %w", step.name, i.name, err)
		}
	}

	i.files = &Files{runner: i.runner, container: i.name}
	i.initialized = true

	debug.Log("docker", "container ready", "container", i.name, "image", i.image, "mount", i.mount)
	return nil
}

// Close stops and removes the container. Calling Close on an
// uninitialized or closed interpreter is a no-op. The force-remove runs
// even when the stop fails or ctx expires, bounded by cleanupLimit.
func (i *Interpreter) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.initialized {
		return nil
	}
	i.initialized = false
	i.files = nil

	if _, err := i.runner.Run(ctx, nil, "stop", "-t", stopGrace, i.name); err != nil {
		debug.Log("docker", "stop failed, forcing removal", "container", i.name, "error", err)
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupLimit)
	defer cancel()
	out, err := i.runner.Run(rctx, nil, "rm", "-f", i.name)
	if err != nil {
		return fmt.Errorf("removing container %s: %w", i.name, err)
	}
	if out.ExitCode != 0 && !isNoSuchContainer(out.Stderr) {
		return fmt.Errorf("removing container %s: %s", i.name, strings.TrimSpace(out.Stderr))
	}

	debug.Log("docker", "container removed", "container", i.name)
	return nil
}

// removeContainer force-removes the container on a context that survives
// cancellation of the caller.
func (i *Interpreter) removeContainer(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupLimit)
	defer cancel()
	i.runner.Run(ctx, nil, "rm", "-f", i.name)
}

func isNoSuchContainer(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "no such container")
}

func (i *Interpreter) ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.initialized
}

// RunCode copies code into the container and runs it with the workspace
// virtual environment active.
func (i *Interpreter) RunCode(ctx context.Context, code string) (sandbox.ExecutionResult, error) {
	if !i.ready() {
		return sandbox.ExecutionResult{}, sandbox.ErrNotInitialized
	}

	tmp, err := os.CreateTemp("", "mcp-sandbox-*.py")
	if err != nil {
		return sandbox.Failed("", "Failed to execute code: "+err.Error()), nil
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(code); err != nil {
		tmp.Close()
		return sandbox.Failed("", "Failed to execute code: "+err.Error()), nil
	}
	tmp.Close()

	// Unique per call so concurrent executions in one container do not
	// overwrite each other's script.
	remote := "/tmp/exec_code_" + uuid.NewString()[:8] + ".py"

	out, err := i.runner.Run(ctx, nil, "cp", tmp.Name(), i.name+":"+remote)
	if err != nil {
		return sandbox.ExecutionResult{}, fmt.Errorf("copying code into %s: %w", i.name, err)
	}
	if out.ExitCode != 0 {
		return sandbox.Failed("", "Failed to execute code: "+out.Stderr), nil
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupLimit)
		defer cancel()
		i.runner.Run(cctx, nil, "exec", i.name, "rm", "-f", remote)
	}()

	return i.execute(ctx, "python "+remote, "Code")
}

// RunCommand runs command through bash inside the workspace with the
// virtual environment active.
func (i *Interpreter) RunCommand(ctx context.Context, command string) (sandbox.ExecutionResult, error) {
	if !i.ready() {
		return sandbox.ExecutionResult{}, sandbox.ErrNotInitialized
	}
	return i.execute(ctx, command, "Command")
}

// InstallPackage adds a package to the workspace project with uv.
func (i *Interpreter) InstallPackage(ctx context.Context, pkg string) (sandbox.ExecutionResult, error) {
	return i.RunCommand(ctx, "uv add "+shellQuote(pkg))
}

func (i *Interpreter) execute(ctx context.Context, body, kind string) (sandbox.ExecutionResult, error) {
	script := nixProfile + "cd " + WorkspaceRoot + "\nsource .venv/bin/activate\n" + body + "\n"

	execCtx, cancel := context.WithTimeout(ctx, i.execTimeout)
	defer cancel()

	start := time.Now()
	out, err := i.runner.Run(execCtx, nil, "exec", i.name, "bash", "-c", script)
	debug.Log("docker", "execute complete",
		"container", i.name,
		"kind", kind,
		"exit_code", out.ExitCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if err != nil {
		// Caller cancellation is a transport failure; our own deadline is a
		// reported timeout.
		if ctx.Err() != nil {
			return sandbox.ExecutionResult{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return sandbox.Failed("", fmt.Sprintf("%s execution timed out (%d seconds)", kind, int(i.execTimeout.Seconds()))), nil
		}
		return sandbox.Failed("", fmt.Sprintf("Failed to execute %s: %v", strings.ToLower(kind), err)), nil
	}

	if out.ExitCode == 0 {
		return sandbox.NewResult(out.Stdout), nil
	}
	return sandbox.Failed(out.Stdout, out.Stderr), nil
}

// Files returns the workspace file facade.
func (i *Interpreter) Files() (sandbox.FileInterface, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.initialized || i.files == nil {
		return nil, sandbox.ErrNotInitialized
	}
	return i.files, nil
}

// shellQuote wraps s in single quotes for bash.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
