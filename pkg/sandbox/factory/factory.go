// Package factory builds sandbox interpreters from a backend type tag.
package factory

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/config"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/docker"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/e2b"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/firecracker"
)

// Config carries the settings of every backend. Only the section matching
// the selected backend is read.
type Config struct {
	E2B         e2b.Config
	Docker      DockerConfig
	Firecracker FirecrackerConfig
}

// DockerConfig configures the container backend.
type DockerConfig struct {
	Image           string
	Binary          string
	ContainerPrefix string
	WorkspaceMount  string
	ExecTimeout     time.Duration

	// Options are applied after the fields above.
	Options []docker.Option
}

// FirecrackerConfig configures the microVM backend.
type FirecrackerConfig struct {
	BackendURL string
	APIKey     string
}

// Constructor builds one un-initialized interpreter.
type Constructor func() (sandbox.CodeInterpreter, error)

// Supported returns the accepted backend type tags.
func Supported() []string {
	return []string{sandbox.BackendE2B, sandbox.BackendDocker, sandbox.BackendContainer, sandbox.BackendFirecracker}
}

// New returns an un-initialized interpreter for backendType. Required
// settings are checked here so that misconfiguration surfaces before any
// sandbox is created.
func New(backendType string, cfg Config) (sandbox.CodeInterpreter, error) {
	switch strings.ToLower(backendType) {
	case sandbox.BackendE2B:
		c := cfg.E2B
		if c.APIKey == "" {
			c.APIKey = os.Getenv(e2b.EnvAPIKey)
		}
		if c.APIKey == "" {
			return nil, &sandbox.ConfigError{Backend: sandbox.BackendE2B, Field: "api_key"}
		}
		return e2b.New(c), nil

	case sandbox.BackendDocker, sandbox.BackendContainer:
		d := cfg.Docker
		image := d.Image
		if image == "" {
			image = os.Getenv("DOCKER_IMAGE")
		}
		opts := []docker.Option{
			docker.WithContainerPrefix(d.ContainerPrefix),
			docker.WithExecTimeout(d.ExecTimeout),
		}
		if d.Binary != "" {
			opts = append(opts, docker.WithRunner(docker.CLI{Binary: d.Binary}))
		}
		if d.WorkspaceMount != "" {
			opts = append(opts, docker.WithWorkspaceMount(expandHome(d.WorkspaceMount)))
		}
		opts = append(opts, d.Options...)
		return docker.New(image, opts...), nil

	case sandbox.BackendFirecracker:
		return firecracker.New(cfg.Firecracker.BackendURL, cfg.Firecracker.APIKey)

	default:
		return nil, fmt.Errorf("%w: %s", sandbox.ErrUnsupportedBackend, backendType)
	}
}

// For binds backendType and cfg into a Constructor. The configuration is
// checked once up front; each call builds a fresh interpreter.
func For(backendType string, cfg Config) (Constructor, error) {
	if _, err := New(backendType, cfg); err != nil {
		return nil, err
	}
	return func() (sandbox.CodeInterpreter, error) {
		return New(backendType, cfg)
	}, nil
}

// FromConfig maps the loaded configuration onto a factory Config.
func FromConfig(c *config.Config) Config {
	return Config{
		E2B: e2b.Config{
			APIKey:   c.Backend.E2B.APIKey,
			Domain:   c.Backend.E2B.Domain,
			Template: c.Backend.E2B.Template,
			Timeout:  c.Backend.E2B.Timeout,
		},
		Docker: DockerConfig{
			Image:           c.Backend.Docker.Image,
			Binary:          c.Backend.Docker.Binary,
			ContainerPrefix: c.Backend.Docker.ContainerPrefix,
			WorkspaceMount:  c.Backend.Docker.WorkspaceMount,
			ExecTimeout:     c.Session.ExecTimeout,
		},
		Firecracker: FirecrackerConfig{
			BackendURL: c.Backend.Firecracker.BackendURL,
			APIKey:     c.Backend.Firecracker.APIKey,
		},
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return home + p[1:]
}
