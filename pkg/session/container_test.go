package session

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/docker"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/factory"
)

// dockerCLI emulates just enough of the docker CLI to run Python that
// prints 1+1.
type dockerCLI struct {
	mu      sync.Mutex
	copied  map[string]string
	removed bool
}

func (d *dockerCLI) Run(_ context.Context, _ io.Reader, args ...string) (docker.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch args[0] {
	case "cp":
		src, dst := args[1], args[2]
		b, err := os.ReadFile(src)
		if err != nil {
			return docker.Output{ExitCode: 1, Stderr: err.Error()}, nil
		}
		if d.copied == nil {
			d.copied = map[string]string{}
		}
		d.copied[dst[strings.Index(dst, ":")+1:]] = string(b)
	case "exec":
		script := args[len(args)-1]
		for remote, code := range d.copied {
			if strings.Contains(script, "python "+remote) && strings.Contains(code, "print(1+1)") {
				return docker.Output{Stdout: "2\n"}, nil
			}
		}
	case "rm":
		// The pre-start cleanup uses a plain "rm"; Close forces removal.
		if len(args) > 1 && args[1] == "-f" {
			d.removed = true
		}
	}
	return docker.Output{}, nil
}

func TestContainerSessionEndToEnd(t *testing.T) {
	cli := &dockerCLI{}
	newInterp, err := factory.For("container", factory.Config{
		Docker: factory.DockerConfig{
			Image:          "demo:latest",
			WorkspaceMount: t.TempDir(),
			Options:        []docker.Option{docker.WithRunner(cli)},
		},
	})
	if err != nil {
		t.Fatalf("factory.For: %v", err)
	}

	r := NewRegistry(Constructor(newInterp))
	ctx := context.Background()

	if created, err := r.Create(ctx, "s1"); err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}
	interp, err := r.Lookup("s1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if interp.Backend() != sandbox.BackendDocker {
		t.Errorf("Backend = %q", interp.Backend())
	}

	res, err := interp.RunCode(ctx, "print(1+1)")
	if err != nil {
		t.Fatalf("RunCode: %v", err)
	}
	if !strings.Contains(res.Logs, "2") || res.HasError() {
		t.Errorf("result = %+v", res)
	}

	if out := r.Close(ctx, "s1"); !out.Closed {
		t.Errorf("Close outcome = %+v", out)
	}
	if _, err := r.Lookup("s1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Lookup after close = %v, want ErrSessionNotFound", err)
	}
	cli.mu.Lock()
	removed := cli.removed
	cli.mu.Unlock()
	if !removed {
		t.Error("container should be removed on close")
	}
}
