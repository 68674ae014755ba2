package microvm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
)

// runResult is the "result" member of the execution envelope.
type runResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// prepareFunc builds the argv for vm and a cleanup for any temp files.
type prepareFunc func(vm *VM) ([]string, func(), error)

// execute runs one subprocess in the microVM's workspace and writes the
// {"result": {...}} envelope. Failures of the code itself are reported in
// stderr with HTTP 200; only service-side problems get an error status.
func (s *Server) execute(w http.ResponseWriter, r *http.Request, id string, prepare prepareFunc) {
	current := s.load.Add(1)
	defer s.load.Add(-1)
	if int(current) > s.cfg.MaxConcurrent {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("at capacity (%d/%d concurrent executions)", current, s.cfg.MaxConcurrent))
		return
	}

	s.mu.Lock()
	vm, ok := s.vms[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "unknown microvm_id "+id)
		return
	}

	argv, cleanup, err := prepare(vm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to prepare execution: "+err.Error())
		return
	}
	defer cleanup()

	res := s.run(r.Context(), vm.Workspace, argv)

	s.mu.Lock()
	vm.Executions++
	s.mu.Unlock()

	debug.Log("microvm", "execution complete",
		"microvm_id", id,
		"exit_code", res.ExitCode,
		"duration_ms", res.DurationMs,
		"stdout", debug.Truncate(res.Stdout, 200),
	)
	writeJSON(w, http.StatusOK, map[string]runResult{"result": res})
}

// run starts argv in dir and kills it after the configured timeout.
func (s *Server) run(ctx context.Context, dir string, argv []string) runResult {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "HOME="+dir)
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := runResult{DurationMs: time.Since(start).Milliseconds()}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			res.ExitCode = -1
			fmt.Fprintf(&stderr, "\nexecution timed out after %s", s.cfg.ExecTimeout)
		case errors.As(err, &exitErr):
			res.ExitCode = exitErr.ExitCode()
			if stderr.Len() == 0 {
				fmt.Fprintf(&stderr, "process exited with status %d", res.ExitCode)
			}
		default:
			res.ExitCode = -1
			if stderr.Len() > 0 {
				stderr.WriteString("\n")
			}
			stderr.WriteString(err.Error())
		}
	}

	res.Stdout = stdout.String()
	res.Stderr = strings.TrimPrefix(stderr.String(), "\n")
	return res
}
