// Package firecracker implements the sandbox contract against a remote
// microVM orchestration service. The interpreter spawns one microVM on
// Initialize and addresses every later call to it by id.
package firecracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// Environment fallbacks for the service location and credential.
const (
	EnvBackendURL = "FIRECRACKER_BACKEND_URL"
	EnvAPIKey     = "FIRECRACKER_API_KEY"
)

// Interpreter is the microVM backend adapter.
type Interpreter struct {
	client     *Client
	backendURL string

	mu        sync.Mutex
	microVMID string
	files     *Files
}

// New creates an uninitialized interpreter. Empty arguments fall back to
// FIRECRACKER_BACKEND_URL and FIRECRACKER_API_KEY; a backend URL is
// required.
func New(backendURL, apiKey string) (*Interpreter, error) {
	if backendURL == "" {
		backendURL = os.Getenv(EnvBackendURL)
	}
	if apiKey == "" {
		apiKey = os.Getenv(EnvAPIKey)
	}
	if backendURL == "" {
		return nil, &sandbox.ConfigError{Backend: sandbox.BackendFirecracker, Field: "backend_url"}
	}
	return &Interpreter{
		client:     NewClient(backendURL, apiKey),
		backendURL: backendURL,
	}, nil
}

// Backend implements sandbox.CodeInterpreter.
func (i *Interpreter) Backend() string { return sandbox.BackendFirecracker }

// MicroVMID returns the id of the spawned microVM, or "" before Initialize.
func (i *Interpreter) MicroVMID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.microVMID
}

// Initialize spawns a microVM.
func (i *Interpreter) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.microVMID != "" {
		return nil
	}

	resp, err := i.client.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("spawning microVM at %s: %w", i.backendURL, err)
	}
	if resp.MicroVMID == "" {
		return errors.New("failed to spawn microVM: no microvm_id returned")
	}

	i.microVMID = resp.MicroVMID
	i.files = &Files{client: i.client, microVMID: resp.MicroVMID}

	debug.Log("firecracker", "microVM spawned", "microvm_id", resp.MicroVMID, "backend", i.backendURL)
	return nil
}

// Close shuts the microVM down and releases the client's connections.
// A microVM the service no longer knows (HTTP 404) counts as closed.
func (i *Interpreter) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.microVMID == "" {
		debug.Log("firecracker", "nothing to close")
		return nil
	}

	id := i.microVMID
	i.microVMID = ""
	i.files = nil
	defer i.client.Close()

	if err := i.client.Shutdown(ctx, id); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("shutting down microVM %s: %w", id, err)
	}

	debug.Log("firecracker", "microVM shut down", "microvm_id", id)
	return nil
}

func (i *Interpreter) id() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.microVMID == "" {
		return "", sandbox.ErrNotInitialized
	}
	return i.microVMID, nil
}

// RunCode executes Python code in the microVM.
func (i *Interpreter) RunCode(ctx context.Context, code string) (sandbox.ExecutionResult, error) {
	id, err := i.id()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	body, err := i.client.RunCode(ctx, id, code)
	return resultFrom(ctx, body, err)
}

// RunCommand executes a shell command in the microVM.
func (i *Interpreter) RunCommand(ctx context.Context, command string) (sandbox.ExecutionResult, error) {
	id, err := i.id()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	body, err := i.client.RunCommand(ctx, id, command)
	return resultFrom(ctx, body, err)
}

// Status reports the orchestration service's view of the microVM.
func (i *Interpreter) Status(ctx context.Context) (map[string]any, error) {
	id, err := i.id()
	if err != nil {
		return nil, err
	}
	return i.client.Status(ctx, id)
}

// Files returns the microVM file facade.
func (i *Interpreter) Files() (sandbox.FileInterface, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.microVMID == "" || i.files == nil {
		return nil, sandbox.ErrNotInitialized
	}
	return i.files, nil
}

// envelope is the result body of run_code and run_command.
type envelope struct {
	Result struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
	} `json:"result"`
}

// resultFrom converts a service response into an ExecutionResult. HTTP
// failures and malformed bodies are reported in the result; only caller
// cancellation is returned as an error.
func resultFrom(ctx context.Context, body []byte, err error) (sandbox.ExecutionResult, error) {
	if err != nil {
		if ctx.Err() != nil {
			return sandbox.ExecutionResult{}, ctx.Err()
		}
		return sandbox.Failed("", err.Error()), nil
	}
	return parseEnvelope(body), nil
}

// parseEnvelope decodes {"result": {"stdout", "stderr"}}. Non-empty stderr
// is the error.
func parseEnvelope(body []byte) sandbox.ExecutionResult {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return sandbox.Failed("", fmt.Sprintf("decode result envelope: %v", err))
	}
	if env.Result.Stderr != "" {
		return sandbox.Failed(env.Result.Stdout, env.Result.Stderr)
	}
	return sandbox.NewResult(env.Result.Stdout)
}
