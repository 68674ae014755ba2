// Package e2b implements the sandbox contract on E2B cloud sandboxes.
//
// The control plane (https://api.{domain}) creates and deletes sandboxes
// and is authenticated with the account API key. Each sandbox exposes the
// envd daemon (port 49983) for commands and files, and a code interpreter
// (port 49999) that executes Python in a persistent kernel. Both are
// authenticated with the per-sandbox access token returned at creation.
package e2b

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

const (
	// DefaultDomain is the public E2B domain.
	DefaultDomain = "e2b.app"

	// DefaultTemplate is the sandbox template with the code interpreter.
	DefaultTemplate = "code-interpreter-v1"

	// DefaultTimeout is the sandbox lifetime requested at creation.
	DefaultTimeout = 5 * time.Minute

	// EnvAPIKey is read when Config.APIKey is empty.
	EnvAPIKey = "E2B_API_KEY"

	envdPort     = 49983
	jupyterPort  = 49999
	httpTimeout  = 120 * time.Second
	maxLifetimeS = 86400
)

// Config holds E2B settings.
type Config struct {
	APIKey   string
	Domain   string
	Template string
	Timeout  time.Duration
}

// remoteSandbox is the state returned by the control plane.
type remoteSandbox struct {
	id          string
	domain      string
	accessToken string
}

// Interpreter is the cloud sandbox adapter.
type Interpreter struct {
	cfg        Config
	httpClient *http.Client

	// Endpoint builders, replaced in tests.
	apiURL  func() string
	envdURL func(sb *remoteSandbox) string
	codeURL func(sb *remoteSandbox) string

	mu    sync.Mutex
	sb    *remoteSandbox
	files *Files
}

// New creates an uninitialized interpreter. An empty API key falls back to
// E2B_API_KEY; a key is required by Initialize.
func New(cfg Config) *Interpreter {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.Domain == "" {
		cfg.Domain = DefaultDomain
	}
	if cfg.Template == "" {
		cfg.Template = DefaultTemplate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	i := &Interpreter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
	i.apiURL = func() string { return "https://api." + i.cfg.Domain }
	i.envdURL = func(sb *remoteSandbox) string {
		return fmt.Sprintf("https://%d-%s.%s", envdPort, sb.id, sb.domain)
	}
	i.codeURL = func(sb *remoteSandbox) string {
		return fmt.Sprintf("https://%d-%s.%s", jupyterPort, sb.id, sb.domain)
	}
	return i
}

// Backend implements sandbox.CodeInterpreter.
func (i *Interpreter) Backend() string { return sandbox.BackendE2B }

// SandboxID returns the remote sandbox id, or "" before Initialize.
func (i *Interpreter) SandboxID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sb == nil {
		return ""
	}
	return i.sb.id
}

type createRequest struct {
	TemplateID string `json:"templateID"`
	Timeout    int    `json:"timeout"`
}

type createResponse struct {
	SandboxID       string `json:"sandboxID"`
	EnvdAccessToken string `json:"envdAccessToken"`
	Domain          string `json:"domain"`
}

// Initialize creates a remote sandbox.
func (i *Interpreter) Initialize(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.sb != nil {
		return nil
	}
	if i.cfg.APIKey == "" {
		return &sandbox.ConfigError{Backend: sandbox.BackendE2B, Field: "api_key"}
	}

	timeout := int(i.cfg.Timeout.Seconds())
	if timeout > maxLifetimeS {
		timeout = maxLifetimeS
	}

	var resp createResponse
	req := createRequest{TemplateID: i.cfg.Template, Timeout: timeout}
	if err := i.controlPlane(ctx, http.MethodPost, "/sandboxes", req, &resp); err != nil {
		return fmt.Errorf("creating E2B sandbox: %w", err)
	}
	if resp.SandboxID == "" {
		return fmt.Errorf("creating E2B sandbox: no sandboxID returned")
	}

	domain := resp.Domain
	if domain == "" {
		domain = i.cfg.Domain
	}
	i.sb = &remoteSandbox{id: resp.SandboxID, domain: domain, accessToken: resp.EnvdAccessToken}
	i.files = &Files{interp: i, sb: i.sb}

	debug.Log("e2b", "sandbox created", "sandbox_id", resp.SandboxID, "template", i.cfg.Template, "timeout_sec", timeout)
	return nil
}

// Close deletes the remote sandbox. A sandbox that no longer exists
// counts as closed.
func (i *Interpreter) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.sb == nil {
		return nil
	}
	id := i.sb.id
	i.sb = nil
	i.files = nil

	err := i.controlPlane(ctx, http.MethodDelete, "/sandboxes/"+id, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			debug.Log("e2b", "sandbox already gone", "sandbox_id", id)
			return nil
		}
		return fmt.Errorf("deleting E2B sandbox %s: %w", id, err)
	}

	debug.Log("e2b", "sandbox deleted", "sandbox_id", id)
	return nil
}

func (i *Interpreter) current() (*remoteSandbox, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sb == nil {
		return nil, sandbox.ErrNotInitialized
	}
	return i.sb, nil
}

// RunCode executes Python in the sandbox's code interpreter.
func (i *Interpreter) RunCode(ctx context.Context, code string) (sandbox.ExecutionResult, error) {
	sb, err := i.current()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	res, err := i.execute(ctx, sb, code)
	if err != nil {
		if ctx.Err() != nil {
			return sandbox.ExecutionResult{}, ctx.Err()
		}
		return sandbox.Failed("", err.Error()), nil
	}
	return res, nil
}

// RunCommand executes a shell command through envd.
func (i *Interpreter) RunCommand(ctx context.Context, command string) (sandbox.ExecutionResult, error) {
	sb, err := i.current()
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	out, err := i.runCommand(ctx, sb, command)
	if err != nil {
		if ctx.Err() != nil {
			return sandbox.ExecutionResult{}, ctx.Err()
		}
		return sandbox.Failed("", err.Error()), nil
	}
	if out.ExitCode != 0 || out.Stderr != "" {
		msg := out.Stderr
		if msg == "" {
			msg = fmt.Sprintf("command exited with code %d", out.ExitCode)
		}
		return sandbox.Failed(out.Stdout, msg), nil
	}
	return sandbox.NewResult(out.Stdout), nil
}

// Files returns the sandbox file facade.
func (i *Interpreter) Files() (sandbox.FileInterface, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.sb == nil || i.files == nil {
		return nil, sandbox.ErrNotInitialized
	}
	return i.files, nil
}

// APIError is a non-2xx response from an E2B endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("E2B API returned HTTP %d: %s", e.StatusCode, e.Body)
}

func (i *Interpreter) controlPlane(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, i.apiURL()+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-API-Key", i.cfg.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	respBody, err := i.send(req)
	if err != nil {
		return err
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// send performs req and returns the body of a 2xx response.
func (i *Interpreter) send(req *http.Request) ([]byte, error) {
	debug.Log("e2b", "request", "method", req.Method, "url", req.URL.Redacted())

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("E2B request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}
