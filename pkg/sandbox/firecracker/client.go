package firecracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
)

// HTTPError is returned for any non-2xx response from the orchestration
// service.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("microvm backend returned HTTP %d: %s", e.StatusCode, e.Body)
}

// SpawnResponse is the body returned by POST /microvm/spawn.
type SpawnResponse struct {
	MicroVMID string `json:"microvm_id"`
	Status    string `json:"status,omitempty"`
}

// Client calls the microVM orchestration REST API. All calls share one
// lazily created HTTP client.
type Client struct {
	backendURL string
	apiKey     string
	timeout    time.Duration

	once       sync.Once
	httpClient *http.Client
}

// NewClient creates a client for the service at backendURL. apiKey is sent
// as a bearer token when non-empty.
func NewClient(backendURL, apiKey string) *Client {
	return &Client{
		backendURL: strings.TrimRight(backendURL, "/"),
		apiKey:     apiKey,
		timeout:    120 * time.Second, // execution timeouts are enforced by the service
	}
}

func (c *Client) client() *http.Client {
	c.once.Do(func() {
		c.httpClient = &http.Client{Timeout: c.timeout}
	})
	return c.httpClient
}

// Spawn starts a new microVM.
func (c *Client) Spawn(ctx context.Context) (*SpawnResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/microvm/spawn", nil, nil)
	if err != nil {
		return nil, err
	}
	var resp SpawnResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode spawn response: %w", err)
	}
	return &resp, nil
}

// Shutdown stops the microVM identified by id.
func (c *Client) Shutdown(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/microvm/shutdown", nil, map[string]string{"microvm_id": id})
	return err
}

// RunCode executes Python code and returns the raw result envelope.
func (c *Client) RunCode(ctx context.Context, id, code string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/microvm/run_code", nil, map[string]string{"microvm_id": id, "code": code})
}

// RunCommand executes a shell command and returns the raw result envelope.
func (c *Client) RunCommand(ctx context.Context, id, command string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, "/microvm/run_command", nil, map[string]string{"microvm_id": id, "command": command})
}

// List returns the microVMs known to the service.
func (c *Client) List(ctx context.Context) ([]map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/microvm/list", nil, nil)
	if err != nil {
		return nil, err
	}
	var vms []map[string]any
	if err := json.Unmarshal(body, &vms); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return vms, nil
}

// Status returns the service's view of one microVM.
func (c *Client) Status(ctx context.Context, id string) (map[string]any, error) {
	body, err := c.do(ctx, http.MethodGet, "/microvm/status", url.Values{"microvm_id": {id}}, nil)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return status, nil
}

// Close releases idle connections. The client remains usable.
func (c *Client) Close() {
	c.client().CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	endpoint := c.backendURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	debug.Log("firecracker", "request", "method", method, "endpoint", endpoint)

	resp, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("microvm request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	debug.Trace("firecracker", "response", "endpoint", endpoint, "status", resp.StatusCode, "body", debug.Truncate(string(body), 500))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
