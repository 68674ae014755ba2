package e2b

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// executeEvent is one NDJSON line of the code interpreter's /execute stream.
type executeEvent struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Name      string `json:"name"`
	Value     string `json:"value"`
	Traceback string `json:"traceback"`
}

// execute runs code in the sandbox kernel. stdout, stderr and result text
// are collected into Logs in arrival order; an error event becomes Error.
func (i *Interpreter) execute(ctx context.Context, sb *remoteSandbox, code string) (sandbox.ExecutionResult, error) {
	data, err := json.Marshal(map[string]string{"code": code})
	if err != nil {
		return sandbox.ExecutionResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.codeURL(sb)+"/execute", bytes.NewReader(data))
	if err != nil {
		return sandbox.ExecutionResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", sb.accessToken)

	body, err := i.send(req)
	if err != nil {
		return sandbox.ExecutionResult{}, err
	}
	return parseExecuteStream(body), nil
}

func parseExecuteStream(body []byte) sandbox.ExecutionResult {
	var logs strings.Builder
	var execErr *string

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev executeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			debug.Log("e2b", "skipping malformed execute event", "error", err)
			continue
		}
		switch ev.Type {
		case "stdout", "stderr", "result":
			logs.WriteString(ev.Text)
		case "error":
			msg := ev.Name + ": " + ev.Value
			if ev.Traceback != "" {
				msg = ev.Traceback
			}
			execErr = &msg
		}
	}

	return sandbox.ExecutionResult{Logs: logs.String(), Error: execErr}
}

// commandOutput is the envd /commands/run response.
type commandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// runCommand executes command under a login bash shell.
func (i *Interpreter) runCommand(ctx context.Context, sb *remoteSandbox, command string) (commandOutput, error) {
	var out commandOutput

	data, err := json.Marshal(map[string]any{
		"cmd":  "/bin/bash",
		"args": []string{"-l", "-c", command},
	})
	if err != nil {
		return out, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.envdURL(sb)+"/commands/run", bytes.NewReader(data))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Access-Token", sb.accessToken)

	body, err := i.send(req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode command result: %w", err)
	}
	return out, nil
}

func (i *Interpreter) readFile(ctx context.Context, sb *remoteSandbox, path string) (string, error) {
	u := i.envdURL(sb) + "/files?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Access-Token", sb.accessToken)

	body, err := i.send(req)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (i *Interpreter) writeFile(ctx context.Context, sb *remoteSandbox, path, content string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", path)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	u := i.envdURL(sb) + "/files?path=" + url.QueryEscape(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Access-Token", sb.accessToken)

	_, err = i.send(req)
	return err
}
