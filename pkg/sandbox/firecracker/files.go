package firecracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// Files performs file operations inside a microVM by running shell
// commands and Python snippets through the orchestration service. Paths
// are passed through unchanged.
type Files struct {
	client    *Client
	microVMID string
}

// List parses "ls -la" output for path.
func (f *Files) List(ctx context.Context, path string) ([]sandbox.FileInfo, error) {
	if path == "" {
		path = "/"
	}
	res, err := f.run(ctx, "ls -la "+shellQuote(path))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}
	return parseListing(res), nil
}

// parseListing parses default "ls -la" output:
//
//	-rw-r--r-- 1 root root 12 May  1 10:00 notes.txt
func parseListing(output string) []sandbox.FileInfo {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "total") {
		lines = lines[1:]
	}

	var files []sandbox.FileInfo
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := sandbox.ListingName(line, 8)
		if name == "." || name == ".." {
			continue
		}

		info := sandbox.FileInfo{
			Name:        name,
			Type:        sandbox.TypeFile,
			Permissions: fields[0],
			Owner:       fields[2],
			Group:       fields[3],
			Modified:    fields[5] + " " + fields[6] + " " + fields[7],
		}
		info.Size, _ = strconv.ParseInt(fields[4], 10, 64)
		switch fields[0][0] {
		case 'd':
			info.Type = sandbox.TypeDirectory
		case 'l':
			if target := strings.Index(name, " -> "); target > 0 {
				info.Name = name[:target]
			}
		}
		files = append(files, info)
	}
	return files
}

// Read returns the content of path.
func (f *Files) Read(ctx context.Context, path string) (string, error) {
	content, err := f.run(ctx, "cat "+shellQuote(path))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return content, nil
}

// Write stores content at path, creating parent directories. Path and
// content are embedded as JSON string literals, which Python parses as
// ordinary string literals.
func (f *Files) Write(ctx context.Context, path, content string) error {
	p, _ := json.Marshal(path)
	c, _ := json.Marshal(content)
	code := fmt.Sprintf(`import os
p = %s
d = os.path.dirname(p)
if d:
    os.makedirs(d, exist_ok=True)
with open(p, "w") as f:
    f.write(%s)
`, p, c)

	body, err := f.client.RunCode(ctx, f.microVMID, code)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if res := parseEnvelope(body); res.HasError() {
		return fmt.Errorf("writing %s: %s", path, strings.TrimSpace(res.ErrorText()))
	}
	return nil
}

func (f *Files) run(ctx context.Context, command string) (string, error) {
	body, err := f.client.RunCommand(ctx, f.microVMID, command)
	if err != nil {
		return "", err
	}
	res := parseEnvelope(body)
	if res.HasError() {
		return "", errors.New(strings.TrimSpace(res.ErrorText()))
	}
	return res.Logs, nil
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
