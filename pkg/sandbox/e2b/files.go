package e2b

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// listFormat is the find -printf format used by List: type, size,
// permissions, owner, group, mtime and name, tab separated.
const listFormat = `%y\t%s\t%M\t%u\t%g\t%TY-%Tm-%Td %TH:%TM\t%f\n`

// Files delegates to the sandbox's envd file API.
type Files struct {
	interp *Interpreter
	sb     *remoteSandbox
}

// List returns the direct children of dir.
func (f *Files) List(ctx context.Context, dir string) ([]sandbox.FileInfo, error) {
	if dir == "" {
		dir = "/"
	}
	cmd := fmt.Sprintf("find %s -mindepth 1 -maxdepth 1 -printf '%s'", shellQuote(dir), listFormat)
	out, err := f.interp.runCommand(ctx, f.sb, cmd)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("listing %s: %s", dir, strings.TrimSpace(out.Stderr))
	}
	return parseFind(out.Stdout), nil
}

func parseFind(output string) []sandbox.FileInfo {
	var files []sandbox.FileInfo
	for _, line := range strings.Split(output, "\n") {
		fields := strings.SplitN(line, "\t", 7)
		if len(fields) != 7 {
			continue
		}
		info := sandbox.FileInfo{
			Name:        fields[6],
			Type:        sandbox.TypeFile,
			Permissions: fields[2],
			Owner:       fields[3],
			Group:       fields[4],
			Modified:    fields[5],
		}
		if fields[0] == "d" {
			info.Type = sandbox.TypeDirectory
		} else {
			info.Size, _ = strconv.ParseInt(fields[1], 10, 64)
		}
		files = append(files, info)
	}
	return files
}

// Read returns the content of p.
func (f *Files) Read(ctx context.Context, p string) (string, error) {
	content, err := f.interp.readFile(ctx, f.sb, p)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", p, err)
	}
	return content, nil
}

// Write stores content at p, creating parent directories first.
func (f *Files) Write(ctx context.Context, p, content string) error {
	if dir := path.Dir(p); dir != "." && dir != "/" {
		out, err := f.interp.runCommand(ctx, f.sb, "mkdir -p "+shellQuote(dir))
		if err != nil || out.ExitCode != 0 {
			debug.Log("e2b", "mkdir before write failed", "dir", dir, "error", err, "stderr", out.Stderr)
		}
	}
	if err := f.interp.writeFile(ctx, f.sb, p, content); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
