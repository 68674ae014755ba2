package docker

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

// lsTimeStyle keeps the modification time in a single field.
const lsTimeStyle = "+%Y-%m-%d_%H:%M:%S"

// Files is the container file facade. Every path is resolved relative to
// WorkspaceRoot and may not escape it.
type Files struct {
	runner    Runner
	container string
}

// ResolvePath maps a caller path onto the workspace root. Leading slashes
// are ignored, so "/data.csv" and "data.csv" name the same file.
func ResolvePath(p string) (string, error) {
	clean := path.Clean(strings.TrimLeft(p, "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", sandbox.ErrPathTraversal, p)
	}
	return path.Join(WorkspaceRoot, clean), nil
}

// List returns the entries of a workspace directory.
func (f *Files) List(ctx context.Context, p string) ([]sandbox.FileInfo, error) {
	dir, err := ResolvePath(p)
	if err != nil {
		return nil, err
	}

	script := "cd " + shellQuote(dir) + " && ls -la --time-style=" + lsTimeStyle + " | tail -n +2"
	out, err := f.runner.Run(ctx, nil, "exec", f.container, "bash", "-c", script)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	if out.ExitCode != 0 {
		return nil, fmt.Errorf("listing %s: %s", dir, strings.TrimSpace(out.Stderr))
	}
	return parseListing(out.Stdout), nil
}

// parseListing parses "ls -la" output produced with lsTimeStyle:
//
//	drwxr-xr-x 2 sandbox sandbox 4096 2024-05-01_10:00:00 data
func parseListing(output string) []sandbox.FileInfo {
	var files []sandbox.FileInfo
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 7 {
			continue
		}
		name := sandbox.ListingName(line, 6)
		if name == "." || name == ".." {
			continue
		}

		perms := fields[0]
		info := sandbox.FileInfo{
			Name:        name,
			Type:        sandbox.TypeFile,
			Permissions: perms,
			Owner:       fields[2],
			Group:       fields[3],
			Modified:    strings.Replace(fields[5], "_", " ", 1),
		}
		switch perms[0] {
		case 'd':
			info.Type = sandbox.TypeDirectory
		case 'l':
			if target := strings.Index(name, " -> "); target > 0 {
				info.Name = name[:target]
			}
		}
		if info.Type == sandbox.TypeFile {
			info.Size, _ = strconv.ParseInt(fields[4], 10, 64)
		}
		files = append(files, info)
	}
	return files
}

// Read returns the content of a workspace file.
func (f *Files) Read(ctx context.Context, p string) (string, error) {
	file, err := ResolvePath(p)
	if err != nil {
		return "", err
	}

	out, err := f.runner.Run(ctx, nil, "exec", f.container, "cat", file)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file, err)
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("reading %s: %s", file, strings.TrimSpace(out.Stderr))
	}
	return out.Stdout, nil
}

// Write creates or overwrites a workspace file, creating parent
// directories as needed. Content is streamed over stdin.
func (f *Files) Write(ctx context.Context, p, content string) error {
	file, err := ResolvePath(p)
	if err != nil {
		return err
	}

	out, err := f.runner.Run(ctx, nil, "exec", f.container, "mkdir", "-p", path.Dir(file))
	if err != nil {
		return fmt.Errorf("creating directory for %s: %w", file, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("creating directory for %s: %s", file, strings.TrimSpace(out.Stderr))
	}

	out, err = f.runner.Run(ctx, strings.NewReader(content),
		"exec", "-i", f.container, "bash", "-c", "cat > "+shellQuote(file))
	if err != nil {
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("writing %s: %s", file, strings.TrimSpace(out.Stderr))
	}
	return nil
}
