package docker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/", want: "/home/sandbox/workspace"},
		{in: "", want: "/home/sandbox/workspace"},
		{in: "data.csv", want: "/home/sandbox/workspace/data.csv"},
		{in: "/data/out.txt", want: "/home/sandbox/workspace/data/out.txt"},
		{in: "/etc/passwd", want: "/home/sandbox/workspace/etc/passwd"},
		{in: "a/../b", want: "/home/sandbox/workspace/b"},
		{in: "..data", want: "/home/sandbox/workspace/..data"},
		{in: "../../etc/passwd", wantErr: true},
		{in: "a/../../b", wantErr: true},
		{in: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ResolvePath(tt.in)
			if tt.wantErr {
				if !errors.Is(err, sandbox.ErrPathTraversal) {
					t.Fatalf("ResolvePath(%q) error = %v, want ErrPathTraversal", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolvePath(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ResolvePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFilesRejectTraversal(t *testing.T) {
	r := &fakeRunner{}
	f := &Files{runner: r, container: "box"}
	ctx := context.Background()
	const evil = "../../etc/passwd"

	if _, err := f.List(ctx, evil); !errors.Is(err, sandbox.ErrPathTraversal) {
		t.Errorf("List error = %v", err)
	}
	if _, err := f.Read(ctx, evil); !errors.Is(err, sandbox.ErrPathTraversal) {
		t.Errorf("Read error = %v", err)
	}
	if err := f.Write(ctx, evil, "x"); !errors.Is(err, sandbox.ErrPathTraversal) {
		t.Errorf("Write error = %v", err)
	}
	if n := len(r.commands()); n != 0 {
		t.Errorf("traversal attempts reached the container: %v", r.commands())
	}
}

func TestParseListing(t *testing.T) {
	output := `drwxr-xr-x 3 sandbox sandbox 4096 2024-05-01_10:00:00 .
drwxr-xr-x 5 root    root    4096 2024-05-01_09:00:00 ..
drwxr-xr-x 2 sandbox sandbox 4096 2024-05-01_10:05:00 data
-rw-r--r-- 1 sandbox sandbox  123 2024-05-01_10:06:07 main.py
-rw-r--r-- 1 sandbox sandbox    7 2024-05-01_10:06:08 my  notes.txt
lrwxrwxrwx 1 sandbox sandbox    7 2024-05-01_10:06:09 link -> main.py
`
	files := parseListing(output)
	if len(files) != 4 {
		t.Fatalf("expected 4 entries, got %d: %+v", len(files), files)
	}

	dir := files[0]
	if dir.Name != "data" || dir.Type != sandbox.TypeDirectory || dir.Size != 0 {
		t.Errorf("dir entry = %+v", dir)
	}

	py := files[1]
	want := sandbox.FileInfo{
		Name:        "main.py",
		Type:        sandbox.TypeFile,
		Size:        123,
		Permissions: "-rw-r--r--",
		Owner:       "sandbox",
		Group:       "sandbox",
		Modified:    "2024-05-01 10:06:07",
	}
	if py != want {
		t.Errorf("file entry = %+v, want %+v", py, want)
	}

	if files[2].Name != "my  notes.txt" {
		t.Errorf("name with space = %q", files[2].Name)
	}
	if files[3].Name != "link" || files[3].Type != sandbox.TypeFile {
		t.Errorf("symlink entry = %+v", files[3])
	}
}

func TestFilesList(t *testing.T) {
	r := &fakeRunner{handle: func(_ context.Context, args []string, _ string) (Output, error) {
		return Output{Stdout: "-rw-r--r-- 1 sandbox sandbox 5 2024-05-01_10:06:07 a.txt\n"}, nil
	}}
	f := &Files{runner: r, container: "box"}

	files, err := f.List(context.Background(), "/sub dir")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 1 || files[0].Name != "a.txt" || files[0].Size != 5 {
		t.Errorf("files = %+v", files)
	}
	cmd := r.commands()[0]
	if !strings.Contains(cmd, "cd '/home/sandbox/workspace/sub dir' && ls -la --time-style=+%Y-%m-%d_%H:%M:%S") {
		t.Errorf("list command = %q", cmd)
	}
}

func TestFilesListMissingDirectory(t *testing.T) {
	r := &fakeRunner{handle: func(_ context.Context, args []string, _ string) (Output, error) {
		return Output{ExitCode: 1, Stderr: "bash: cd: nope: No such file or directory\n"}, nil
	}}
	f := &Files{runner: r, container: "box"}

	_, err := f.List(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("List error = %v", err)
	}
}

func TestFilesRead(t *testing.T) {
	r := &fakeRunner{handle: func(_ context.Context, args []string, _ string) (Output, error) {
		return Output{Stdout: "hello\n"}, nil
	}}
	f := &Files{runner: r, container: "box"}

	content, err := f.Read(context.Background(), "/notes.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "hello\n" {
		t.Errorf("content = %q", content)
	}
	if got := r.commands()[0]; got != "exec box cat /home/sandbox/workspace/notes.txt" {
		t.Errorf("read command = %q", got)
	}
}

func TestFilesWrite(t *testing.T) {
	r := &fakeRunner{}
	f := &Files{runner: r, container: "box"}

	if err := f.Write(context.Background(), "out/result.txt", "line1\nline2\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r.mu.Lock()
	calls := r.calls
	r.mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("expected mkdir and write calls, got %d", len(calls))
	}
	if got := strings.Join(calls[0].args, " "); got != "exec box mkdir -p /home/sandbox/workspace/out" {
		t.Errorf("mkdir call = %q", got)
	}
	if got := strings.Join(calls[1].args, " "); got != "exec -i box bash -c cat > '/home/sandbox/workspace/out/result.txt'" {
		t.Errorf("write call = %q", got)
	}
	if calls[1].stdin != "line1\nline2\n" {
		t.Errorf("stdin = %q", calls[1].stdin)
	}
}
