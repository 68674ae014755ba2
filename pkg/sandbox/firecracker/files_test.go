package firecracker

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

func envelopeBody(stdout, stderr string) string {
	b, _ := json.Marshal(map[string]any{"result": map[string]string{"stdout": stdout, "stderr": stderr}})
	return string(b)
}

func TestParseListing(t *testing.T) {
	output := `total 16
drwxr-xr-x  3 root root 4096 May  1 10:00 .
drwxr-xr-x 18 root root 4096 May  1 09:00 ..
drwxr-xr-x  2 root root 4096 May  1 10:05 data
-rw-r--r--  1 app  dev    12 May  1 10:06 my   notes.txt
`
	files := parseListing(output)
	if len(files) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(files), files)
	}
	if files[0].Name != "data" || files[0].Type != sandbox.TypeDirectory {
		t.Errorf("dir entry = %+v", files[0])
	}
	want := sandbox.FileInfo{
		Name:        "my   notes.txt",
		Type:        sandbox.TypeFile,
		Size:        12,
		Permissions: "-rw-r--r--",
		Owner:       "app",
		Group:       "dev",
		Modified:    "May 1 10:06",
	}
	if files[1] != want {
		t.Errorf("file entry = %+v, want %+v", files[1], want)
	}
}

func TestFilesOperations(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1"}
	svc.result = func(kind string, payload map[string]string) (int, string) {
		switch {
		case kind == "command" && strings.HasPrefix(payload["command"], "ls -la"):
			return http.StatusOK, envelopeBody("total 4\n-rw-r--r-- 1 root root 3 May  1 10:06 a.txt\n", "")
		case kind == "command" && strings.HasPrefix(payload["command"], "cat"):
			return http.StatusOK, envelopeBody("abc", "")
		default:
			return http.StatusOK, envelopeBody("", "")
		}
	}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	files, err := interp.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}

	list, err := files.List(ctx, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Name != "a.txt" || list[0].Size != 3 {
		t.Errorf("list = %+v", list)
	}
	if cmd := svc.lastPayload()["command"]; cmd != "ls -la '/'" {
		t.Errorf("list command = %q", cmd)
	}

	content, err := files.Read(ctx, "/tmp/a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "abc" {
		t.Errorf("content = %q", content)
	}

	if err := files.Write(ctx, `/tmp/it's "q".txt`, "line \"1\"\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	code := svc.lastPayload()["code"]
	if !strings.Contains(code, `p = "/tmp/it's \"q\".txt"`) {
		t.Errorf("write code does not embed the quoted path:\n%s", code)
	}
	if !strings.Contains(code, `f.write("line \"1\"\n")`) {
		t.Errorf("write code does not embed the quoted content:\n%s", code)
	}
	if !strings.Contains(code, "os.makedirs(d, exist_ok=True)") {
		t.Errorf("write code should create parent directories:\n%s", code)
	}
}

func TestFilesReadError(t *testing.T) {
	svc := &fakeService{spawnID: "vm-1", result: func(string, map[string]string) (int, string) {
		return http.StatusOK, envelopeBody("", "cat: /nope: No such file or directory\n")
	}}
	interp := newTestInterpreter(t, svc, "")
	ctx := context.Background()
	if err := interp.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	files, _ := interp.Files()

	_, err := files.Read(ctx, "/nope")
	if err == nil || !strings.Contains(err.Error(), "No such file or directory") {
		t.Errorf("Read error = %v", err)
	}
	if err := files.Write(ctx, "/ro/x", "y"); err == nil {
		t.Error("Write should fail when the snippet reports stderr")
	}
}
