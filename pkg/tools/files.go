package tools

import (
	"context"
	"path"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

type listInput struct {
	SessionID string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	Path      string `json:"path,omitempty" jsonschema:"The directory path to list files from (default: root directory)"`
}

type readInput struct {
	SessionID string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	FilePath  string `json:"file_path" jsonschema:"The path to the file to read"`
}

type writeInput struct {
	SessionID string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	FilePath  string `json:"file_path" jsonschema:"The path to the file to write"`
	Content   string `json:"content" jsonschema:"The content to write to the file"`
}

type uploadInput struct {
	SessionID       string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	FileName        string `json:"file_name" jsonschema:"The name of the file to create"`
	FileContent     string `json:"file_content" jsonschema:"The content of the file"`
	DestinationPath string `json:"destination_path,omitempty" jsonschema:"The directory where the file should be created (default: root directory)"`
}

type listPayload struct {
	Path  string             `json:"path"`
	Files []sandbox.FileInfo `json:"files"`
}

type contentPayload struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type pathMessagePayload struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (t *toolset) registerFileTools(s *mcp.Server) {
	addTool(s, &mcp.Tool{
		Name:        "list_files",
		Description: "List files in the sandbox at the specified path.",
	}, t.listFiles)

	addTool(s, &mcp.Tool{
		Name:        "read_file",
		Description: "Read the contents of a file in the sandbox.",
	}, t.readFile)

	addTool(s, &mcp.Tool{
		Name:        "write_file",
		Description: "Write content to a file in the sandbox.",
	}, t.writeFile)

	addTool(s, &mcp.Tool{
		Name:        "upload_file",
		Description: "Upload a file to the sandbox.",
	}, t.uploadFile)
}

func (t *toolset) listFiles(ctx context.Context, in listInput) (any, error) {
	dir := in.Path
	if dir == "" {
		dir = "/"
	}
	files, err := t.files(in.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "Error listing files")
	}
	list, err := files.List(ctx, dir)
	if err != nil {
		return nil, failf("Error listing files: %v", err)
	}
	if list == nil {
		list = []sandbox.FileInfo{}
	}
	return listPayload{Path: dir, Files: list}, nil
}

func (t *toolset) readFile(ctx context.Context, in readInput) (any, error) {
	files, err := t.files(in.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "Error reading file")
	}
	content, err := files.Read(ctx, in.FilePath)
	if err != nil {
		return nil, failf("Error reading file: %v", err)
	}
	return contentPayload{Path: in.FilePath, Content: content}, nil
}

func (t *toolset) writeFile(ctx context.Context, in writeInput) (any, error) {
	files, err := t.files(in.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "Error writing file")
	}
	if err := files.Write(ctx, in.FilePath, in.Content); err != nil {
		return nil, failf("Error writing file: %v", err)
	}
	return pathMessagePayload{Path: in.FilePath, Message: "File written successfully: " + in.FilePath}, nil
}

func (t *toolset) uploadFile(ctx context.Context, in uploadInput) (any, error) {
	files, err := t.files(in.SessionID)
	if err != nil {
		return nil, notFoundOr(err, "Error uploading file")
	}
	full := uploadPath(in.DestinationPath, in.FileName)
	if err := files.Write(ctx, full, in.FileContent); err != nil {
		return nil, failf("Error uploading file: %v", err)
	}
	return pathMessagePayload{Path: full, Message: "File uploaded successfully: " + full}, nil
}

// uploadPath joins the destination directory and file name into an
// absolute path.
func uploadPath(dir, name string) string {
	if dir == "" {
		dir = "/"
	}
	full := path.Join(dir, name)
	if !strings.HasPrefix(full, "/") {
		full = "/" + full
	}
	return full
}

// notFoundOr keeps the session lookup message and prefixes anything else.
func notFoundOr(err error, prefix string) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return failf("%s: %v", prefix, err)
}
