// Package sandbox defines the backend-neutral contract for isolated code
// execution environments.
//
// A CodeInterpreter owns exactly one external environment (a cloud sandbox,
// a local container, or a remote microVM). It starts Uninitialized, becomes
// Ready after a successful Initialize, and ends Closed after Close. Every
// operation other than Initialize and Close fails with ErrNotInitialized
// outside the Ready state and performs no backend I/O.
package sandbox

import "context"

// Backend type tags accepted by the factory.
const (
	BackendE2B         = "e2b"
	BackendDocker      = "docker"
	BackendContainer   = "container"
	BackendFirecracker = "firecracker"
)

// CodeInterpreter is implemented by every backend adapter.
type CodeInterpreter interface {
	// Initialize acquires the external environment. On failure the
	// interpreter stays uninitialized.
	Initialize(ctx context.Context) error

	// Close releases the external environment. It is idempotent and
	// swallows "already gone" conditions reported by the backend.
	Close(ctx context.Context) error

	// RunCode executes code in the environment's default runtime.
	// Ordinary execution failures are reported in ExecutionResult.Error;
	// the returned error is reserved for lifecycle and transport failures.
	RunCode(ctx context.Context, code string) (ExecutionResult, error)

	// RunCommand executes a shell command with the same error contract
	// as RunCode.
	RunCommand(ctx context.Context, command string) (ExecutionResult, error)

	// Files returns the file-operations facade for the environment.
	Files() (FileInterface, error)

	// Backend returns the backend type tag.
	Backend() string
}

// FileInterface performs file operations inside an environment.
type FileInterface interface {
	List(ctx context.Context, path string) ([]FileInfo, error)
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, content string) error
}

// PackageInstaller is implemented by interpreters that manage their own
// package environment. Callers fall back to "pip install" through
// RunCommand for interpreters that do not implement it.
type PackageInstaller interface {
	InstallPackage(ctx context.Context, pkg string) (ExecutionResult, error)
}

// FileInfo describes one directory entry. Name, Type and Size are always
// set; the remaining fields are populated only by backends that derive
// them from a directory listing.
type FileInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "file" or "directory"
	Size        int64  `json:"size"`
	Permissions string `json:"permissions,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Group       string `json:"group,omitempty"`
	Modified    string `json:"modified,omitempty"`
}

// File types reported in FileInfo.Type.
const (
	TypeFile      = "file"
	TypeDirectory = "directory"
)
