package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
	"github.com/yingchuan/mcp-code-sandbox/pkg/session"
	"github.com/yingchuan/mcp-code-sandbox/pkg/telnet"
)

// ServerName is the MCP implementation name announced to clients.
const ServerName = "code-sandbox"

// Options wires the tool surface to its collaborators.
type Options struct {
	Sessions *session.Registry

	// Backend is the configured backend tag, reported as interpreter_type.
	Backend string

	// Telnet enables the telnet tools when non-nil.
	Telnet *telnet.Manager

	Version string
}

// NewServer creates an MCP server with every tool registered.
func NewServer(opts Options) *mcp.Server {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	Register(s, opts)
	return s
}

// Register adds the tools to an existing server.
func Register(s *mcp.Server, opts Options) {
	t := &toolset{sessions: opts.Sessions, backend: opts.Backend, telnet: opts.Telnet}
	t.registerSandboxTools(s)
	t.registerExecutionTools(s)
	t.registerFileTools(s)
	if t.telnet != nil {
		t.registerTelnetTools(s)
	}
}

type toolset struct {
	sessions *session.Registry
	backend  string
	telnet   *telnet.Manager
}

func (t *toolset) interpreter(id string) (sandbox.CodeInterpreter, error) {
	interp, err := t.sessions.Lookup(id)
	if err != nil {
		return nil, failf("No sandbox found with session ID: %s. Create a sandbox first.", id)
	}
	return interp, nil
}

func (t *toolset) files(id string) (sandbox.FileInterface, error) {
	interp, err := t.interpreter(id)
	if err != nil {
		return nil, err
	}
	return interp.Files()
}

// execution is the {"logs","error"} payload shared by code and command
// execution.
type execution struct {
	Logs  string  `json:"logs"`
	Error *string `json:"error"`
}

func executionPayload(r sandbox.ExecutionResult) execution {
	return execution{Logs: r.Logs, Error: r.Error}
}
