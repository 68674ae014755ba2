package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
)

type codeInput struct {
	SessionID string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	Code      string `json:"code" jsonschema:"The Python code to execute"`
}

type commandInput struct {
	SessionID string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	Command   string `json:"command" jsonschema:"The shell command to run"`
}

type packageInput struct {
	SessionID   string `json:"session_id" jsonschema:"The unique identifier for the sandbox session"`
	PackageName string `json:"package_name" jsonschema:"The name of the Python package to install"`
}

type oneShotInput struct {
	Code string `json:"code" jsonschema:"The Python code to execute"`
}

type packagePayload struct {
	Package string  `json:"package"`
	Output  string  `json:"output"`
	Error   *string `json:"error"`
}

func (t *toolset) registerExecutionTools(s *mcp.Server) {
	addTool(s, &mcp.Tool{
		Name:        "execute_code",
		Description: "Execute Python code in the sandbox environment. Returns the logs and any error.",
	}, t.executeCode)

	addTool(s, &mcp.Tool{
		Name:        "run_command",
		Description: "Run a shell command in the sandbox environment. Returns the output and any error.",
	}, t.runCommand)

	addTool(s, &mcp.Tool{
		Name:        "install_package",
		Description: "Install a Python package in the sandbox.",
	}, t.installPackage)

	addTool(s, &mcp.Tool{
		Name:        "create_run_close",
		Description: "Create a sandbox, run code, and automatically close the sandbox in one operation.",
	}, t.createRunClose)
}

func (t *toolset) executeCode(ctx context.Context, in codeInput) (any, error) {
	interp, err := t.interpreter(in.SessionID)
	if err != nil {
		return nil, err
	}
	debug.Log("tools", "execute_code", "session_id", in.SessionID, "code", debug.Truncate(in.Code, 200))
	res, err := interp.RunCode(ctx, in.Code)
	if err != nil {
		slog.Error("executing code", "session_id", in.SessionID, "error", err)
		return nil, failf("Error executing code: %v", err)
	}
	return executionPayload(res), nil
}

func (t *toolset) runCommand(ctx context.Context, in commandInput) (any, error) {
	interp, err := t.interpreter(in.SessionID)
	if err != nil {
		return nil, err
	}
	res, err := interp.RunCommand(ctx, in.Command)
	if err != nil {
		slog.Error("running command", "session_id", in.SessionID, "error", err)
		return nil, failf("Error running command: %v", err)
	}
	return executionPayload(res), nil
}

func (t *toolset) installPackage(ctx context.Context, in packageInput) (any, error) {
	interp, err := t.interpreter(in.SessionID)
	if err != nil {
		return nil, err
	}

	var res sandbox.ExecutionResult
	if pi, ok := interp.(sandbox.PackageInstaller); ok {
		res, err = pi.InstallPackage(ctx, in.PackageName)
	} else {
		res, err = interp.RunCommand(ctx, "pip install "+shellQuote(in.PackageName))
	}
	if err != nil {
		slog.Error("installing package", "session_id", in.SessionID, "package", in.PackageName, "error", err)
		return nil, failf("Error installing package: %v", err)
	}
	slog.Info("installed package", "session_id", in.SessionID, "package", in.PackageName, "failed", res.HasError())
	return packagePayload{Package: in.PackageName, Output: res.Logs, Error: res.Error}, nil
}

func (t *toolset) createRunClose(ctx context.Context, in oneShotInput) (any, error) {
	res, err := t.sessions.CreateRunClose(ctx, in.Code)
	if err != nil {
		return nil, failf("Operation failed: %v", err)
	}
	return res, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
