package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/telnet"
)

type connectInput struct {
	Host    string `json:"host" jsonschema:"The hostname or IP address of the telnet server"`
	Port    int    `json:"port" jsonschema:"The port to connect to"`
	Timeout int    `json:"timeout,omitempty" jsonschema:"Connection timeout in seconds (default 30)"`
}

type sendInput struct {
	SessionID string `json:"session_id" jsonschema:"The session ID returned by connect"`
	Command   string `json:"command" jsonschema:"The command to send"`
	Timeout   int    `json:"timeout,omitempty" jsonschema:"Timeout in seconds for waiting for a response (default 10)"`
}

type disconnectInput struct {
	SessionID string `json:"session_id" jsonschema:"The session ID returned by connect"`
}

func (t *toolset) registerTelnetTools(s *mcp.Server) {
	addTool(s, &mcp.Tool{
		Name:        "connect",
		Description: "Connect to a telnet server. Returns a session ID and the initial response.",
	}, t.telnetConnect)

	addTool(s, &mcp.Tool{
		Name:        "send_command",
		Description: "Send a command to a connected telnet server and return its response.",
	}, t.telnetSend)

	addTool(s, &mcp.Tool{
		Name:        "disconnect",
		Description: "Disconnect from a telnet server.",
	}, t.telnetDisconnect)

	addTool(s, &mcp.Tool{
		Name:        "list_connections",
		Description: "List all active telnet connections.",
	}, t.telnetList)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

func (t *toolset) telnetConnect(ctx context.Context, in connectInput) (any, error) {
	info, banner, err := t.telnet.Connect(ctx, in.Host, in.Port, seconds(in.Timeout))
	if err != nil {
		slog.Error("telnet connect", "host", in.Host, "port", in.Port, "error", err)
		return nil, failf("%v", err)
	}
	return map[string]any{
		"session_id":       info.SessionID,
		"connected":        true,
		"host":             info.Host,
		"port":             info.Port,
		"initial_response": banner,
	}, nil
}

func (t *toolset) telnetSend(ctx context.Context, in sendInput) (any, error) {
	resp, err := t.telnet.Send(ctx, in.SessionID, in.Command, seconds(in.Timeout))
	if err != nil {
		if errors.Is(err, telnet.ErrConnectionNotFound) {
			return nil, failf("No active connection with session ID %s", in.SessionID)
		}
		return nil, failf("%v", err)
	}
	return map[string]any{"success": true, "response": resp}, nil
}

func (t *toolset) telnetDisconnect(_ context.Context, in disconnectInput) (any, error) {
	if err := t.telnet.Disconnect(in.SessionID); err != nil {
		if errors.Is(err, telnet.ErrConnectionNotFound) {
			return nil, failf("No active connection with session ID %s", in.SessionID)
		}
		return nil, failf("%v", err)
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Connection %s closed successfully", in.SessionID),
	}, nil
}

func (t *toolset) telnetList(_ context.Context, _ struct{}) (any, error) {
	conns := t.telnet.List()
	return map[string]any{"count": len(conns), "connections": conns}, nil
}
