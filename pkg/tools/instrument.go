package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/observability"
)

// Error is a tool failure whose message is returned verbatim to the
// caller as {"error": message}.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func failf(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// handler produces a JSON-serializable payload for one tool call.
type handler[In any] func(ctx context.Context, in In) (any, error)

// addTool registers h with metrics and panic recovery. A handler error or
// panic becomes an {"error": ...} payload with IsError set; no Go error
// ever reaches the protocol layer.
func addTool[In any](s *mcp.Server, tool *mcp.Tool, h handler[In]) {
	mcp.AddTool(s, tool, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (res *mcp.CallToolResult, _ any, _ error) {
		start := time.Now()
		status := "success"

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("tool handler panicked", "tool", tool.Name, "panic", rec)
				res = errorResult(fmt.Sprintf("internal error: tool %q panicked", tool.Name))
				status = "panic"
			}
			observability.ToolExecutionsTotal.WithLabelValues(tool.Name, status).Inc()
			observability.ToolDuration.WithLabelValues(tool.Name).Observe(time.Since(start).Seconds())
		}()

		payload, err := h(ctx, in)
		if err != nil {
			status = "tool_error"
			debug.Log("tools", "tool failed", "tool", tool.Name, "error", err)
			return errorResult(err.Error()), nil, nil
		}
		debug.Log("tools", "tool completed", "tool", tool.Name, "duration_ms", time.Since(start).Milliseconds())
		return jsonResult(payload), nil, nil
	})
}

func jsonResult(payload any) *mcp.CallToolResult {
	b, err := json.Marshal(payload)
	if err != nil {
		return errorResult("encoding tool result: " + err.Error())
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
		StructuredContent: json.RawMessage(b),
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
		StructuredContent: json.RawMessage(b),
		IsError:           true,
	}
}
