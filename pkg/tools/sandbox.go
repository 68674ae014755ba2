package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

type sessionInput struct {
	SessionID string `json:"session_id" jsonschema:"A unique identifier for the sandbox session"`
}

type statusInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Optional session ID to get status for a specific sandbox"`
}

type historyInput struct {
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of records to return (default 20, max 100)"`
	Status string `json:"status,omitempty" jsonschema:"Only return records with this status: active, closed, close_failed, close_timeout or failed"`
}

type messagePayload struct {
	Message string `json:"message"`
}

// backendStatuser is implemented by interpreters that can report the
// state of their remote environment.
type backendStatuser interface {
	Status(ctx context.Context) (map[string]any, error)
}

func (t *toolset) registerSandboxTools(s *mcp.Server) {
	addTool(s, &mcp.Tool{
		Name:        "create_sandbox",
		Description: "Create a new sandbox environment for code execution.",
	}, t.createSandbox)

	addTool(s, &mcp.Tool{
		Name:        "close_sandbox",
		Description: "Close and clean up a sandbox environment.",
	}, t.closeSandbox)

	addTool(s, &mcp.Tool{
		Name:        "get_sandbox_status",
		Description: "Get status information about sandboxes. Without a session ID, summarizes all active sandboxes.",
	}, t.sandboxStatus)

	addTool(s, &mcp.Tool{
		Name:        "list_sandbox_history",
		Description: "List recently created sandbox sessions, newest first, including closed and failed ones.",
	}, t.sandboxHistory)
}

func (t *toolset) createSandbox(ctx context.Context, in sessionInput) (any, error) {
	created, err := t.sessions.Create(ctx, in.SessionID)
	if err != nil {
		return nil, failf("Failed to create sandbox: %v", err)
	}
	if !created {
		return messagePayload{fmt.Sprintf("Sandbox with session ID %s already exists.", in.SessionID)}, nil
	}
	slog.Info("created sandbox", "session_id", in.SessionID, "backend", t.backend)
	return messagePayload{fmt.Sprintf("Sandbox created successfully with session ID: %s", in.SessionID)}, nil
}

// closeSandbox never reports a failure: the session is gone from the
// registry whatever the backend said, and an error would invite retries.
func (t *toolset) closeSandbox(ctx context.Context, in sessionInput) (any, error) {
	out := t.sessions.Close(ctx, in.SessionID)
	switch {
	case !out.Found:
		return messagePayload{fmt.Sprintf("Sandbox with session ID %s is not active or has already been closed.", in.SessionID)}, nil
	case out.Err != nil:
		return messagePayload{fmt.Sprintf("Sandbox with session ID %s has been removed from active sessions. Cleanup completed.", in.SessionID)}, nil
	default:
		return messagePayload{fmt.Sprintf("Sandbox with session ID %s has been successfully closed and all resources freed.", in.SessionID)}, nil
	}
}

func (t *toolset) sandboxStatus(ctx context.Context, in statusInput) (any, error) {
	if in.SessionID == "" {
		snapshot := t.sessions.Snapshot()
		ids := make([]string, 0, len(snapshot))
		for _, info := range snapshot {
			ids = append(ids, info.SessionID)
		}
		return map[string]any{
			"active_sandbox_count": len(ids),
			"active_sessions":      ids,
			"interpreter_type":     t.backend,
			"sessions":             snapshot,
		}, nil
	}

	info, ok := t.sessions.Status(in.SessionID)
	if !ok {
		return nil, failf("No sandbox found with session ID: %s", in.SessionID)
	}
	payload := map[string]any{
		"status":           "active",
		"session_id":       info.SessionID,
		"interpreter_type": info.Backend,
		"created_at":       info.CreatedAt,
	}
	if interp, err := t.sessions.Lookup(in.SessionID); err == nil {
		if bs, ok := interp.(backendStatuser); ok {
			st, err := bs.Status(ctx)
			if err != nil {
				payload["backend_status_error"] = err.Error()
			} else {
				payload["backend_status"] = st
			}
		}
	}
	return payload, nil
}

func (t *toolset) sandboxHistory(ctx context.Context, in historyInput) (any, error) {
	ledger := t.sessions.Ledger()
	if ledger == nil {
		return nil, failf("Session history is disabled (storage type is none)")
	}
	opts := storage.ListOptions{Limit: in.Limit, Status: storage.Status(in.Status)}
	records, err := ledger.List(ctx, opts)
	if err != nil {
		return nil, failf("Error listing session history: %v", err)
	}
	return map[string]any{
		"count":    len(records),
		"sessions": records,
	}, nil
}
