// Package storage defines the session ledger: a durable history of the
// sandboxes created by the server and how each one ended.
//
// The live session registry is authoritative for which sandboxes exist
// right now. The ledger is write-behind history used by the
// list_sandbox_history tool and by operators; a failing ledger never
// blocks sandbox operations. Adapters live in the memory and postgres
// subpackages.
package storage

import (
	"context"
	"time"
)

// Status is the lifecycle state recorded for a session.
type Status string

const (
	StatusActive       Status = "active"
	StatusClosed       Status = "closed"
	StatusCloseFailed  Status = "close_failed"
	StatusCloseTimeout Status = "close_timeout"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// SessionRecord is one sandbox lifetime. A session id may be reused after
// close, so records are keyed by ID rather than SessionID.
type SessionRecord struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	TenantID  string     `json:"tenant_id,omitempty"`
	Backend   string     `json:"backend"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of records; <= 0 means DefaultListLimit.
	Limit int

	// Status, when set, restricts results to one status.
	Status Status
}

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// EffectiveLimit clamps a requested limit to [1, MaxListLimit].
func (o ListOptions) EffectiveLimit() int {
	switch {
	case o.Limit <= 0:
		return DefaultListLimit
	case o.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return o.Limit
	}
}

// Ledger records sandbox session history. Records are scoped by the
// tenant in the context when one is set.
type Ledger interface {
	// Save inserts a new record. ErrConflict if rec.ID exists.
	Save(ctx context.Context, rec SessionRecord) error

	// Finish moves the newest active record of sessionID to status.
	// ErrNotFound if there is none.
	Finish(ctx context.Context, sessionID string, status Status, errMsg string) error

	// Get returns the newest record of sessionID.
	Get(ctx context.Context, sessionID string) (*SessionRecord, error)

	// List returns records newest first.
	List(ctx context.Context, opts ListOptions) ([]SessionRecord, error)

	HealthCheck(ctx context.Context) error
	Close() error
}

type tenantKey struct{}

// SetTenant attaches a tenant identifier to ctx.
func SetTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// GetTenant returns the tenant in ctx, or "" in single-tenant mode.
func GetTenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}
