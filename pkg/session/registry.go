// Package session maps caller-chosen session ids to live sandbox
// interpreters.
//
// The Registry is the only shared mutable state of the server. It is
// constructed at startup, passed to every component that resolves
// sessions, and drained with CloseAll at shutdown. Map mutations never
// span backend I/O: initialize and close run outside the lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yingchuan/mcp-code-sandbox/pkg/observability"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
	"github.com/yingchuan/mcp-code-sandbox/pkg/storage"
)

// ErrSessionNotFound is returned by Lookup for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Default bounds.
const (
	DefaultCreateTimeout   = 2 * time.Minute
	DefaultCloseTimeout    = 10 * time.Second
	DefaultCloseAllTimeout = 5 * time.Second
)

// Constructor builds one un-initialized interpreter.
type Constructor func() (sandbox.CodeInterpreter, error)

type entry struct {
	interp    sandbox.CodeInterpreter
	backend   string
	tenant    string
	createdAt time.Time
}

// Registry owns the live sessions.
type Registry struct {
	newInterp       Constructor
	createTimeout   time.Duration
	closeTimeout    time.Duration
	closeAllTimeout time.Duration
	ledger          storage.Ledger

	mu       sync.Mutex
	sessions map[string]*entry
	pending  map[string]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithCreateTimeout bounds Initialize during Create.
func WithCreateTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.createTimeout = d
		}
	}
}

// WithCloseTimeout bounds Close.
func WithCloseTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.closeTimeout = d
		}
	}
}

// WithCloseAllTimeout bounds each close during CloseAll.
func WithCloseAllTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.closeAllTimeout = d
		}
	}
}

// WithLedger records session history. A nil ledger disables recording.
func WithLedger(l storage.Ledger) Option {
	return func(r *Registry) { r.ledger = l }
}

// NewRegistry creates an empty registry that builds interpreters with
// newInterp.
func NewRegistry(newInterp Constructor, opts ...Option) *Registry {
	r := &Registry{
		newInterp:       newInterp,
		createTimeout:   DefaultCreateTimeout,
		closeTimeout:    DefaultCloseTimeout,
		closeAllTimeout: DefaultCloseAllTimeout,
		sessions:        make(map[string]*entry),
		pending:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create builds and initializes an interpreter for id. It returns
// created=false with a nil error when id is already present; the existing
// interpreter is left untouched. A failed Initialize leaves no entry.
func (r *Registry) Create(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		observability.SessionCreatesTotal.WithLabelValues("", "exists").Inc()
		return false, nil
	}
	if _, ok := r.pending[id]; ok {
		r.mu.Unlock()
		observability.SessionCreatesTotal.WithLabelValues("", "exists").Inc()
		return false, nil
	}
	r.pending[id] = struct{}{}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}

	interp, err := r.newInterp()
	if err != nil {
		release()
		observability.SessionCreatesTotal.WithLabelValues("", "failed").Inc()
		return false, err
	}
	backend := interp.Backend()

	ictx, cancel := context.WithTimeout(ctx, r.createTimeout)
	start := time.Now()
	err = interp.Initialize(ictx)
	cancel()
	observability.BackendLatency.WithLabelValues(backend, "initialize").Observe(time.Since(start).Seconds())

	if err != nil {
		release()
		observability.SessionCreatesTotal.WithLabelValues(backend, "failed").Inc()
		slog.Warn("sandbox initialize failed", "session_id", id, "backend", backend, "error", err)
		r.record(ctx, storage.SessionRecord{
			SessionID: id,
			Backend:   backend,
			Status:    storage.StatusFailed,
			Error:     err.Error(),
		})
		return false, err
	}

	e := &entry{interp: interp, backend: backend, tenant: storage.GetTenant(ctx), createdAt: time.Now().UTC()}
	r.mu.Lock()
	delete(r.pending, id)
	r.sessions[id] = e
	r.mu.Unlock()

	observability.SessionsActive.Inc()
	observability.SessionCreatesTotal.WithLabelValues(backend, "created").Inc()
	slog.Info("sandbox created", "session_id", id, "backend", backend)

	r.record(ctx, storage.SessionRecord{
		SessionID: id,
		Backend:   backend,
		Status:    storage.StatusActive,
		CreatedAt: e.createdAt,
	})
	return true, nil
}

// Lookup returns the interpreter for id.
func (r *Registry) Lookup(id string) (sandbox.CodeInterpreter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return e.interp, nil
}

// CloseOutcome describes one bounded close.
type CloseOutcome struct {
	// Found is false when the id was not registered; nothing else is set.
	Found bool

	// Closed is true when the interpreter's Close returned nil in time.
	Closed bool

	// TimedOut is true when the close bound elapsed first.
	TimedOut bool

	// Err is the close error or the timeout.
	Err error
}

// Close closes id within the close bound and removes it. Removal happens
// whether the close succeeds, fails or times out. An unknown id yields
// Found=false rather than an error.
func (r *Registry) Close(ctx context.Context, id string) CloseOutcome {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return CloseOutcome{}
	}
	return r.closeEntry(ctx, id, e, r.closeTimeout)
}

func (r *Registry) closeEntry(ctx context.Context, id string, e *entry, timeout time.Duration) (out CloseOutcome) {
	out.Found = true
	defer r.remove(id, e)

	// The bound is independent of the caller: a cancelled request still
	// gets its resources released.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- e.interp.Close(cctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			out.Err = err
		} else {
			out.Closed = true
		}
	case <-cctx.Done():
		out.TimedOut = errors.Is(cctx.Err(), context.DeadlineExceeded)
		out.Err = fmt.Errorf("closing session %s: %w", id, cctx.Err())
	}
	observability.BackendLatency.WithLabelValues(e.backend, "close").Observe(time.Since(start).Seconds())

	status, outcome := storage.StatusClosed, "closed"
	switch {
	case out.TimedOut:
		status, outcome = storage.StatusCloseTimeout, "timeout"
		slog.Warn("timeout while closing sandbox, continuing with cleanup", "session_id", id, "timeout", timeout)
	case out.Err != nil:
		status, outcome = storage.StatusCloseFailed, "error"
		slog.Error("error closing sandbox", "session_id", id, "error", out.Err)
	default:
		slog.Info("sandbox closed", "session_id", id)
	}
	observability.SessionClosesTotal.WithLabelValues(e.backend, outcome).Inc()

	errMsg := ""
	if out.Err != nil {
		errMsg = out.Err.Error()
	}
	r.finish(storage.SetTenant(context.WithoutCancel(ctx), e.tenant), id, status, errMsg)
	return out
}

// remove deletes id if it still maps to e.
func (r *Registry) remove(id string, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == e {
		delete(r.sessions, id)
		observability.SessionsActive.Dec()
	}
}

// CloseAll closes every session concurrently, each within the shorter
// bulk bound, and returns the outcome per session id. One slow or failing
// close does not hold up the others.
func (r *Registry) CloseAll(ctx context.Context) map[string]CloseOutcome {
	r.mu.Lock()
	snapshot := make(map[string]*entry, len(r.sessions))
	for id, e := range r.sessions {
		snapshot[id] = e
	}
	r.mu.Unlock()

	var (
		g        errgroup.Group
		mu       sync.Mutex
		outcomes = make(map[string]CloseOutcome, len(snapshot))
	)
	for id, e := range snapshot {
		g.Go(func() error {
			out := r.closeEntry(ctx, id, e, r.closeAllTimeout)
			mu.Lock()
			outcomes[id] = out
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(snapshot) > 0 {
		slog.Info("closed all sandboxes", "count", len(snapshot))
	}
	return outcomes
}

// RunCloseResult is the combined outcome of CreateRunClose.
type RunCloseResult struct {
	SessionID      string  `json:"session_id"`
	Logs           string  `json:"logs"`
	Error          *string `json:"error"`
	SandboxStatus  string  `json:"sandbox_status,omitempty"`
	SandboxClosed  bool    `json:"sandbox_closed"`
	CloseError     string  `json:"close_error,omitempty"`
	SandboxRemoved bool    `json:"sandbox_removed"`
}

// CreateRunClose runs code in a fresh single-use session. The session is
// always closed and removed, whatever happens during execution. Only a
// failed create is returned as an error.
func (r *Registry) CreateRunClose(ctx context.Context, code string) (res RunCloseResult, err error) {
	id := uuid.NewString()
	res.SessionID = id

	if _, err := r.Create(ctx, id); err != nil {
		return res, err
	}

	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	// Deferred so a panicking adapter still leaves no entry behind.
	defer func() {
		out := r.closeEntry(ctx, id, e, r.closeTimeout)
		res.SandboxClosed = out.Closed
		if out.Err != nil {
			res.CloseError = out.Err.Error()
		}

		r.mu.Lock()
		_, still := r.sessions[id]
		r.mu.Unlock()
		res.SandboxRemoved = !still
	}()

	exec, runErr := e.interp.RunCode(ctx, code)
	if runErr != nil {
		msg := "Error executing code: " + runErr.Error()
		res.Error = &msg
	} else {
		res.Logs = exec.Logs
		res.Error = exec.Error
		res.SandboxStatus = "created and will be closed automatically"
	}
	return res, nil
}

// Info describes one live session.
type Info struct {
	SessionID string    `json:"session_id"`
	Backend   string    `json:"interpreter_type"`
	CreatedAt time.Time `json:"created_at"`
}

// Status returns the live session id.
func (r *Registry) Status(id string) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return Info{SessionID: id, Backend: e.backend, CreatedAt: e.createdAt}, true
}

// Snapshot lists the live sessions sorted by id. Sessions still
// initializing are not included.
func (r *Registry) Snapshot() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, Info{SessionID: id, Backend: e.backend, CreatedAt: e.createdAt})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// IDs returns the live session ids, sorted.
func (r *Registry) IDs() []string {
	snap := r.Snapshot()
	ids := make([]string, len(snap))
	for i, s := range snap {
		ids[i] = s.SessionID
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Ledger returns the configured ledger, or nil.
func (r *Registry) Ledger() storage.Ledger {
	return r.ledger
}

func (r *Registry) record(ctx context.Context, rec storage.SessionRecord) {
	if r.ledger == nil {
		return
	}
	rec.ID = uuid.NewString()
	if rec.Status.Terminal() {
		now := time.Now().UTC()
		rec.ClosedAt = &now
	}
	if err := r.ledger.Save(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("ledger save failed", "session_id", rec.SessionID, "error", err)
	}
}

func (r *Registry) finish(ctx context.Context, id string, status storage.Status, errMsg string) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.Finish(ctx, id, status, errMsg); err != nil {
		slog.Warn("ledger update failed", "session_id", id, "status", status, "error", err)
	}
}
