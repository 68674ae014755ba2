// Package microvm is a development stand-in for the microVM orchestration
// service. Each "microVM" is a workspace directory on the host; code and
// commands run there as local subprocesses under a timeout. It speaks the
// same REST contract as the real service:
//
//	POST /microvm/spawn
//	POST /microvm/shutdown     {"microvm_id"}
//	POST /microvm/run_code     {"microvm_id", "code"}
//	POST /microvm/run_command  {"microvm_id", "command"}
//	GET  /microvm/list
//	GET  /microvm/status?microvm_id=
//	GET  /health
//
// It provides no isolation and must not be exposed to untrusted callers.
package microvm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yingchuan/mcp-code-sandbox/pkg/auth"
	"github.com/yingchuan/mcp-code-sandbox/pkg/auth/apikey"
	"github.com/yingchuan/mcp-code-sandbox/pkg/transport"
)

// Config configures the service. Zero values take defaults.
type Config struct {
	// Root holds one workspace directory per microVM. Default
	// $TMPDIR/microvm.
	Root string

	// Python and Shell are the interpreters for run_code and run_command.
	// Defaults: python3, bash (sh when bash is missing).
	Python string
	Shell  string

	ExecTimeout   time.Duration // default 30s
	MaxConcurrent int           // concurrent executions, default 3
	MaxVMs        int           // 0 means unlimited

	// APIKey, when set, is required as a bearer token on every
	// /microvm endpoint.
	APIKey string

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Root == "" {
		c.Root = filepath.Join(os.TempDir(), "microvm")
	}
	if c.Python == "" {
		c.Python = "python3"
	}
	if c.Shell == "" {
		c.Shell = "bash"
		if _, err := exec.LookPath("bash"); err != nil {
			c.Shell = "sh"
		}
	}
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// VM is the service's record of one microVM.
type VM struct {
	ID         string    `json:"microvm_id"`
	Status     string    `json:"status"`
	Workspace  string    `json:"workspace"`
	CreatedAt  time.Time `json:"created_at"`
	Executions int       `json:"executions"`
}

// Server implements the orchestration REST contract.
type Server struct {
	cfg   Config
	start time.Time
	load  atomic.Int32

	mu  sync.Mutex
	vms map[string]*VM
}

// New creates the workspace root and returns a ready server.
func New(cfg Config) (*Server, error) {
	cfg.defaults()
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Server{cfg: cfg, start: time.Now(), vms: map[string]*VM{}}, nil
}

// Handler returns the REST API wrapped in recovery, request id, access
// logging and, when an API key is configured, bearer authentication.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /microvm/spawn", s.handleSpawn)
	mux.HandleFunc("POST /microvm/shutdown", s.handleShutdown)
	mux.HandleFunc("POST /microvm/run_code", s.handleRunCode)
	mux.HandleFunc("POST /microvm/run_command", s.handleRunCommand)
	mux.HandleFunc("GET /microvm/list", s.handleList)
	mux.HandleFunc("GET /microvm/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)

	var authMW transport.Middleware
	if s.cfg.APIKey != "" {
		chain := &auth.Chain{Authenticators: []auth.Authenticator{
			apikey.New([]apikey.Key{{Key: s.cfg.APIKey, Subject: "microvm-client"}}),
		}}
		authMW = auth.Middleware(chain, nil, []string{"/health"})
	}

	return transport.Chain(
		transport.Recovery(s.cfg.Logger),
		transport.RequestID(),
		transport.AccessLog(s.cfg.Logger, "/health"),
		authMW,
	)(mux)
}

// Close shuts down every microVM and removes its workspace.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, vm := range s.vms {
		if err := os.RemoveAll(vm.Workspace); err != nil {
			errs = append(errs, fmt.Errorf("removing %s: %w", id, err))
		}
		delete(s.vms, id)
	}
	return errors.Join(errs...)
}

type idRequest struct {
	MicroVMID string `json:"microvm_id"`
	Code      string `json:"code,omitempty"`
	Command   string `json:"command,omitempty"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.cfg.MaxVMs > 0 && len(s.vms) >= s.cfg.MaxVMs {
		s.mu.Unlock()
		writeError(w, http.StatusTooManyRequests, fmt.Sprintf("microVM limit reached (%d)", s.cfg.MaxVMs))
		return
	}
	s.mu.Unlock()

	id := "vm-" + uuid.NewString()
	ws := filepath.Join(s.cfg.Root, id)
	if err := os.MkdirAll(ws, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create workspace: "+err.Error())
		return
	}

	vm := &VM{ID: id, Status: "running", Workspace: ws, CreatedAt: time.Now().UTC()}
	s.mu.Lock()
	s.vms[id] = vm
	s.mu.Unlock()

	s.cfg.Logger.Info("microVM spawned", "microvm_id", id, "workspace", ws)
	writeJSON(w, http.StatusOK, map[string]string{"microvm_id": id, "status": vm.Status})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	vm, found := s.vms[req.MicroVMID]
	delete(s.vms, req.MicroVMID)
	s.mu.Unlock()
	if !found {
		writeError(w, http.StatusNotFound, "unknown microvm_id "+req.MicroVMID)
		return
	}

	if err := os.RemoveAll(vm.Workspace); err != nil {
		s.cfg.Logger.Warn("removing workspace", "microvm_id", vm.ID, "error", err)
	}
	s.cfg.Logger.Info("microVM shut down", "microvm_id", vm.ID)
	writeJSON(w, http.StatusOK, map[string]string{"microvm_id": vm.ID, "status": "stopped"})
}

func (s *Server) handleRunCode(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	s.execute(w, r, req.MicroVMID, func(vm *VM) ([]string, func(), error) {
		f, err := os.CreateTemp(vm.Workspace, ".run-*.py")
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() { os.Remove(f.Name()) }
		_, err = f.WriteString(req.Code)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return []string{s.cfg.Python, f.Name()}, cleanup, nil
	})
}

func (s *Server) handleRunCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decode(w, r)
	if !ok {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	s.execute(w, r, req.MicroVMID, func(*VM) ([]string, func(), error) {
		return []string{s.cfg.Shell, "-c", req.Command}, func() {}, nil
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	vms := make([]VM, 0, len(s.vms))
	for _, vm := range s.vms {
		vms = append(vms, *vm)
	}
	s.mu.Unlock()

	sort.Slice(vms, func(i, j int) bool {
		if !vms[i].CreatedAt.Equal(vms[j].CreatedAt) {
			return vms[i].CreatedAt.Before(vms[j].CreatedAt)
		}
		return vms[i].ID < vms[j].ID
	})
	writeJSON(w, http.StatusOK, vms)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("microvm_id")
	vm, ok := s.lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown microvm_id "+id)
		return
	}
	writeJSON(w, http.StatusOK, vm)
}

type healthResponse struct {
	Status      string `json:"status"`
	MicroVMs    int    `json:"microvms"`
	Capacity    int    `json:"capacity"`
	CurrentLoad int    `json:"current_load"`
	UptimeSecs  int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	n := len(s.vms)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		MicroVMs:    n,
		Capacity:    s.cfg.MaxConcurrent,
		CurrentLoad: int(s.load.Load()),
		UptimeSecs:  int64(time.Since(s.start).Seconds()),
	})
}

// lookup returns a copy of the VM record.
func (s *Server) lookup(id string) (VM, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vm, ok := s.vms[id]
	if !ok {
		return VM{}, false
	}
	return *vm, true
}

func decode(w http.ResponseWriter, r *http.Request) (idRequest, bool) {
	var req idRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return req, false
	}
	if req.MicroVMID == "" {
		writeError(w, http.StatusBadRequest, "microvm_id is required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
