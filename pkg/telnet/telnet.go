// Package telnet manages raw TCP client connections driven through the
// tool surface. Option negotiation is refused and stripped from the data
// returned to callers.
package telnet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
	"github.com/yingchuan/mcp-code-sandbox/pkg/observability"
)

// ErrConnectionNotFound is returned for an unknown connection id.
var ErrConnectionNotFound = errors.New("connection not found")

const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 10 * time.Second

	bannerSize   = 1024
	responseSize = 4096
)

// Info describes one open connection.
type Info struct {
	SessionID string `json:"session_id"`
	Host      string `json:"host"`
	Port      int    `json:"port"`
}

type connection struct {
	Info
	mu   sync.Mutex // serializes request/response exchanges
	conn net.Conn
}

// Manager owns the open connections.
type Manager struct {
	mu    sync.Mutex
	conns map[string]*connection

	connectTimeout time.Duration
	readTimeout    time.Duration
	bannerTimeout  time.Duration
	dial           func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout sets the dial timeout used when Connect gets none.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithReadTimeout sets the response timeout used when Send gets none.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	var d net.Dialer
	m := &Manager{
		conns:          make(map[string]*connection),
		connectTimeout: DefaultConnectTimeout,
		readTimeout:    DefaultReadTimeout,
		bannerTimeout:  5 * time.Second,
		dial:           d.DialContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials host:port and reads the initial banner. A silent server
// yields an empty banner rather than an error.
func (m *Manager) Connect(ctx context.Context, host string, port int, timeout time.Duration) (Info, string, error) {
	if timeout <= 0 {
		timeout = m.connectTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := m.dial(dialCtx, "tcp", addr)
	if err != nil {
		return Info{}, "", fmt.Errorf("connecting to %s: %w", addr, err)
	}

	banner, err := readResponse(conn, bannerSize, m.bannerTimeout)
	if err != nil && !isTimeout(err) {
		conn.Close()
		return Info{}, "", fmt.Errorf("reading banner from %s: %w", addr, err)
	}

	c := &connection{
		Info: Info{SessionID: uuid.NewString(), Host: host, Port: port},
		conn: conn,
	}
	m.mu.Lock()
	m.conns[c.SessionID] = c
	m.mu.Unlock()
	observability.TelnetConnectionsActive.Inc()

	debug.Log("telnet", "connected", "session_id", c.SessionID, "addr", addr, "banner_bytes", len(banner))
	return c.Info, banner, nil
}

// Send writes command followed by a newline and returns what the server
// answers within timeout, up to 4096 bytes.
func (m *Manager) Send(ctx context.Context, id, command string, timeout time.Duration) (string, error) {
	c, err := m.get(id)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = m.readTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	} else {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if _, err := c.conn.Write([]byte(command + "\n")); err != nil {
		return "", fmt.Errorf("sending command: %w", err)
	}

	resp, err := readResponse(c.conn, responseSize, timeout)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("no response within %s", timeout)
		}
		return "", fmt.Errorf("reading response: %w", err)
	}
	debug.Log("telnet", "exchange", "session_id", id, "command", debug.Truncate(command, 100), "response_bytes", len(resp))
	return resp, nil
}

// Disconnect closes the connection. The entry is removed even when the
// close itself fails.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	c, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	observability.TelnetConnectionsActive.Dec()

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("closing connection %s: %w", id, err)
	}
	return nil
}

// List returns the open connections ordered by host, port and id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c.Info)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// CloseAll closes every connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Disconnect(id); err != nil && !errors.Is(err, ErrConnectionNotFound) {
			slog.Warn("closing telnet connection", "session_id", id, "error", err)
		}
	}
}

func (m *Manager) get(id string) (*connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return c, nil
}

// readResponse performs a single bounded read, answers option
// negotiation and returns the remaining text.
func readResponse(conn net.Conn, size int, timeout time.Duration) (string, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, size)
	n, err := conn.Read(buf)
	if n == 0 {
		return "", err
	}
	data, replies := stripNegotiation(buf[:n])
	if len(replies) > 0 {
		conn.SetWriteDeadline(time.Now().Add(timeout))
		if _, werr := conn.Write(replies); werr != nil {
			debug.Log("telnet", "negotiation reply failed", "error", werr)
		}
	}
	return string(data), nil
}

func isTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}
