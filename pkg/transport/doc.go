// Package transport provides the net/http middleware shared by the MCP
// HTTP endpoint and the microVM API server: panic recovery, request id
// propagation (X-Request-ID) and structured access logging via log/slog.
package transport
