// Package tools exposes sandbox sessions, file operations and telnet
// connections as MCP tools.
//
// Every handler returns a JSON object. Failures are reported as
// {"error": "<message>"} with IsError set on the result; panics are
// recovered into the same shape and counted by the tool metrics.
package tools
