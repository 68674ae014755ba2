// Package debug configures structured logging and category-scoped debug
// output for the sandbox server.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): SANDBOX_DEBUG env or logging.debug config
//   - Level (HOW MUCH detail): SANDBOX_LOG_LEVEL env or logging.level config
//
// Usage:
//
//	debug.Log("docker", "exec", "container", name, "args", args)
//	if debug.Enabled("firecracker") { /* expensive formatting */ }
//
// Categories: sandbox, docker, e2b, firecracker, microvm, session, tools,
// telnet, storage, auth, all. Levels: ERROR, WARN, INFO, DEBUG, TRACE.
//
// Output always goes to stderr. In stdio mode stdout carries the MCP
// protocol stream and must never receive log lines.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// LevelTrace is below slog.LevelDebug. At TRACE, full command output and
// HTTP bodies are logged.
const LevelTrace = slog.LevelDebug - 4

// categories is read-only after Init.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("SANDBOX_DEBUG"))
}

// Options holds logging settings from configuration.
type Options struct {
	Categories string
	Level      string
	Format     string // "text" (default) or "json"
	Output     io.Writer
}

// Init installs the default slog logger. Environment variables take
// precedence over the values in opts.
func Init(opts Options) {
	cats := os.Getenv("SANDBOX_DEBUG")
	if cats == "" {
		cats = opts.Categories
	}
	categories = parseCategories(cats)

	level := os.Getenv("SANDBOX_LOG_LEVEL")
	if level == "" {
		level = opts.Level
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	slog.SetDefault(slog.New(newHandler(out, opts.Format, ParseLevel(level))))
}

func newHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	hopts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return slog.NewJSONHandler(w, hopts)
	}
	return slog.NewTextHandler(w, hopts)
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category. No-op when the
// category is disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories in sorted order.
func Categories() []string {
	result := make([]string, 0, len(categories))
	for k := range categories {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Truncate shortens s to maxLen bytes, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
