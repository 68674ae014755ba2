// Package cli implements the sandbox-mcp command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/yingchuan/mcp-code-sandbox/pkg/config"
	"github.com/yingchuan/mcp-code-sandbox/pkg/debug"
)

// Build information, injected at link time.
var (
	Version = "dev"
	Commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sandbox-mcp",
	Short: "MCP server for isolated code execution sandboxes",
	Long: `sandbox-mcp exposes code execution sandboxes to MCP clients.

Sandboxes run on one of three backends: the E2B cloud service, a local
container runtime driven through its CLI, or a remote microVM service.
Each sandbox is addressed by a caller-chosen session id.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $SANDBOX_CONFIG, ./config.yaml, /etc/mcp-sandbox/config.yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads configuration and installs the logger it describes.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	debug.Init(debug.Options{
		Categories: cfg.Logging.Debug,
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
	})
	return cfg, nil
}
