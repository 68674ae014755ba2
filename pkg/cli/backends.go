package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox"
	"github.com/yingchuan/mcp-code-sandbox/pkg/sandbox/factory"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List execution backends and check their configuration",
	Args:  cobra.NoArgs,
	RunE:  runBackends,
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}

var backendDescriptions = map[string]string{
	sandbox.BackendE2B:         "E2B cloud sandbox (needs E2B_API_KEY)",
	sandbox.BackendDocker:      "local container runtime via CLI",
	sandbox.BackendContainer:   "alias of docker",
	sandbox.BackendFirecracker: "remote microVM service (needs FIRECRACKER_BACKEND_URL)",
}

func runBackends(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	fc := factory.FromConfig(cfg)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BACKEND\tSELECTED\tCONFIG\tDESCRIPTION")
	for _, name := range factory.Supported() {
		selected := ""
		if name == cfg.Backend.Type {
			selected = "*"
		}
		status := "ok"
		if _, err := factory.New(name, fc); err != nil {
			status = err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, selected, status, backendDescriptions[name])
	}
	return w.Flush()
}
