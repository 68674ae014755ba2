// Command sandbox-mcp serves code-execution sandboxes to MCP clients.
package main

import (
	"fmt"
	"os"

	"github.com/yingchuan/mcp-code-sandbox/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
