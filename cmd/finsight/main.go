// Package main implements the finsight CLI. It runs research in-process or
// drives a finsightd server over HTTP.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the finsightd HTTP server
	serverURL string
	// configPath is the config file for in-process commands
	configPath string
	// requestTimeout bounds each HTTP call
	requestTimeout time.Duration

	version = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "finsight",
		Short: "Multi-agent financial research reports",
		Long: `finsight produces research reports for a stock ticker by running research,
analysis and synthesis agents over a shared memory of findings.

"run" executes in-process. The other commands talk to a finsightd server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "finsightd server URL")
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file for in-process commands")
	root.PersistentFlags().DurationVar(&requestTimeout, "timeout", 30*time.Second, "HTTP request timeout")

	root.AddCommand(newRunCmd(), newSubmitCmd(), newStatusCmd(), newReportCmd(), newMemoryCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "finsight %s\n", version)
		},
	}
}
