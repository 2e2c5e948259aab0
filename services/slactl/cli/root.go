// Package cli implements slactl, the operator tool for the SLA watchdog.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "slactl",
		Short: "Inspect complaints and drive the SLA watchdog",
		Long: `slactl talks to a running complaint-service.

Usage:
  slactl tick                  # run one watchdog tick now
  slactl stats                 # show watchdog counters
  slactl get <complaint-id>    # show a complaint and its timeline`,
		SilenceUsage: true,
	}

	defaultURL := os.Getenv("COMPLAINT_SERVICE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8082"
	}
	root.PersistentFlags().String("url", defaultURL, "complaint-service base URL")
	root.PersistentFlags().String("token", os.Getenv("SLACTL_TOKEN"), "bearer token for authenticated endpoints")

	root.AddCommand(TickCmd())
	root.AddCommand(StatsCmd())
	root.AddCommand(GetCmd())
	return root
}

func clientFrom(cmd *cobra.Command) *Client {
	url, _ := cmd.Flags().GetString("url")
	token, _ := cmd.Flags().GetString("token")
	return NewClient(url, token)
}
