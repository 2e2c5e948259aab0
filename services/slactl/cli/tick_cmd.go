package cli

import (
	"fmt"
	"net/http"

	"civic-complaint-system/services/complaint-service/watchdog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func TickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one SLA watchdog tick",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var res watchdog.TickResult
			if err := clientFrom(cmd).do(cmd.Context(), http.MethodPost, "/internal/sla/tick", &res); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintln(out, color.New(color.FgYellow).Sprint("SKIPPED"), "another tick is running")
				return nil
			}
			fmt.Fprintf(out, "%s scanned %d, escalated %d\n", color.New(color.FgGreen).Sprint("OK"), res.Scanned, res.Escalated)
			for _, id := range res.IDs {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	}
}

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show SLA watchdog counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var st watchdog.Stats
			if err := clientFrom(cmd).do(cmd.Context(), http.MethodGet, "/internal/sla/stats", &st); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			last := "never"
			if !st.LastTickAt.IsZero() {
				last = st.LastTickAt.Format("2006-01-02 15:04:05 MST")
			}
			fmt.Fprintf(out, "last tick:      %s\n", last)
			fmt.Fprintf(out, "last escalated: %d\n", st.LastEscalated)
			fmt.Fprintf(out, "skipped ticks:  %d\n", st.Skipped)
			return nil
		},
	}
}
