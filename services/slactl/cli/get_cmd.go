package cli

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"civic-complaint-system/services/complaint-service/models"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func GetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <complaint-id>",
		Short: "Show a complaint with its escalation state and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c models.Complaint
			if err := clientFrom(cmd).do(cmd.Context(), http.MethodGet, "/api/complaints/"+url.PathEscape(args[0]), &c); err != nil {
				return err
			}
			audit, _ := cmd.Flags().GetBool("audit")
			printComplaint(cmd.OutOrStdout(), &c, audit)
			return nil
		},
	}
	cmd.Flags().Bool("audit", false, "also print the audit log")
	return cmd
}

func statusColor(s models.Status) *color.Color {
	switch s {
	case models.StatusResolved:
		return color.New(color.FgGreen)
	case models.StatusSLAWarning:
		return color.New(color.FgYellow)
	case models.StatusEscalated:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func printComplaint(w io.Writer, c *models.Complaint, audit bool) {
	fmt.Fprintf(w, "%s  %s\n", c.ID.Hex(), statusColor(c.Status).Sprint(string(c.Status)))
	fmt.Fprintf(w, "  category:   %s (%s)\n", c.Category, c.Department)
	fmt.Fprintf(w, "  level:      %d/%d\n", c.EscalationLevel, models.MaxEscalationLevel)
	if c.NextEscalationAt != nil {
		fmt.Fprintf(w, "  next check: %s\n", c.NextEscalationAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  decision:   %s (confidence %.2f)\n", c.AgentDecision.Source(), c.ConfidenceScore)

	fmt.Fprintln(w, "  timeline:")
	for _, e := range c.Timeline {
		fmt.Fprintf(w, "    %s  %-10s %s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.Message)
	}
	if audit {
		fmt.Fprintln(w, "  audit:")
		for _, e := range c.AuditLog {
			fmt.Fprintf(w, "    %s  %-8s %s %s\n", e.Timestamp.Format(time.RFC3339), e.Actor, e.Action, e.Details)
		}
	}
}
