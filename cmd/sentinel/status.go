package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/approval"
	"github.com/qorelogic/sentinel/internal/sentinel"
)

// statusReport is the JSON form of the status command
type statusReport struct {
	Daemon    *sentinel.Status       `json:"daemon,omitempty"`
	Approvals map[approval.State]int `json:"approvals"`
	Ledger    struct {
		Entries int    `json:"entries"`
		Head    string `json:"head"`
	} `json:"ledger"`
	Agents int `json:"agents"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon, ledger and approval queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		var report statusReport

		if c := controlClient(); c != nil {
			if resp, err := c.Status(); err == nil {
				var st sentinel.Status
				if err := resp.Decode(&st); err != nil {
					return fmt.Errorf("failed to decode status: %w", err)
				}
				report.Daemon = &st
			}
		}

		err := withReadStores(ctx, func(s *stores) error {
			var err error
			if report.Approvals, err = s.approvals.Counts(ctx); err != nil {
				return err
			}
			if report.Ledger.Entries, err = s.ledger.EntryCount(ctx); err != nil {
				return err
			}
			report.Ledger.Head = s.ledger.HeadHash()
			report.Agents = len(s.trust.Agents())
			return nil
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(report)
		}

		fmt.Printf("\n%s\n\n", bold("=== Sentinel Status ==="))
		fmt.Printf("  Workspace: %s\n", cfg.Workspace)
		if st := report.Daemon; st != nil && st.Running {
			fmt.Printf("  Daemon:    %s (up %s)\n", green("● running"), st.Uptime.Round(time.Second))
			fmt.Printf("  Mode:      %s\n", modeLabel(*st))
			fmt.Printf("  Processed: %d events, %d queued, %d dropped\n", st.EventsProcessed, st.QueueDepth, st.Dropped)
			if v := st.LastVerdict; v != nil {
				fmt.Printf("  Last:      %s %s\n", decisionLabel(v.Decision), cyan(v.ArtifactPath))
			}
		} else {
			fmt.Printf("  Daemon:    %s\n", gray("○ not running"))
		}
		fmt.Printf("  Ledger:    %d entries, head %s\n", report.Ledger.Entries, gray(shortHash(report.Ledger.Head)))
		fmt.Printf("  Agents:    %d registered\n", report.Agents)

		pending := report.Approvals[approval.StatePending]
		label := fmt.Sprintf("%d pending", pending)
		if pending > 0 {
			label = yellow(label)
		}
		fmt.Printf("  Approvals: %s, %d approved, %d rejected, %d expired\n", label,
			report.Approvals[approval.StateApproved], report.Approvals[approval.StateRejected], report.Approvals[approval.StateExpired])
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
