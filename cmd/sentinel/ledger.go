package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/types"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger hash chain and signatures",
	Long: `Recompute every ledger entry hash and signature and check each link.
Exits 1 at the first broken entry. The chain is never repaired.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := verifyLedger(context.Background())
		if err != nil {
			return err
		}

		if jsonOutput {
			if err := printJSON(report); err != nil {
				return err
			}
		} else if report.Valid {
			fmt.Printf("%s Ledger chain valid (%d entries)\n", green("✓"), report.Entries)
		} else {
			fmt.Printf("%s Ledger chain broken at entry #%d: %s\n", red("✗"), report.BrokenAt, report.Reason)
			fmt.Printf("  %d entries verified before the break\n", report.Entries)
		}
		if !report.Valid {
			os.Exit(1)
		}
		return nil
	},
}

func verifyLedger(ctx context.Context) (ledger.ChainReport, error) {
	if c := controlClient(); c != nil {
		resp, err := c.Verify()
		if err == nil {
			var report ledger.ChainReport
			if err := resp.Decode(&report); err != nil {
				return report, fmt.Errorf("failed to decode report: %w", err)
			}
			return report, nil
		}
		if resp != nil {
			return ledger.ChainReport{}, err
		}
	}

	var report ledger.ChainReport
	err := withStores(ctx, func(s *stores) error {
		var err error
		report, err = s.ledger.VerifyChain(ctx)
		return err
	})
	return report, err
}

var (
	ledgerLimit int
	ledgerType  string
	ledgerAgent string
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadStores(ctx, func(s *stores) error {
			var (
				entries []*types.LedgerEntry
				err     error
			)
			switch {
			case ledgerAgent != "":
				entries, err = s.ledger.EntriesByAgent(ctx, ledgerAgent, ledgerLimit)
			case ledgerType != "":
				entries, err = s.ledger.EntriesByType(ctx, types.LedgerEventType(ledgerType), ledgerLimit)
			default:
				entries, err = s.ledger.RecentEntries(ctx, ledgerLimit)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println(gray("No ledger entries"))
				return nil
			}
			now := time.Now()
			for _, e := range entries {
				line := fmt.Sprintf("#%-5d %-16s %s  %s", e.ID, e.EventType, gray(formatAge(e.Timestamp, now)), truncate(e.AgentID, 40))
				if e.ArtifactPath != "" {
					line += "  " + cyan(e.ArtifactPath)
				}
				if e.VerificationResult != "" {
					line += "  " + e.VerificationResult
				}
				fmt.Println(line)
				fmt.Printf("       %s %s\n", gray("hash"), gray(shortHash(e.EntryHash)))
			}
			return nil
		})
	},
}

var (
	archiveOlderThan time.Duration
	archiveDir       string
)

var ledgerArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Export old ledger entries to a gzipped JSON archive",
	Long: `Write ledger entries older than --older-than to a gzipped JSON file and
record a LEDGER_ARCHIVED system event. Entries stay in the chain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if archiveOlderThan <= 0 {
			return fmt.Errorf("--older-than must be positive")
		}
		dir := archiveDir
		if dir == "" {
			dir = cfg.Resolve(cfg.Ledger.ArchiveDir)
		}

		ctx := context.Background()
		return withStores(ctx, func(s *stores) error {
			res, err := s.ledger.Archive(ctx, time.Now().Add(-archiveOlderThan), dir)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			if res.Archived == 0 {
				fmt.Println(gray("No ledger entries old enough to archive"))
				return nil
			}
			fmt.Printf("%s Archived %d entries to %s\n", green("✓"), res.Archived, cyan(res.Path))
			fmt.Printf("  %s %s  %s #%d\n", gray("hash"), shortHash(res.Hash), gray("entry"), res.EntryID)
			return nil
		})
	},
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "maximum entries to show")
	ledgerCmd.Flags().StringVar(&ledgerType, "type", "", "only entries of this event type (e.g. AUDIT_FAIL)")
	ledgerCmd.Flags().StringVar(&ledgerAgent, "agent", "", "only entries for this agent DID")
	ledgerArchiveCmd.Flags().DurationVar(&archiveOlderThan, "older-than", 90*24*time.Hour, "archive entries older than this")
	ledgerArchiveCmd.Flags().StringVar(&archiveDir, "dir", "", "archive directory (default ledger.archive_dir)")
	ledgerCmd.AddCommand(ledgerArchiveCmd)
	rootCmd.AddCommand(verifyCmd, ledgerCmd)
}
