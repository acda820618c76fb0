package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/types"
)

var genomeCmd = &cobra.Command{
	Use:   "genome",
	Short: "Inspect the shadow genome of failed verdicts",
}

var (
	genomeLimit      int
	genomeAgent      string
	genomeUnresolved bool
)

var genomeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shadow genome entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadStores(ctx, func(s *stores) error {
			var (
				entries []*types.ShadowGenomeEntry
				err     error
			)
			switch {
			case genomeAgent != "":
				entries, err = s.genome.ByAgent(ctx, genomeAgent, genomeLimit)
			case genomeUnresolved:
				entries, err = s.genome.Unresolved(ctx, genomeLimit)
			default:
				entries, err = s.genome.Recent(ctx, genomeLimit)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			if len(entries) == 0 {
				fmt.Println(gray("No shadow genome entries"))
				return nil
			}
			now := time.Now()
			for _, e := range entries {
				status := yellow(string(e.RemediationStatus))
				if e.RemediationStatus != types.RemediationUnresolved {
					status = green(string(e.RemediationStatus))
				}
				fmt.Printf("#%-5d %-22s %s  %s\n", e.ID, e.FailureMode, status, gray(formatAge(e.CreatedAt, now)))
				fmt.Printf("       %s  %s\n", truncate(e.AgentID, 40), cyan(e.InputVector))
				if e.NegativeConstraint != "" {
					fmt.Printf("       %s\n", gray(truncate(e.NegativeConstraint, 100)))
				}
			}
			return nil
		})
	},
}

var genomePatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show recurring failure modes among unresolved entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadStores(ctx, func(s *stores) error {
			patterns, err := s.genome.AnalyzePatterns(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(patterns)
			}
			if len(patterns) == 0 {
				fmt.Println(gray("No unresolved failures"))
				return nil
			}
			for _, p := range patterns {
				fmt.Printf("%s  %d occurrence(s), %d agent(s)\n", bold(string(p.FailureMode)), p.Count, len(p.AgentIDs))
				for _, cause := range p.RecentCauses {
					fmt.Printf("  %s %s\n", gray("-"), truncate(cause, 100))
				}
			}
			return nil
		})
	},
}

var (
	resolveNotes      string
	resolveBy         string
	resolveSuperseded bool
)

var genomeResolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Mark a shadow genome entry resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry id %q", args[0])
		}
		status := types.RemediationResolved
		if resolveSuperseded {
			status = types.RemediationSuperseded
		}

		ctx := context.Background()
		return withStores(ctx, func(s *stores) error {
			if err := s.genome.UpdateRemediationStatus(ctx, id, status, resolveNotes, resolveBy); err != nil {
				return err
			}
			fmt.Printf("%s Entry #%d marked %s\n", green("✓"), id, status)
			return nil
		})
	},
}

var genomePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		r := retention(cfg)
		return withStores(ctx, func(s *stores) error {
			res, err := s.genome.Prune(ctx, r)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			fmt.Printf("%s Pruned %d entries (%d resolved, %d unresolved)\n", green("✓"), res.TotalPruned, res.ResolvedPruned, res.UnresolvedPruned)
			if res.ArchivePath != "" {
				fmt.Printf("  Archived %d entries to %s\n", res.ArchivedCount, cyan(res.ArchivePath))
			}
			return nil
		})
	},
}

var genomeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show shadow genome size against the retention windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		r := retention(cfg)
		return withReadStores(ctx, func(s *stores) error {
			st, err := s.genome.RetentionStats(ctx, r)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(st)
			}
			fmt.Printf("%s\n", bold("Shadow genome"))
			fmt.Printf("  Entries:    %d (%d resolved, %d unresolved)\n", st.TotalEntries, st.ResolvedEntries, st.UnresolvedEntries)
			if st.OldestEntry != nil && st.NewestEntry != nil {
				fmt.Printf("  Span:       %s to %s\n", st.OldestEntry.Local().Format("2006-01-02"), st.NewestEntry.Local().Format("2006-01-02"))
			}
			fmt.Printf("  Retention:  %s\n", gray(r.String()))
			fmt.Printf("  Prunable:   %d (%d resolved past window, %d unresolved past window)\n",
				st.EstimatedPruneCount, st.OverResolvedWindow, st.OverUnresolvedWindow)
			if len(st.ByFailureMode) > 0 {
				modes := make([]string, 0, len(st.ByFailureMode))
				for mode, n := range st.ByFailureMode {
					modes = append(modes, fmt.Sprintf("%s=%d", mode, n))
				}
				fmt.Printf("  By mode:    %s\n", strings.Join(sortedStrings(modes), " "))
			}
			return nil
		})
	},
}

func init() {
	genomeListCmd.Flags().IntVarP(&genomeLimit, "limit", "n", 20, "maximum entries to show")
	genomeListCmd.Flags().StringVar(&genomeAgent, "agent", "", "only entries for this agent DID")
	genomeListCmd.Flags().BoolVar(&genomeUnresolved, "unresolved", false, "only unresolved entries, oldest first")

	genomeResolveCmd.Flags().StringVar(&resolveNotes, "notes", "", "remediation notes")
	genomeResolveCmd.Flags().StringVar(&resolveBy, "by", "", "who resolved the entry")
	genomeResolveCmd.Flags().BoolVar(&resolveSuperseded, "superseded", false, "mark superseded instead of resolved")

	genomeCmd.AddCommand(genomeListCmd, genomePatternsCmd, genomeResolveCmd, genomePruneCmd, genomeStatsCmd)
	rootCmd.AddCommand(genomeCmd)
}
