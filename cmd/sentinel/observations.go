package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/observation"
)

var (
	observationsLimit  int
	observationsPath   string
	observationsSearch string
)

var observationsCmd = &cobra.Command{
	Use:   "observations",
	Short: "Show recorded observations of processed events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadStores(ctx, func(s *stores) error {
			var (
				obs []*observation.Observation
				err error
			)
			switch {
			case observationsPath != "":
				obs, err = s.observed.ForPath(ctx, cfg.Resolve(observationsPath), observationsLimit)
			case observationsSearch != "":
				obs, err = s.observed.Search(ctx, observationsSearch, observationsLimit)
			default:
				obs, err = s.observed.Recent(ctx, observationsLimit)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(obs)
			}
			if len(obs) == 0 {
				fmt.Println(gray("No observations"))
				return nil
			}
			now := time.Now()
			for _, o := range obs {
				fmt.Printf("%-10s %-3s %-14s %s\n", decisionLabel(o.Decision), gradeLabel(o.RiskGrade), o.EventType, gray(formatAge(o.Timestamp, now)))
				if o.FilePath != "" {
					fmt.Printf("       %s\n", cyan(o.FilePath))
				}
				fmt.Printf("       %s\n", truncate(o.Summary, 100))
			}
			return nil
		})
	},
}

func init() {
	observationsCmd.Flags().IntVarP(&observationsLimit, "limit", "n", 20, "maximum observations to show")
	observationsCmd.Flags().StringVar(&observationsPath, "path", "", "only observations of this file")
	observationsCmd.Flags().StringVar(&observationsSearch, "search", "", "only observations whose text contains this term")
	rootCmd.AddCommand(observationsCmd)
}
