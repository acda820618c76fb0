package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/repl"
)

var reviewActor string

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through escalations waiting for human approval",
	Long: `Open an interactive console over the approval queue. Escalated verdicts
wait here until approved, rejected or expired past their SLA.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		// decisions only touch the approval queue, so review runs alongside
		// the daemon
		return withReadStores(ctx, func(s *stores) error {
			console, err := repl.New(repl.Config{Queue: s.approvals, Actor: reviewActor})
			if err != nil {
				return err
			}
			return console.Run(ctx)
		})
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewActor, "as", "", "name recorded on decisions (default: $USER)")
	rootCmd.AddCommand(reviewCmd)
}
