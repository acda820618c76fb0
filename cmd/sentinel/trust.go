package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/types"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Inspect and manage agent trust",
}

var trustListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents and their trust",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withReadStores(ctx, func(s *stores) error {
			agents := s.trust.Agents()
			if jsonOutput {
				return printJSON(agents)
			}
			if len(agents) == 0 {
				fmt.Println(gray("No registered agents"))
				return nil
			}
			now := time.Now()
			for _, a := range agents {
				score, _ := s.trust.Score(a.AgentID)
				state := green("active")
				switch {
				case a.Quarantined && a.QuarantineUntil != nil:
					state = red("quarantined until " + a.QuarantineUntil.Local().Format("2006-01-02 15:04"))
				case a.Quarantined:
					state = red("quarantined")
				case score.Probationary:
					state = yellow("probation")
				}
				fmt.Printf("%s\n", bold(a.AgentID))
				fmt.Printf("  Score: %.2f  Stage: %s  Influence: %.2f  %s\n", a.Score, a.Stage, score.InfluenceWeight, state)
				fmt.Printf("  Persona: %s  Updated: %s\n", a.Persona, gray(formatAge(a.UpdatedAt, now)))
			}
			return nil
		})
	},
}

var trustPersona string

var trustRegisterCmd = &cobra.Command{
	Use:   "register --persona <persona> <public-key>",
	Short: "Register an agent identity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withStores(ctx, func(s *stores) error {
			agent, err := s.trust.RegisterAgent(ctx, types.AgentPersona(trustPersona), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(agent)
			}
			fmt.Printf("%s Registered %s\n", green("✓"), cyan(agent.AgentID))
			fmt.Printf("  Score: %.2f  Stage: %s\n", agent.Score, agent.Stage)
			return nil
		})
	},
}

var trustReleaseCmd = &cobra.Command{
	Use:   "release <agent-did>",
	Short: "Lift an agent's quarantine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		return withStores(ctx, func(s *stores) error {
			if err := s.trust.ReleaseFromQuarantine(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Released %s from quarantine\n", green("✓"), cyan(args[0]))
			return nil
		})
	},
}

func init() {
	trustRegisterCmd.Flags().StringVarP(&trustPersona, "persona", "p", string(types.PersonaScrivener), "scrivener, sentinel, judge or overseer")
	trustCmd.AddCommand(trustListCmd, trustRegisterCmd, trustReleaseCmd)
	rootCmd.AddCommand(trustCmd)
}
