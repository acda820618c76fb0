package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/control"
	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/types"
)

var auditCmd = &cobra.Command{
	Use:   "audit <file>",
	Short: "Audit a file immediately",
	Long: `Evaluate one file and print its verdict. The running daemon handles the
request when there is one; otherwise the audit runs in-process.

Exit status is 0 for PASS and WARN, 2 for ESCALATE and 3 for BLOCK and
QUARANTINE.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", args[0], err)
		}

		v, err := requestVerdict(
			func(c *control.Client) (*control.Response, error) { return c.Audit(path) },
			func(ctx context.Context, d *sentinel.Daemon) (*types.Verdict, error) { return d.AuditFile(ctx, path) },
		)
		if err != nil {
			return err
		}
		return reportVerdict(v)
	},
}

var claimAgent string

var claimCmd = &cobra.Command{
	Use:   "claim --agent <did> <artifact>...",
	Short: "Validate an agent's claim that it produced artifacts",
	Long: `Check that every claimed artifact exists inside the workspace and record
the verdict against the agent's trust score.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if claimAgent == "" {
			return fmt.Errorf("--agent is required")
		}
		artifacts := append([]string(nil), args...)

		v, err := requestVerdict(
			func(c *control.Client) (*control.Response, error) { return c.Claim(claimAgent, artifacts) },
			func(ctx context.Context, d *sentinel.Daemon) (*types.Verdict, error) {
				return d.ValidateClaim(ctx, claimAgent, artifacts)
			},
		)
		if err != nil {
			return err
		}
		return reportVerdict(v)
	},
}

// requestVerdict asks the running daemon, falling back to an in-process
// evaluation when none is running
func requestVerdict(
	remote func(*control.Client) (*control.Response, error),
	local func(context.Context, *sentinel.Daemon) (*types.Verdict, error),
) (*types.Verdict, error) {
	if c := controlClient(); c != nil {
		resp, err := remote(c)
		if err == nil {
			var v types.Verdict
			if err := resp.Decode(&v); err != nil {
				return nil, fmt.Errorf("failed to decode verdict: %w", err)
			}
			return &v, nil
		}
		if resp != nil {
			// the daemon answered and refused
			return nil, err
		}
	}

	ctx := context.Background()
	var v *types.Verdict
	err := withLocalDaemon(ctx, func(d *sentinel.Daemon) error {
		var err error
		v, err = local(ctx, d)
		return err
	})
	return v, err
}

func reportVerdict(v *types.Verdict) error {
	if jsonOutput {
		if err := printJSON(v); err != nil {
			return err
		}
	} else {
		printVerdict(v)
	}
	if code := verdictExitCode(v.Decision); code != 0 {
		os.Exit(code)
	}
	return nil
}

func init() {
	claimCmd.Flags().StringVarP(&claimAgent, "agent", "a", "", "agent DID making the claim")
	rootCmd.AddCommand(auditCmd, claimCmd)
}
