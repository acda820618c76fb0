package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/storage"
)

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize sentinel state in a workspace",
	Long: `Create the .sentinel/ state directory with a default configuration,
the ledger database and its signing secret.

This creates:
  - .sentinel/sentinel.yaml   (configuration, left alone if present)
  - .sentinel/sentinel.db     (ledger, trust registry, shadow genome, approvals)
  - .sentinel/secrets/        (ledger signing secret, mode 0700)
  - .sentinel/archive/        (shadow genome cold storage)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		root, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", root, err)
		}

		stateDir, err := storage.InitWorkspace(root)
		if err != nil {
			return err
		}

		cfgPath := filepath.Join(root, config.DefaultConfigFile)
		wroteConfig := false
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			data, err := yaml.Marshal(config.Default())
			if err != nil {
				return fmt.Errorf("failed to encode default config: %w", err)
			}
			if err := os.WriteFile(cfgPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", cfgPath, err)
			}
			wroteConfig = true
		}

		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		c.Workspace = root

		// opening the stores creates the schema, the secret and the genesis entry
		s, err := openStores(context.Background(), c)
		if err != nil {
			return err
		}
		head := s.ledger.HeadHash()
		_ = s.Close()

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		fmt.Printf("\n%s Initialized sentinel workspace\n\n", green("✓"))
		fmt.Printf("  Workspace: %s\n", cyan(root))
		fmt.Printf("  State:     %s\n", cyan(stateDir))
		if wroteConfig {
			fmt.Printf("  Config:    %s\n", cyan(cfgPath))
		} else {
			fmt.Printf("  Config:    %s %s\n", cyan(cfgPath), gray("(existing)"))
		}
		fmt.Printf("  Ledger:    %s\n", gray(shortHash(head)))
		fmt.Println()
		fmt.Printf("%s Next steps:\n", gray("→"))
		fmt.Printf("  %s\n", gray("sentinel run"))
		fmt.Printf("  %s\n", gray("sentinel audit <file>"))
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
