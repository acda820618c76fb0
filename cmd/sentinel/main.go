package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
)

// version is stamped at build time
var version = "dev"

var (
	workspaceFlag string
	configFlag    string
	jsonOutput    bool

	// cfg is loaded by the root PersistentPreRunE for every command but init
	cfg         config.Config
	closeLogger func() error
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Governance verdicts and audit trail for agent-written code",
	Long: `Sentinel watches a workspace, audits file changes and agent claims,
and records every verdict in a hash-chained, signed ledger.

Run 'sentinel init' once per workspace, then 'sentinel run' to start the daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		closer, err := logging.Init(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		closeLogger = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sentinel version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "workspace root (default: nearest directory containing .sentinel)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "config file (default: <workspace>/.sentinel/sentinel.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig locates the workspace and loads its configuration. The
// workspace flag wins over discovery and over the config file.
func loadConfig() (config.Config, error) {
	workspace := workspaceFlag
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to get current directory: %w", err)
		}
		if workspace, err = storage.FindWorkspace(cwd); err != nil {
			return config.Config{}, err
		}
	}
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to resolve workspace: %w", err)
	}

	path := configFlag
	if path == "" {
		path = filepath.Join(workspace, config.DefaultConfigFile)
	}
	loaded, err := config.Load(path)
	if err != nil {
		return loaded, err
	}
	loaded.Workspace = workspace
	return loaded, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
