package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/qorelogic/sentinel/internal/bridge"
	"github.com/qorelogic/sentinel/internal/control"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/watcher"
)

var runNoWatch bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sentinel daemon in the foreground",
	Long: `Watch the workspace and audit every code change until interrupted.

The daemon takes an exclusive lock on the workspace, serves status and audit
requests on the control socket and, when enabled, republishes every event
to NATS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Sentinel.Enabled {
			return errors.New("sentinel is disabled in the configuration (sentinel.enabled: false)")
		}
		logger := logging.WithComponent("run")

		lockPath, err := storage.AcquireWorkspaceLock(cfg.Workspace, version)
		if err != nil {
			return err
		}
		defer func() {
			if err := storage.ReleaseWorkspaceLock(lockPath); err != nil {
				logger.Warn().Err(err).Msg("failed to release workspace lock")
			}
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		s, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		p, err := buildPipeline(cfg, s)
		if err != nil {
			return err
		}

		if cfg.Bridge.Enabled {
			nc, err := bridge.Connect(cfg.Bridge, logging.Logger())
			if err != nil {
				return err
			}
			defer nc.Drain()
			unsubscribe := bridge.New(nc, cfg.Bridge.SubjectPrefix, logging.Logger()).Attach(s.bus)
			defer unsubscribe()
		}

		var notifier sentinel.FileNotifier
		if !runNoWatch {
			w, err := watcher.New(watcher.Config{
				Root:     cfg.Workspace,
				Debounce: cfg.Sentinel.WatchDebounce,
				Logger:   logging.Logger(),
			})
			if err != nil {
				return err
			}
			if err := w.Start(ctx); err != nil {
				return err
			}
			defer w.Stop()
			notifier = w
		}

		daemon, err := sentinel.New(sentinel.Config{
			Evaluator: p.arbiter,
			Router:    p.router,
			Notifier:  notifier,
			Events:    s.bus,
			Recorder:  s.recorder(cfg),
			Trust:     s.trust,
			Approvals: s.approvals,
			Genome:    s.genome,
			Retention: retention(cfg),
			QueueSize: cfg.Sentinel.QueueSize,
			Logger:    logging.Logger(),
		})
		if err != nil {
			return err
		}

		srv, err := control.NewServer(cfg.Resolve(cfg.Sentinel.ControlSocket), control.DaemonHandler(daemon, s.ledger), logging.Logger())
		if err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		if err := daemon.Start(ctx); err != nil {
			return err
		}
		if err := srv.Start(ctx); err != nil {
			daemon.Stop()
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		st := daemon.Status()
		fmt.Printf("%s Sentinel started (version %s)\n", green("✓"), cyan(version))
		fmt.Printf("  Workspace: %s\n", cfg.Workspace)
		fmt.Printf("  Mode:      %s\n", modeLabel(st))
		fmt.Printf("  Socket:    %s\n", srv.SocketPath())
		if cfg.Bridge.Enabled {
			fmt.Printf("  NATS:      %s (%s.*)\n", cfg.Bridge.URL, cfg.Bridge.SubjectPrefix)
		}
		fmt.Printf("  Press Ctrl+C to stop\n\n")

		<-sigCh
		fmt.Println("\nShutting down sentinel...")

		if err := srv.Stop(); err != nil {
			logger.Warn().Err(err).Msg("error stopping control server")
		}
		daemon.Stop()
		cancel()

		fmt.Printf("%s Sentinel stopped (%d events processed)\n", green("✓"), daemon.Status().EventsProcessed)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "don't watch the filesystem; serve control socket requests only")
	rootCmd.AddCommand(runCmd)
}
