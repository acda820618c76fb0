package main

import (
	"context"
	"errors"
	"os"

	"github.com/qorelogic/sentinel/internal/control"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/storage"
)

// controlClient returns a client for the running daemon, or nil when no
// daemon socket exists
func controlClient() *control.Client {
	path := cfg.Resolve(cfg.Sentinel.ControlSocket)
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return control.NewClient(path)
}

// withLock runs fn while holding the workspace lock, so a one-shot command
// never writes the ledger alongside a running daemon
func withLock(fn func() error) error {
	lockPath, err := storage.AcquireWorkspaceLock(cfg.Workspace, version)
	if err != nil {
		if errors.Is(err, storage.ErrWorkspaceLocked) {
			return errors.New("a sentinel daemon owns this workspace but its control socket is not answering; retry or stop the daemon")
		}
		return err
	}
	defer func() { _ = storage.ReleaseWorkspaceLock(lockPath) }()
	return fn()
}

// withStores opens the workspace stores under the lock
func withStores(ctx context.Context, fn func(s *stores) error) error {
	return withLock(func() error {
		return withReadStores(ctx, fn)
	})
}

// withReadStores opens the workspace stores without the lock. fn must not
// write; WAL mode lets it read alongside a running daemon.
func withReadStores(ctx context.Context, fn func(s *stores) error) error {
	s, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// withLocalDaemon builds a stopped daemon over the workspace for a one-shot
// audit
func withLocalDaemon(ctx context.Context, fn func(d *sentinel.Daemon) error) error {
	return withStores(ctx, func(s *stores) error {
		p, err := buildPipeline(cfg, s)
		if err != nil {
			return err
		}
		// one-shot audits use the model only if it answers right now
		p.arbiter.CheckAvailability(ctx)

		d, err := sentinel.New(sentinel.Config{
			Evaluator: p.arbiter,
			Router:    p.router,
			Events:    s.bus,
			Recorder:  s.recorder(cfg),
			Logger:    logging.Logger(),
		})
		if err != nil {
			return err
		}
		return fn(d)
	})
}
