package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/approval"
	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/events"
	"github.com/qorelogic/sentinel/internal/existence"
	"github.com/qorelogic/sentinel/internal/genome"
	"github.com/qorelogic/sentinel/internal/heuristics"
	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/modelcheck"
	"github.com/qorelogic/sentinel/internal/observation"
	"github.com/qorelogic/sentinel/internal/policy"
	"github.com/qorelogic/sentinel/internal/sentinel"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/trust"
	"github.com/qorelogic/sentinel/internal/verdict"
)

// stores are the persistent components over the workspace database
type stores struct {
	db        *sql.DB
	bus       *events.Bus
	ledger    *ledger.Manager
	trust     *trust.Engine
	genome    *genome.Store
	approvals *approval.Queue
	observed  *observation.Store
}

// openStores opens the database and the components that persist to it
func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	logger := logging.Logger()

	db, err := storage.Open(ctx, cfg.Resolve(cfg.Ledger.DBPath))
	if err != nil {
		return nil, err
	}
	s := &stores{
		db:  db,
		bus: events.NewBus(events.Config{HistorySize: cfg.Sentinel.HistorySize, Logger: logger}),
	}

	s.ledger, err = ledger.Open(ctx, ledger.Config{
		DB:      db,
		Secrets: ledger.NewFileSecretStore(cfg.Resolve(cfg.Ledger.SecretsDir)),
		Logger:  logger,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	s.trust, err = trust.New(ctx, trust.Config{DB: db, Ledger: s.ledger, Events: s.bus, Logger: logger})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load trust registry: %w", err)
	}

	s.genome, err = genome.New(genome.Config{DB: db, Ledger: s.ledger, Logger: logger})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.approvals, err = approval.New(approval.Config{DB: db, Logger: logger})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.observed, err = observation.New(observation.Config{DB: db, Logger: logger})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// recorder is the daemon's observation recorder, nil when disabled
func (s *stores) recorder(cfg config.Config) sentinel.ObservationRecorder {
	if !cfg.Sentinel.RecordObservations {
		return nil
	}
	return s.observed
}

// Close releases the bus and the database
func (s *stores) Close() error {
	s.bus.Close()
	return s.db.Close()
}

// pipeline is the evaluation chain built on top of the stores
type pipeline struct {
	*stores
	arbiter *verdict.Arbiter
	router  *verdict.Router
}

// buildPipeline wires heuristics, the model check and the verdict engine
func buildPipeline(cfg config.Config, s *stores) (*pipeline, error) {
	logger := logging.Logger()

	analyzer := heuristics.New(heuristics.Config{
		Patterns:     heuristics.LoadPatterns(cfg.Resolve(cfg.Sentinel.PatternsFile), logger),
		MaxScanBytes: cfg.Sentinel.MaxScanBytes,
		Logger:       logger,
	})
	classifier := policy.NewClassifier(policy.LoadRiskPolicy(cfg.Resolve(cfg.Sentinel.RiskPolicyFile), logger))

	var quarantine verdict.QuarantinePolicy
	if cfg.Sentinel.QuarantineRepeatOffenders {
		quarantine = verdict.RepeatOffenderPolicy
	}

	engine, err := verdict.NewEngine(verdict.EngineConfig{
		Classifier:         classifier,
		Ledger:             s.ledger,
		Trust:              s.trust,
		Genome:             s.genome,
		QuarantinePolicy:   quarantine,
		SystemAgentID:      cfg.Sentinel.SystemAgentID,
		QuarantineDuration: cfg.Sentinel.QuarantineDuration,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	mode := verdict.Mode(cfg.Sentinel.Mode)
	var model verdict.ModelChecker
	if mode != verdict.ModeHeuristic {
		checker, err := newModelChecker(cfg.Model, logger)
		if err != nil {
			// the arbiter degrades to heuristic checks without a model
			logger.Warn().Err(err).Str("provider", cfg.Model.Provider).Msg("model check disabled")
		} else {
			model = checker
		}
	}

	arbiter, err := verdict.NewArbiter(verdict.ArbiterConfig{
		Engine:       engine,
		Heuristics:   analyzer,
		Existence:    existence.New(cfg.Workspace),
		Model:        model,
		Mode:         mode,
		MaxFileBytes: cfg.Sentinel.MaxFileBytes,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	router, err := verdict.NewRouter(verdict.RouterConfig{
		Events:    s.bus,
		Approvals: s.approvals,
		SLA:       cfg.Approval.SLA,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{stores: s, arbiter: arbiter, router: router}, nil
}

func newModelChecker(mc config.ModelConfig, logger zerolog.Logger) (*modelcheck.Checker, error) {
	var client modelcheck.Client
	switch mc.Provider {
	case "anthropic":
		c, err := modelcheck.NewAnthropicClient(mc.AnthropicAPIKey, mc.AnthropicModel, "")
		if err != nil {
			return nil, err
		}
		client = c
	case "ollama":
		c, err := modelcheck.NewOllamaClient(mc.Endpoint, mc.Model)
		if err != nil {
			return nil, err
		}
		client = c
	default:
		return nil, fmt.Errorf("unknown model provider %q", mc.Provider)
	}

	return modelcheck.NewChecker(modelcheck.Config{
		Client:           client,
		ProbeTimeout:     mc.ProbeTimeout,
		CallTimeout:      mc.CallTimeout,
		MaxConcurrent:    mc.MaxConcurrent,
		RatePerMinute:    mc.RatePerMinute,
		FailureThreshold: mc.FailureThreshold,
		OpenTimeout:      mc.OpenTimeout,
		Logger:           logger,
	})
}

// retention returns the genome retention settings with the archive
// directory resolved against the workspace
func retention(cfg config.Config) config.GenomeRetentionConfig {
	r := cfg.Genome
	r.ArchiveDir = cfg.Resolve(r.ArchiveDir)
	return r
}
