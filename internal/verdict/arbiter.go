package verdict

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/types"
)

// DefaultMaxFileBytes caps file reads for analysis
const DefaultMaxFileBytes = 5 << 20

// Mode selects when the model-assisted check runs
type Mode string

const (
	ModeHeuristic     Mode = "heuristic"
	ModeModelAssisted Mode = "model-assisted"
	ModeHybrid        Mode = "hybrid"
)

// IsValid checks if the mode value is valid
func (m Mode) IsValid() bool {
	switch m {
	case ModeHeuristic, ModeModelAssisted, ModeHybrid:
		return true
	}
	return false
}

// Analyzer runs pattern checks on file content
type Analyzer interface {
	Analyze(path string, content []byte) []types.HeuristicResult
}

// ClaimValidator checks that claimed artifacts exist
type ClaimValidator interface {
	ValidateClaim(paths []string) []types.HeuristicResult
}

// ModelChecker is the optional model-assisted check
type ModelChecker interface {
	Available(ctx context.Context) bool
	Evaluate(ctx context.Context, path string, content []byte, results []types.HeuristicResult) (*types.ModelEvaluation, error)
}

// ArbiterConfig configures an Arbiter. Model is optional.
type ArbiterConfig struct {
	Engine       *Engine
	Heuristics   Analyzer
	Existence    ClaimValidator
	Model        ModelChecker
	Mode         Mode
	MaxFileBytes int64
	Logger       zerolog.Logger
}

// Arbiter routes events to the checks that apply and hands the results to
// the Engine
type Arbiter struct {
	engine       *Engine
	heuristics   Analyzer
	existence    ClaimValidator
	model        ModelChecker
	maxFileBytes int64
	logger       zerolog.Logger

	mu        sync.RWMutex
	mode      Mode
	available bool
}

// NewArbiter creates an Arbiter. The model is considered unavailable until
// CheckAvailability succeeds.
func NewArbiter(cfg ArbiterConfig) (*Arbiter, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("verdict engine is required")
	}
	if cfg.Heuristics == nil {
		return nil, fmt.Errorf("heuristic analyzer is required")
	}
	if cfg.Existence == nil {
		return nil, fmt.Errorf("existence validator is required")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHeuristic
	}
	if !cfg.Mode.IsValid() {
		return nil, fmt.Errorf("invalid mode: %s", cfg.Mode)
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = DefaultMaxFileBytes
	}
	return &Arbiter{
		engine:       cfg.Engine,
		heuristics:   cfg.Heuristics,
		existence:    cfg.Existence,
		model:        cfg.Model,
		maxFileBytes: cfg.MaxFileBytes,
		logger:       cfg.Logger.With().Str("component", "arbiter").Logger(),
		mode:         cfg.Mode,
	}, nil
}

// Mode returns the current mode
func (a *Arbiter) Mode() Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

// ModelAvailable reports the result of the last availability check
func (a *Arbiter) ModelAvailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.available
}

// CheckAvailability probes the model. When it is unreachable,
// model-assisted mode falls back to heuristic; hybrid keeps its mode and
// simply skips the model.
func (a *Arbiter) CheckAvailability(ctx context.Context) bool {
	available := a.model != nil && a.model.Available(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.available = available
	if !available {
		a.logger.Info().Msg("model not available, heuristic checks only")
		if a.mode == ModeModelAssisted {
			a.mode = ModeHeuristic
		}
	}
	return available
}

// ShouldInvokeModel reports whether the model check runs for results
func (a *Arbiter) ShouldInvokeModel(results []types.HeuristicResult) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.available || a.model == nil {
		return false
	}
	switch a.mode {
	case ModeModelAssisted:
		return true
	case ModeHybrid:
		for _, r := range results {
			if r.Matched && r.Severity != types.SeverityLow {
				return true
			}
		}
	}
	return false
}

// Evaluate runs the checks that apply to event and returns its verdict.
// Unreadable files and model failures degrade the analysis; they are not
// errors.
func (a *Arbiter) Evaluate(ctx context.Context, event *types.Event) *types.Verdict {
	if event.Type == types.EventAgentClaim {
		return a.evaluateClaim(ctx, event)
	}

	path := event.Path()
	if path == "" {
		a.logger.Warn().Str("event_id", event.ID).Msg("event has no file path")
		return a.engine.GenerateVerdict(ctx, event, Artifact{Path: "unknown"}, nil, nil)
	}

	var content []byte
	if event.Type != types.EventFileDeleted {
		content = a.readFile(path)
	}

	results := a.heuristics.Analyze(path, content)

	var model *types.ModelEvaluation
	if a.ShouldInvokeModel(results) {
		eval, err := a.model.Evaluate(ctx, path, content, results)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", path).Msg("model evaluation failed, using heuristics only")
		} else {
			model = eval
		}
	}

	return a.engine.GenerateVerdict(ctx, event, Artifact{Path: path, Content: content}, results, model)
}

func (a *Arbiter) evaluateClaim(ctx context.Context, event *types.Event) *types.Verdict {
	var artifacts []string
	if event.Claim != nil {
		artifacts = event.Claim.ClaimedArtifacts
	}
	a.logger.Info().Str("agent_id", event.AgentID()).Int("artifacts", len(artifacts)).Msg("validating agent claim")

	results := a.existence.ValidateClaim(artifacts)
	path := ClaimManifestPath
	if len(artifacts) > 0 {
		path = artifacts[0]
	}
	return a.engine.GenerateVerdict(ctx, event, Artifact{Path: path}, results, nil)
}

// readFile returns nil for unreadable or oversize files
func (a *Arbiter) readFile(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		a.logger.Debug().Err(err).Str("path", path).Msg("file not readable")
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	if info.Size() > a.maxFileBytes {
		a.logger.Warn().Str("path", path).Int64("size", info.Size()).Msg("file too large, skipping content read")
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(f, a.maxFileBytes+1))
	if err != nil {
		a.logger.Debug().Err(err).Str("path", path).Msg("failed to read file")
		return nil
	}
	if int64(len(data)) > a.maxFileBytes {
		a.logger.Warn().Str("path", path).Msg("file grew past size limit, skipping content read")
		return nil
	}
	return data
}
