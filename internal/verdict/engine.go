// Package verdict turns analysis results into verdicts. The Arbiter chooses
// which checks run, the Engine decides and executes side effects, and the
// Router publishes verdicts and forwards escalations.
package verdict

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/trust"
	"github.com/qorelogic/sentinel/internal/types"
)

const (
	// DefaultSystemAgentID is attributed to events that carry no agent
	DefaultSystemAgentID = "did:myth:system:watcher"
	// DefaultQuarantineDuration applies to QUARANTINE verdicts
	DefaultQuarantineDuration = 48 * time.Hour
	// DefaultAgentTrust is reported for agents the trust engine has not seen
	DefaultAgentTrust = trust.DefaultScore
	// ClaimManifestPath names the artifact of a claim with no artifacts
	ClaimManifestPath = "claim_manifest"

	verificationMethod = "sentinel_heuristic"
	lowConfidence      = 0.5
	modelSummaryLimit  = 200
)

// RiskClassifier grades an artifact
type RiskClassifier interface {
	Classify(path string, content []byte) types.RiskGrade
}

// LedgerAppender records audit entries
type LedgerAppender interface {
	AppendEntry(ctx context.Context, req ledger.AppendRequest) (*types.LedgerEntry, error)
}

// TrustRecorder reads and mutates agent trust
type TrustRecorder interface {
	Score(agentID string) (trust.Score, bool)
	UpdateTrust(ctx context.Context, agentID string, outcome types.TrustOutcome) (types.TrustUpdate, error)
	QuarantineAgent(ctx context.Context, agentID, reason string, duration time.Duration) error
}

// GenomeArchiver stores failed verdicts
type GenomeArchiver interface {
	Archive(ctx context.Context, v *types.Verdict) (*types.ShadowGenomeEntry, error)
}

// QuarantinePolicy may upgrade a non-PASS decision for a non-system agent
// to QUARANTINE. It sees the agent's trust before the verdict is applied.
type QuarantinePolicy func(agent trust.Score, decision types.Decision) bool

// RepeatOffenderPolicy quarantines again any agent that is already
// quarantined and produces another failing verdict
func RepeatOffenderPolicy(agent trust.Score, decision types.Decision) bool {
	return agent.Quarantined && decision != types.DecisionPass
}

// Artifact is what a verdict is about. Content may be nil.
type Artifact struct {
	Path    string
	Content []byte
}

// EngineConfig configures an Engine. Ledger, Trust and Genome are optional;
// the matching actions are recorded as failed when missing.
type EngineConfig struct {
	Classifier         RiskClassifier
	Ledger             LedgerAppender
	Trust              TrustRecorder
	Genome             GenomeArchiver
	QuarantinePolicy   QuarantinePolicy
	SystemAgentID      string
	QuarantineDuration time.Duration
	Logger             zerolog.Logger
	Now                func() time.Time
}

// Engine produces verdicts and executes their side effects
type Engine struct {
	classifier         RiskClassifier
	ledger             LedgerAppender
	trust              TrustRecorder
	genome             GenomeArchiver
	quarantinePolicy   QuarantinePolicy
	systemAgentID      string
	quarantineDuration time.Duration
	logger             zerolog.Logger
	now                func() time.Time
}

// NewEngine creates an Engine
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("risk classifier is required")
	}
	if cfg.SystemAgentID == "" {
		cfg.SystemAgentID = DefaultSystemAgentID
	}
	if cfg.QuarantineDuration <= 0 {
		cfg.QuarantineDuration = DefaultQuarantineDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		classifier:         cfg.Classifier,
		ledger:             cfg.Ledger,
		trust:              cfg.Trust,
		genome:             cfg.Genome,
		quarantinePolicy:   cfg.QuarantinePolicy,
		systemAgentID:      cfg.SystemAgentID,
		quarantineDuration: cfg.QuarantineDuration,
		logger:             cfg.Logger.With().Str("component", "verdict").Logger(),
		now:                cfg.Now,
	}, nil
}

// isSystemAgent reports whether agentID is the configured system identity
// or any other did:myth:system identity
func (e *Engine) isSystemAgent(agentID string) bool {
	return agentID == e.systemAgentID || types.IsSystemAgent(agentID)
}

// GenerateVerdict decides on an artifact and executes the resulting
// actions. The returned verdict is not modified afterwards.
func (e *Engine) GenerateVerdict(ctx context.Context, event *types.Event, artifact Artifact, results []types.HeuristicResult, model *types.ModelEvaluation) *types.Verdict {
	grade := e.classifier.Classify(artifact.Path, artifact.Content)
	confidence := Confidence(results, model)
	decision := Decide(grade, results, confidence)
	matched := MatchedPatterns(results)

	agentID := e.systemAgentID
	if event != nil && event.AgentID() != "" {
		agentID = event.AgentID()
	}
	agentTrust := DefaultAgentTrust
	if e.trust != nil {
		if score, ok := e.trust.Score(agentID); ok {
			agentTrust = score.Score
			if e.quarantinePolicy != nil && !e.isSystemAgent(agentID) &&
				decision != types.DecisionPass && e.quarantinePolicy(score, decision) {
				decision = types.DecisionQuarantine
			}
		}
	}

	if results == nil {
		results = []types.HeuristicResult{}
	}
	if matched == nil {
		matched = []string{}
	}
	v := &types.Verdict{
		ID:                  uuid.NewString(),
		Timestamp:           e.now().UTC(),
		Decision:            decision,
		RiskGrade:           grade,
		Confidence:          confidence,
		HeuristicResults:    results,
		ModelEvaluation:     model,
		AgentID:             agentID,
		AgentTrustAtVerdict: agentTrust,
		ArtifactPath:        artifact.Path,
		Summary:             Summary(decision, len(matched), grade),
		Details:             Details(results, model),
		MatchedPatterns:     matched,
	}
	if event != nil {
		v.EventID = event.ID
	}

	v.Actions = e.executeActions(ctx, v)

	e.logger.Info().
		Str("verdict_id", v.ID).
		Str("event_id", v.EventID).
		Str("path", v.ArtifactPath).
		Str("decision", string(v.Decision)).
		Str("risk_grade", string(v.RiskGrade)).
		Float64("confidence", v.Confidence).
		Strs("matched", v.MatchedPatterns).
		Msg("verdict produced")
	return v
}

// Decide applies the decision precedence. The first rule that holds wins:
// critical findings, L3 grade, high findings, medium findings, low
// confidence, then PASS.
func Decide(grade types.RiskGrade, results []types.HeuristicResult, confidence float64) types.Decision {
	var critical, high, medium bool
	for _, r := range results {
		if !r.Matched {
			continue
		}
		switch r.Severity {
		case types.SeverityCritical:
			critical = true
		case types.SeverityHigh:
			high = true
		case types.SeverityMedium:
			medium = true
		}
	}

	switch {
	case critical:
		if grade == types.RiskL3 {
			return types.DecisionEscalate
		}
		return types.DecisionBlock
	case grade == types.RiskL3:
		return types.DecisionEscalate
	case high:
		if grade == types.RiskL2 {
			return types.DecisionBlock
		}
		return types.DecisionWarn
	case medium:
		return types.DecisionWarn
	case confidence < lowConfidence:
		return types.DecisionWarn
	}
	return types.DecisionPass
}

// Confidence is 1 - 0.3 * matched/total (0.8 with no results), blended
// 60/40 with the model's confidence when there is a model evaluation
func Confidence(results []types.HeuristicResult, model *types.ModelEvaluation) float64 {
	h := 0.8
	if len(results) > 0 {
		matched := 0
		for _, r := range results {
			if r.Matched {
				matched++
			}
		}
		h = 1 - float64(matched)/float64(len(results))*0.3
	}
	if model != nil {
		return h*0.6 + model.Confidence*0.4
	}
	return h
}

// MatchedPatterns returns the IDs of matched results in order
func MatchedPatterns(results []types.HeuristicResult) []string {
	var ids []string
	for _, r := range results {
		if r.Matched {
			ids = append(ids, r.PatternID)
		}
	}
	return ids
}

// Summary is the one-line verdict description
func Summary(decision types.Decision, matched int, grade types.RiskGrade) string {
	switch decision {
	case types.DecisionPass:
		return fmt.Sprintf("File passed verification (%s)", grade)
	case types.DecisionWarn:
		return fmt.Sprintf("%d issue(s) detected - review recommended", matched)
	case types.DecisionBlock:
		return fmt.Sprintf("Blocked: %d critical/high issue(s) found", matched)
	case types.DecisionEscalate:
		return fmt.Sprintf("%s file requires human approval", grade)
	case types.DecisionQuarantine:
		return "Agent quarantined due to repeated violations"
	}
	return string(decision)
}

// Details lists matched findings and the model's opinion
func Details(results []types.HeuristicResult, model *types.ModelEvaluation) string {
	var lines []string
	var findings []string
	for _, r := range results {
		if !r.Matched {
			continue
		}
		line := fmt.Sprintf("  - %s (%s)", r.PatternID, r.Severity)
		if r.Location != nil {
			line += fmt.Sprintf(" at line %d", r.Location.Line)
		}
		findings = append(findings, line)
	}
	if len(findings) > 0 {
		lines = append(lines, "Heuristic Findings:")
		lines = append(lines, findings...)
	}

	if model != nil {
		lines = append(lines,
			"",
			"Model Analysis:",
			"  Model: "+model.Model,
			fmt.Sprintf("  Confidence: %.0f%%", model.Confidence*100),
		)
		if model.Response != "" {
			summary := model.Response
			if r := []rune(summary); len(r) > modelSummaryLimit {
				summary = string(r[:modelSummaryLimit]) + "..."
			}
			lines = append(lines, "  Summary: "+summary)
		}
	}
	return strings.Join(lines, "\n")
}
