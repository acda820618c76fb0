package types

import (
	"fmt"
	"time"
)

// Severity grades a heuristic finding
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// PatternCategory groups heuristic patterns
type PatternCategory string

const (
	CategoryInjection   PatternCategory = "injection"
	CategorySecrets     PatternCategory = "secrets"
	CategoryPII         PatternCategory = "pii"
	CategoryAuth        PatternCategory = "auth"
	CategoryCrypto      PatternCategory = "crypto"
	CategoryResource    PatternCategory = "resource"
	CategoryComplexity  PatternCategory = "complexity"
	CategoryDependency  PatternCategory = "dependency"
	CategoryExistence   PatternCategory = "existence"
	CategoryLogic       PatternCategory = "logic"
	CategoryOther       PatternCategory = "other"
)

// HeuristicPattern is a named regex rule
type HeuristicPattern struct {
	ID                string          `json:"id" yaml:"id"`
	Name              string          `json:"name" yaml:"name"`
	Category          PatternCategory `json:"category" yaml:"category"`
	Severity          Severity        `json:"severity" yaml:"severity"`
	Pattern           string          `json:"pattern" yaml:"pattern"`
	Description       string          `json:"description" yaml:"description"`
	Remediation       string          `json:"remediation,omitempty" yaml:"remediation,omitempty"`
	CWE               string          `json:"cwe,omitempty" yaml:"cwe,omitempty"`
	FalsePositiveRate float64         `json:"false_positive_rate" yaml:"false_positive_rate"`
	Enabled           bool            `json:"enabled" yaml:"enabled"`
}

// Validate checks the fields a pattern needs to be usable. It does not
// compile the regex.
func (p *HeuristicPattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("pattern %s: name is required", p.ID)
	}
	if p.Pattern == "" {
		return fmt.Errorf("pattern %s: pattern is required", p.ID)
	}
	if p.Category == "" {
		return fmt.Errorf("pattern %s: category is required", p.ID)
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("pattern %s: invalid severity %q", p.ID, p.Severity)
	}
	if p.FalsePositiveRate < 0 || p.FalsePositiveRate > 1 {
		return fmt.Errorf("pattern %s: false_positive_rate must be between 0 and 1", p.ID)
	}
	return nil
}

// Location pinpoints the first match of a pattern
type Location struct {
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Snippet string `json:"snippet"`
}

// HeuristicResult is the outcome of evaluating one pattern
type HeuristicResult struct {
	PatternID string    `json:"pattern_id"`
	Matched   bool      `json:"matched"`
	Severity  Severity  `json:"severity"`
	Location  *Location `json:"location,omitempty"`
}

// ModelEvaluation is the optional model-assisted opinion on an artifact
type ModelEvaluation struct {
	Model          string        `json:"model"`
	PromptUsed     string        `json:"prompt_used"`
	Response       string        `json:"response"`
	Confidence     float64       `json:"confidence"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Decision is the verdict outcome
type Decision string

const (
	DecisionPass       Decision = "PASS"
	DecisionWarn       Decision = "WARN"
	DecisionBlock      Decision = "BLOCK"
	DecisionEscalate   Decision = "ESCALATE"
	DecisionQuarantine Decision = "QUARANTINE"
)

// IsValid checks if the decision value is valid
func (d Decision) IsValid() bool {
	switch d {
	case DecisionPass, DecisionWarn, DecisionBlock, DecisionEscalate, DecisionQuarantine:
		return true
	}
	return false
}

// RiskGrade is the blast-radius grade of an artifact
type RiskGrade string

const (
	RiskL1 RiskGrade = "L1"
	RiskL2 RiskGrade = "L2"
	RiskL3 RiskGrade = "L3"
)

// IsValid checks if the risk grade value is valid
func (g RiskGrade) IsValid() bool {
	switch g {
	case RiskL1, RiskL2, RiskL3:
		return true
	}
	return false
}

// ActionType names a side effect executed for a verdict
type ActionType string

const (
	ActionLog             ActionType = "LOG"
	ActionTrustUpdate     ActionType = "TRUST_UPDATE"
	ActionShadowArchive   ActionType = "SHADOW_ARCHIVE"
	ActionEscalationQueue ActionType = "ESCALATION_QUEUE"
	ActionQuarantine      ActionType = "QUARANTINE"
)

// ActionStatus is the outcome of a verdict action
type ActionStatus string

const (
	ActionCompleted ActionStatus = "completed"
	ActionPending   ActionStatus = "pending"
	ActionFailed    ActionStatus = "failed"
)

// VerdictAction records one side effect and how it went
type VerdictAction struct {
	Type    ActionType   `json:"type"`
	Status  ActionStatus `json:"status"`
	Details string       `json:"details,omitempty"`
}

// Verdict is the immutable result of evaluating one event
type Verdict struct {
	ID                  string            `json:"id"`
	EventID             string            `json:"event_id"`
	Timestamp           time.Time         `json:"timestamp"`
	Decision            Decision          `json:"decision"`
	RiskGrade           RiskGrade         `json:"risk_grade"`
	Confidence          float64           `json:"confidence"`
	HeuristicResults    []HeuristicResult `json:"heuristic_results"`
	ModelEvaluation     *ModelEvaluation  `json:"model_evaluation,omitempty"`
	AgentID             string            `json:"agent_id"`
	AgentTrustAtVerdict float64           `json:"agent_trust_at_verdict"`
	ArtifactPath        string            `json:"artifact_path,omitempty"`
	Summary             string            `json:"summary"`
	Details             string            `json:"details"`
	MatchedPatterns     []string          `json:"matched_patterns"`
	Actions             []VerdictAction   `json:"actions"`
	LedgerEntryID       *int64            `json:"ledger_entry_id,omitempty"`
}

// Action returns the recorded action of the given type, if any
func (v *Verdict) Action(t ActionType) (VerdictAction, bool) {
	for _, a := range v.Actions {
		if a.Type == t {
			return a, true
		}
	}
	return VerdictAction{}, false
}
