package types

import (
	"fmt"
	"strings"
	"time"
)

// TrustStage is the coarse trust tier derived from a score
type TrustStage string

const (
	StageCBT TrustStage = "CBT" // capability-based, score < 0.5
	StageKBT TrustStage = "KBT" // knowledge-based, score < 0.8
	StageIBT TrustStage = "IBT" // identity-based, score >= 0.8
)

// IsValid checks if the stage value is valid
func (s TrustStage) IsValid() bool {
	switch s {
	case StageCBT, StageKBT, StageIBT:
		return true
	}
	return false
}

// TrustOutcome is the kind of observation fed into the trust engine
type TrustOutcome string

const (
	OutcomeSuccess   TrustOutcome = "success"
	OutcomeFailure   TrustOutcome = "failure"
	OutcomeViolation TrustOutcome = "violation"
)

// IsValid checks if the outcome value is valid
func (o TrustOutcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeViolation:
		return true
	}
	return false
}

// AgentPersona is the self-declared role of an agent
type AgentPersona string

const (
	PersonaScrivener AgentPersona = "scrivener"
	PersonaSentinel  AgentPersona = "sentinel"
	PersonaJudge     AgentPersona = "judge"
	PersonaOverseer  AgentPersona = "overseer"
	PersonaSystem    AgentPersona = "system"
)

// AgentIdentity is a registered agent and its current trust
type AgentIdentity struct {
	AgentID         string       `json:"agent_id"`
	Persona         AgentPersona `json:"persona"`
	PublicKey       string       `json:"public_key,omitempty"`
	Score           float64      `json:"score"`
	Stage           TrustStage   `json:"stage"`
	Quarantined     bool         `json:"quarantined"`
	QuarantineUntil *time.Time   `json:"quarantine_until,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// Validate checks if the identity has valid field values
func (a *AgentIdentity) Validate() error {
	if a.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if a.Score < 0 || a.Score > 1 {
		return fmt.Errorf("score must be between 0 and 1 (got %f)", a.Score)
	}
	if !a.Stage.IsValid() {
		return fmt.Errorf("invalid trust stage: %s", a.Stage)
	}
	return nil
}

// IsSystemAgent reports whether the agent is an internal system identity.
// System agents never accrue trust.
func IsSystemAgent(agentID string) bool {
	return strings.Contains(agentID, ":system:")
}

// TrustUpdate describes one applied trust mutation
type TrustUpdate struct {
	AgentID       string       `json:"agent_id"`
	Outcome       TrustOutcome `json:"outcome"`
	PreviousScore float64      `json:"previous_score"`
	NewScore      float64      `json:"new_score"`
	PreviousStage TrustStage   `json:"previous_stage"`
	NewStage      TrustStage   `json:"new_stage"`
	Reason        string       `json:"reason,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}
