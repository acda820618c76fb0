package types

import (
	"time"
)

// FailureMode classifies why a verdict did not pass
type FailureMode string

const (
	FailureInjection      FailureMode = "INJECTION_VULNERABILITY"
	FailureSecretExposure FailureMode = "SECRET_EXPOSURE"
	FailurePIILeak        FailureMode = "PII_LEAK"
	FailureComplexity     FailureMode = "HIGH_COMPLEXITY"
	FailureLogicError     FailureMode = "LOGIC_ERROR"
	FailureDependency     FailureMode = "DEPENDENCY_CONFLICT"
	FailureTrustViolation FailureMode = "TRUST_VIOLATION"
	FailureHallucination  FailureMode = "HALLUCINATION"
	FailureSpecViolation  FailureMode = "SPEC_VIOLATION"
	FailureOther          FailureMode = "OTHER"
)

// IsValid checks if the failure mode value is valid
func (m FailureMode) IsValid() bool {
	switch m {
	case FailureInjection, FailureSecretExposure, FailurePIILeak, FailureComplexity,
		FailureLogicError, FailureDependency, FailureTrustViolation, FailureHallucination,
		FailureSpecViolation, FailureOther:
		return true
	}
	return false
}

// RemediationStatus tracks work on a failure record
type RemediationStatus string

const (
	RemediationUnresolved RemediationStatus = "UNRESOLVED"
	RemediationInProgress RemediationStatus = "IN_PROGRESS"
	RemediationResolved   RemediationStatus = "RESOLVED"
	RemediationWontFix    RemediationStatus = "WONT_FIX"
	RemediationSuperseded RemediationStatus = "SUPERSEDED"
)

// IsValid checks if the remediation status value is valid
func (s RemediationStatus) IsValid() bool {
	switch s {
	case RemediationUnresolved, RemediationInProgress, RemediationResolved,
		RemediationWontFix, RemediationSuperseded:
		return true
	}
	return false
}

// IsTerminal reports whether the status closes the record
func (s RemediationStatus) IsTerminal() bool {
	switch s {
	case RemediationResolved, RemediationWontFix, RemediationSuperseded:
		return true
	}
	return false
}

// ShadowGenomeEntry is an archived failure
type ShadowGenomeEntry struct {
	ID                 int64             `json:"id"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          *time.Time        `json:"updated_at,omitempty"`
	LedgerRef          *int64            `json:"ledger_ref,omitempty"`
	AgentID            string            `json:"agent_id"`
	InputVector        string            `json:"input_vector"`
	DecisionRationale  string            `json:"decision_rationale,omitempty"`
	EnvironmentContext string            `json:"environment_context,omitempty"`
	FailureMode        FailureMode       `json:"failure_mode"`
	CausalVector       string            `json:"causal_vector,omitempty"`
	NegativeConstraint string            `json:"negative_constraint,omitempty"`
	RemediationStatus  RemediationStatus `json:"remediation_status"`
	RemediationNotes   string            `json:"remediation_notes,omitempty"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
	ResolvedBy         string            `json:"resolved_by,omitempty"`
}

// FailurePattern aggregates unresolved entries sharing a failure mode
type FailurePattern struct {
	FailureMode  FailureMode `json:"failure_mode"`
	Count        int         `json:"count"`
	AgentIDs     []string    `json:"agent_ids"`
	RecentCauses []string    `json:"recent_causes"`
}
