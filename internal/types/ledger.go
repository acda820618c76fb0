package types

import (
	"encoding/json"
	"time"
)

// LedgerEventType classifies an audit ledger entry
type LedgerEventType string

const (
	LedgerSystemEvent     LedgerEventType = "SYSTEM_EVENT"
	LedgerAuditPass       LedgerEventType = "AUDIT_PASS"
	LedgerAuditFail       LedgerEventType = "AUDIT_FAIL"
	LedgerTrustUpdate     LedgerEventType = "TRUST_UPDATE"
	LedgerAgentRegistered LedgerEventType = "AGENT_REGISTERED"
	LedgerQuarantineStart LedgerEventType = "QUARANTINE_START"
	LedgerQuarantineEnd   LedgerEventType = "QUARANTINE_END"
	LedgerGenomeResolved  LedgerEventType = "GENOME_RESOLVED"
	LedgerRetentionPrune  LedgerEventType = "RETENTION_PRUNE"
)

// IsValid checks if the ledger event type value is valid
func (t LedgerEventType) IsValid() bool {
	switch t {
	case LedgerSystemEvent, LedgerAuditPass, LedgerAuditFail, LedgerTrustUpdate,
		LedgerAgentRegistered, LedgerQuarantineStart, LedgerQuarantineEnd,
		LedgerGenomeResolved, LedgerRetentionPrune:
		return true
	}
	return false
}

// LedgerEntry is one row of the hash-chained audit log.
// Payload holds the canonical JSON the entry hash was computed over.
type LedgerEntry struct {
	ID                 int64           `json:"id"`
	Timestamp          time.Time       `json:"timestamp"`
	EventType          LedgerEventType `json:"event_type"`
	AgentID            string          `json:"agent_id"`
	AgentTrustAtAction *float64        `json:"agent_trust_at_action,omitempty"`
	ArtifactPath       string          `json:"artifact_path,omitempty"`
	RiskGrade          *RiskGrade      `json:"risk_grade,omitempty"`
	VerificationResult string          `json:"verification_result,omitempty"`
	SentinelConfidence *float64        `json:"sentinel_confidence,omitempty"`
	Payload            json.RawMessage `json:"payload"`
	EntryHash          string          `json:"entry_hash"`
	PrevHash           string          `json:"prev_hash"`
	Signature          string          `json:"signature"`
}
