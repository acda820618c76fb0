// Package events is the in-process publish/subscribe bus with sequenced,
// replayable history.
package events

import (
	"time"

	"github.com/qorelogic/sentinel/internal/types"
)

// Topic names a bus channel. The exported topic names are a contract for
// external subscribers such as the NATS bridge.
type Topic string

const (
	// TopicVerdictProduced carries every verdict (*types.Verdict)
	TopicVerdictProduced Topic = "verdict.produced"
	// TopicTrustUpdated carries applied trust mutations (TrustUpdatedData)
	TopicTrustUpdated Topic = "trust.updated"
	// TopicEscalationQueued is emitted when an ESCALATE verdict reached the approval queue
	TopicEscalationQueued Topic = "escalation.queued"
	// TopicEscalationFailed is emitted when forwarding to the approval queue failed
	TopicEscalationFailed Topic = "escalation.failed"
	// TopicStreamEvent carries free-form daemon activity for live views (StreamEventData)
	TopicStreamEvent Topic = "stream.event"
	// TopicSentinelConfidence carries the confidence of each processed event
	TopicSentinelConfidence Topic = "sentinel.confidence"
)

// Envelope wraps a payload with its bus metadata
type Envelope struct {
	Seq       uint64    `json:"seq"`
	SessionID string    `json:"session_id"`
	Topic     Topic     `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// TrustUpdatedData is the payload of TopicTrustUpdated
type TrustUpdatedData struct {
	types.TrustUpdate
	Quarantined bool `json:"quarantined"`
}

// EscalationQueuedData is the payload of TopicEscalationQueued
type EscalationQueuedData struct {
	VerdictID   string          `json:"verdict_id"`
	RequestID   string          `json:"request_id"`
	Path        string          `json:"path"`
	RiskGrade   types.RiskGrade `json:"risk_grade"`
	AgentID     string          `json:"agent_id"`
	SLADeadline time.Time       `json:"sla_deadline"`
}

// EscalationFailedData is the payload of TopicEscalationFailed
type EscalationFailedData struct {
	VerdictID string `json:"verdict_id"`
	Path      string `json:"path"`
	Error     string `json:"error"`
}

// ConfidenceData is the payload of TopicSentinelConfidence
type ConfidenceData struct {
	EventID    string         `json:"event_id"`
	Decision   types.Decision `json:"decision"`
	Confidence float64        `json:"confidence"`
}

// StreamKind classifies StreamEventData
type StreamKind string

const (
	StreamDaemonStarted  StreamKind = "daemon_started"
	StreamDaemonStopped  StreamKind = "daemon_stopped"
	StreamEventQueued    StreamKind = "event_queued"
	StreamEventDropped   StreamKind = "event_dropped"
	StreamModelDegraded  StreamKind = "model_degraded"
	StreamGenomePruned   StreamKind = "genome_pruned"
	StreamQuarantineLift StreamKind = "quarantine_lifted"
)

// StreamEventData is the payload of TopicStreamEvent. Data holds fields
// specific to the kind that have no typed home.
type StreamEventData struct {
	Kind    StreamKind     `json:"kind"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}
