package types

import (
	"fmt"
	"time"
)

// Priority orders events in the sentinel queue
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Rank returns 0 for the most urgent tier. Unknown values sort with normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// EventSource identifies who produced an event
type EventSource string

const (
	SourceFileWatcher EventSource = "file_watcher"
	SourceAgent       EventSource = "agent_message"
	SourceManual      EventSource = "manual"
)

// IsValid checks if the source value is valid
func (s EventSource) IsValid() bool {
	switch s {
	case SourceFileWatcher, SourceAgent, SourceManual:
		return true
	}
	return false
}

// EventType is the kind of sentinel event
type EventType string

const (
	EventFileCreated  EventType = "FILE_CREATED"
	EventFileModified EventType = "FILE_MODIFIED"
	EventFileDeleted  EventType = "FILE_DELETED"
	EventManualAudit  EventType = "MANUAL_AUDIT"
	EventAgentClaim   EventType = "AGENT_CLAIM"
)

// IsValid checks if the event type value is valid
func (t EventType) IsValid() bool {
	switch t {
	case EventFileCreated, EventFileModified, EventFileDeleted, EventManualAudit, EventAgentClaim:
		return true
	}
	return false
}

// FilePayload describes a file-scoped event
type FilePayload struct {
	Path    string `json:"path"`
	AgentID string `json:"agent_id,omitempty"`
}

// ClaimPayload describes an agent claiming it produced artifacts
type ClaimPayload struct {
	AgentID          string   `json:"agent_id"`
	ClaimedArtifacts []string `json:"claimed_artifacts"`
}

// Event is a unit of work for the sentinel. Exactly one of File or Claim is
// set, depending on Type. Extra carries producer-specific fields that have no
// typed home yet.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  Priority       `json:"priority"`
	Source    EventSource    `json:"source"`
	Type      EventType      `json:"type"`
	File      *FilePayload   `json:"file,omitempty"`
	Claim     *ClaimPayload  `json:"claim,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Validate checks if the event has valid field values
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", e.Priority)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type: %s", e.Type)
	}
	if e.Type == EventAgentClaim {
		if e.Claim == nil {
			return fmt.Errorf("%s event requires a claim payload", e.Type)
		}
		if e.Claim.AgentID == "" {
			return fmt.Errorf("claim agent_id is required")
		}
		return nil
	}
	if e.File == nil || e.File.Path == "" {
		return fmt.Errorf("%s event requires a file path", e.Type)
	}
	return nil
}

// Path returns the file path for file events, empty otherwise
func (e *Event) Path() string {
	if e.File == nil {
		return ""
	}
	return e.File.Path
}

// AgentID returns the agent attributed to the event, if any
func (e *Event) AgentID() string {
	switch {
	case e.Claim != nil:
		return e.Claim.AgentID
	case e.File != nil:
		return e.File.AgentID
	}
	return ""
}

// FileChange is a raw filesystem notification. Type is one of the FILE_*
// event types.
type FileChange struct {
	Path string    `json:"path"`
	Type EventType `json:"type"`
}
