package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Decode converts the payload into dest. It accepts both the typed payload
// that was emitted and a generic map (as received over the wire).
func (e Envelope) Decode(dest any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", e.Topic, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Topic, err)
	}
	return nil
}

// Cursor returns the composite replay cursor "{sessionId}:{seq}"
func (e Envelope) Cursor() string {
	return FormatCursor(e.SessionID, e.Seq)
}

// FormatCursor builds a composite cursor
func FormatCursor(sessionID string, seq uint64) string {
	return sessionID + ":" + strconv.FormatUint(seq, 10)
}

// ParseCursor splits a composite cursor on its last colon. ok is false when
// either half is missing or the sequence is not a number.
func ParseCursor(cursor string) (sessionID string, seq uint64, ok bool) {
	idx := strings.LastIndex(cursor, ":")
	if idx <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(cursor[idx+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return cursor[:idx], seq, true
}

// structToMap converts a typed payload to a generic map
func structToMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// NewStreamEvent builds a StreamEventData, folding a typed detail struct
// into its Data map
func NewStreamEvent(kind StreamKind, message string, detail any) (StreamEventData, error) {
	ev := StreamEventData{Kind: kind, Message: message}
	if detail == nil {
		return ev, nil
	}
	m, err := structToMap(detail)
	if err != nil {
		return ev, fmt.Errorf("failed to convert %s detail: %w", kind, err)
	}
	ev.Data = m
	return ev, nil
}
