package ledger

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/qorelogic/sentinel/internal/types"
)

// GenesisPrevHash is the prevHash of the first entry in every chain
var GenesisPrevHash = sha256Hex([]byte("GENESIS"))

// hashInput fixes the field order of the hashed document. Struct fields
// marshal in declaration order, so the hash input is canonical without a
// custom encoder.
type hashInput struct {
	Timestamp string                `json:"timestamp"`
	EventType types.LedgerEventType `json:"eventType"`
	AgentID   string                `json:"agentId"`
	Payload   json.RawMessage       `json:"payload"`
	PrevHash  string                `json:"prevHash"`
}

// ComputeHash returns the hex SHA-256 of the canonical entry document.
// payload must already be canonical (see Canonicalize); nil hashes as null.
func ComputeHash(timestamp string, eventType types.LedgerEventType, agentID string, payload json.RawMessage, prevHash string) (string, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	doc, err := marshal(hashInput{
		Timestamp: timestamp,
		EventType: eventType,
		AgentID:   agentID,
		Payload:   payload,
		PrevHash:  prevHash,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode hash input: %w", err)
	}
	return sha256Hex(doc), nil
}

// Canonicalize renders v as JSON with object keys sorted at every depth and
// numbers preserved verbatim, so equal payloads always produce equal bytes.
func Canonicalize(v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	raw, err := marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return marshal(generic)
}

// Sign returns the hex HMAC-SHA256 of entryHash under secret
func Sign(entryHash, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(entryHash))
	return hex.EncodeToString(mac.Sum(nil))
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
