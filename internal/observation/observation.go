// Package observation keeps a retrieval record of every event the sentinel
// processed together with its verdict (sentinel_observations).
package observation

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

const (
	// MaxExcerptBytes is how much of the file is kept in the retrieval text
	MaxExcerptBytes = 16 * 1024
	// MaxQueryLimit bounds list queries
	MaxQueryLimit = 500
)

// Observation is one processed event and the verdict it produced
type Observation struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	EventID     string          `json:"event_id"`
	EventType   types.EventType `json:"event_type"`
	Source      string          `json:"source"`
	FilePath    string          `json:"file_path,omitempty"`
	Decision    types.Decision  `json:"decision"`
	RiskGrade   types.RiskGrade `json:"risk_grade"`
	Confidence  float64         `json:"confidence"`
	Summary     string          `json:"summary"`
	Details     string          `json:"details"`
	Text        string          `json:"text"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    json.RawMessage `json:"metadata"`
	ContentHash string          `json:"content_hash"`
}

// Config configures a Store
type Config struct {
	DB     *sql.DB
	Logger zerolog.Logger
	Now    func() time.Time
}

// Store is the sentinel_observations table
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New returns a Store over an already migrated database
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("observation store requires a database")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		db:     cfg.DB,
		logger: cfg.Logger.With().Str("component", "observation").Logger(),
		now:    cfg.Now,
	}, nil
}

type payload struct {
	File  *types.FilePayload  `json:"file,omitempty"`
	Claim *types.ClaimPayload `json:"claim,omitempty"`
	Extra map[string]any      `json:"extra,omitempty"`
}

type actionSummary struct {
	Type   types.ActionType   `json:"type"`
	Status types.ActionStatus `json:"status"`
}

type metadata struct {
	MatchedPatterns      []string          `json:"matchedPatterns"`
	Actions              []actionSummary   `json:"actions"`
	ArtifactPath         string            `json:"artifactPath,omitempty"`
	AgentID              string            `json:"agentDid"`
	Source               types.EventSource `json:"source"`
	EventType            types.EventType   `json:"eventType"`
	FileSnapshotIncluded bool              `json:"fileSnapshotIncluded"`
}

// Record stores ev and its verdict. The current contents of the event's
// file, when readable, are excerpted into the retrieval text.
func (s *Store) Record(ctx context.Context, ev *types.Event, v *types.Verdict) error {
	o, err := s.build(ev, v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sentinel_observations (
			id, timestamp, event_id, event_type, source, file_path,
			decision, risk_grade, confidence, summary, details, text,
			payload_json, metadata_json, content_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, storage.FormatTime(o.Timestamp), o.EventID, o.EventType, o.Source,
		sql.NullString{String: o.FilePath, Valid: o.FilePath != ""},
		o.Decision, o.RiskGrade, o.Confidence, o.Summary, o.Details, o.Text,
		string(o.Payload), string(o.Metadata), o.ContentHash,
	)
	if err != nil {
		return fmt.Errorf("failed to record observation for event %s: %w", ev.ID, err)
	}
	s.logger.Debug().Str("event_id", ev.ID).Str("decision", string(v.Decision)).Msg("observation recorded")
	return nil
}

func (s *Store) build(ev *types.Event, v *types.Verdict) (*Observation, error) {
	if ev == nil || v == nil {
		return nil, fmt.Errorf("event and verdict are required")
	}
	path := ev.Path()
	excerpt, ok := readExcerpt(path)

	p, err := ledger.Canonicalize(payload{File: ev.File, Claim: ev.Claim, Extra: ev.Extra})
	if err != nil {
		return nil, fmt.Errorf("failed to encode observation payload: %w", err)
	}
	meta := metadata{
		MatchedPatterns:      v.MatchedPatterns,
		Actions:              make([]actionSummary, 0, len(v.Actions)),
		ArtifactPath:         v.ArtifactPath,
		AgentID:              v.AgentID,
		Source:               ev.Source,
		EventType:            ev.Type,
		FileSnapshotIncluded: ok,
	}
	if meta.MatchedPatterns == nil {
		meta.MatchedPatterns = []string{}
	}
	for _, a := range v.Actions {
		meta.Actions = append(meta.Actions, actionSummary{Type: a.Type, Status: a.Status})
	}
	m, err := ledger.Canonicalize(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode observation metadata: %w", err)
	}

	text := retrievalText(ev, v, excerpt)
	sum := sha256.Sum256([]byte(string(p) + ":" + string(m) + ":" + text))

	return &Observation{
		ID:          uuid.NewString(),
		Timestamp:   s.now().UTC(),
		EventID:     ev.ID,
		EventType:   ev.Type,
		Source:      string(ev.Source),
		FilePath:    path,
		Decision:    v.Decision,
		RiskGrade:   v.RiskGrade,
		Confidence:  v.Confidence,
		Summary:     v.Summary,
		Details:     v.Details,
		Text:        text,
		Payload:     p,
		Metadata:    m,
		ContentHash: hex.EncodeToString(sum[:]),
	}, nil
}

// retrievalText is the plain-text form indexed for search
func retrievalText(ev *types.Event, v *types.Verdict, excerpt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "event_type: %s\n", ev.Type)
	fmt.Fprintf(&b, "source: %s\n", ev.Source)
	fmt.Fprintf(&b, "decision: %s\n", v.Decision)
	fmt.Fprintf(&b, "risk_grade: %s\n", v.RiskGrade)
	fmt.Fprintf(&b, "summary: %s", v.Summary)
	if v.Details != "" {
		fmt.Fprintf(&b, "\ndetails: %s", v.Details)
	}
	if v.ArtifactPath != "" {
		fmt.Fprintf(&b, "\nartifact_path: %s", v.ArtifactPath)
	}
	if len(v.MatchedPatterns) > 0 {
		fmt.Fprintf(&b, "\nmatched_patterns: %s", strings.Join(v.MatchedPatterns, ", "))
	}
	if excerpt != "" {
		b.WriteString("\nfile_excerpt:\n")
		b.WriteString(excerpt)
	}
	return b.String()
}

// readExcerpt returns the head of a regular file, or false when there is
// nothing to read
func readExcerpt(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	if info, err := f.Stat(); err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	data, err := io.ReadAll(io.LimitReader(f, MaxExcerptBytes))
	if err != nil {
		return "", false
	}
	return strings.ToValidUTF8(string(data), "�"), true
}

// Recent returns the newest observations first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Observation, error) {
	return s.list(ctx, "", nil, limit)
}

// ForPath returns the newest observations of one file first
func (s *Store) ForPath(ctx context.Context, path string, limit int) ([]*Observation, error) {
	return s.list(ctx, "WHERE file_path = ?", []any{path}, limit)
}

// Search returns the newest observations whose retrieval text contains
// term, case-insensitively
func (s *Store) Search(ctx context.Context, term string, limit int) ([]*Observation, error) {
	if term == "" {
		return s.Recent(ctx, limit)
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
	return s.list(ctx, `WHERE text LIKE ? ESCAPE '\'`, []any{"%" + escaped + "%"}, limit)
}

// Count returns the number of stored observations
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sentinel_observations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return n, nil
}

func (s *Store) list(ctx context.Context, where string, args []any, limit int) ([]*Observation, error) {
	query := fmt.Sprintf(`
		SELECT id, timestamp, event_id, event_type, source, file_path, decision,
		       risk_grade, confidence, summary, details, text, payload_json,
		       metadata_json, content_hash
		FROM sentinel_observations %s
		ORDER BY timestamp DESC, rowid DESC LIMIT ?`, where)
	args = append(args, storage.ClampLimit(limit, MaxQueryLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Observation
	for rows.Next() {
		var (
			o                   Observation
			ts                  string
			path                sql.NullString
			rawPayload, rawMeta string
		)
		if err := rows.Scan(&o.ID, &ts, &o.EventID, &o.EventType, &o.Source, &path, &o.Decision,
			&o.RiskGrade, &o.Confidence, &o.Summary, &o.Details, &o.Text, &rawPayload, &rawMeta, &o.ContentHash); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		if o.Timestamp, err = storage.ParseTime(ts); err != nil {
			s.logger.Warn().Str("id", o.ID).Err(err).Msg("skipping observation with corrupt timestamp")
			continue
		}
		o.FilePath = path.String
		o.Payload = json.RawMessage(rawPayload)
		o.Metadata = json.RawMessage(rawMeta)
		out = append(out, &o)
	}
	return out, rows.Err()
}
