// Package approval is the human-approval queue that ESCALATE verdicts are
// forwarded to.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

// MaxListLimit bounds Pending and List
const MaxListLimit = 500

// ErrNotPending is returned when deciding an item that was already decided
// or has expired
var ErrNotPending = errors.New("approval request is not pending")

// State is the lifecycle state of a queued request
type State string

const (
	StatePending  State = "pending"
	StateApproved State = "approved"
	StateRejected State = "rejected"
	StateExpired  State = "expired"
)

// IsValid checks if the state value is valid
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected, StateExpired:
		return true
	}
	return false
}

// Request asks a human to approve an escalated artifact
type Request struct {
	VerdictID   string          `json:"verdict_id"`
	Path        string          `json:"path"`
	RiskGrade   types.RiskGrade `json:"risk_grade"`
	AgentID     string          `json:"agent_id"`
	AgentTrust  float64         `json:"agent_trust"`
	Summary     string          `json:"summary"`
	Flags       []string        `json:"flags"`
	SLADeadline time.Time       `json:"sla_deadline"`
}

// Validate checks required fields
func (r *Request) Validate() error {
	if r.VerdictID == "" {
		return fmt.Errorf("verdict_id is required")
	}
	if r.Path == "" {
		return fmt.Errorf("path is required")
	}
	if !r.RiskGrade.IsValid() {
		return fmt.Errorf("invalid risk grade: %s", r.RiskGrade)
	}
	if r.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if r.SLADeadline.IsZero() {
		return fmt.Errorf("sla_deadline is required")
	}
	return nil
}

// Item is a stored request with its decision state
type Item struct {
	ID string `json:"id"`
	Request
	State     State      `json:"state"`
	QueuedAt  time.Time  `json:"queued_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
	DecidedBy string     `json:"decided_by,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Overdue reports whether a pending item has passed its deadline
func (i *Item) Overdue(now time.Time) bool {
	return i.State == StatePending && now.After(i.SLADeadline)
}

// Config configures a Queue
type Config struct {
	DB     *sql.DB
	Logger zerolog.Logger
	Now    func() time.Time
}

// Queue is the approval_queue table
type Queue struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

// New returns a Queue over an already migrated database
func New(cfg Config) (*Queue, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("approval queue requires a database")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		db:     cfg.DB,
		logger: cfg.Logger.With().Str("component", "approval").Logger(),
		now:    cfg.Now,
	}, nil
}

// Enqueue stores req as pending and returns its ID
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", fmt.Errorf("invalid approval request: %w", err)
	}
	flags := req.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return "", fmt.Errorf("failed to encode flags: %w", err)
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO approval_queue (id, verdict_id, file_path, risk_grade, agent_did, agent_trust,
			summary, flags, state, queued_at, sla_deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, req.VerdictID, req.Path, string(req.RiskGrade), req.AgentID, req.AgentTrust,
		req.Summary, string(flagsJSON), string(StatePending),
		storage.FormatTime(q.now()), storage.FormatTime(req.SLADeadline))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue approval request: %w", err)
	}

	q.logger.Info().
		Str("id", id).
		Str("path", req.Path).
		Str("agent_id", req.AgentID).
		Time("sla_deadline", req.SLADeadline).
		Msg("approval request queued")
	return id, nil
}

// Get returns one item
func (q *Queue) Get(ctx context.Context, id string) (*Item, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM approval_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval request %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Pending returns pending items, most urgent deadline first
func (q *Queue) Pending(ctx context.Context, limit int) ([]*Item, error) {
	return q.list(ctx, `WHERE state = ? ORDER BY sla_deadline ASC, queued_at ASC LIMIT ?`,
		string(StatePending), storage.ClampLimit(limit, MaxListLimit))
}

// List returns the most recently queued items in any state
func (q *Queue) List(ctx context.Context, limit int) ([]*Item, error) {
	return q.list(ctx, `ORDER BY queued_at DESC LIMIT ?`, storage.ClampLimit(limit, MaxListLimit))
}

// Decide approves or rejects a pending item
func (q *Queue) Decide(ctx context.Context, id string, approve bool, decidedBy, notes string) error {
	if decidedBy == "" {
		return fmt.Errorf("decided_by is required")
	}
	state := StateRejected
	if approve {
		state = StateApproved
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE approval_queue SET state = ?, decided_at = ?, decided_by = ?, notes = ?
		WHERE id = ? AND state = ?
	`, string(state), storage.FormatTime(q.now()), decidedBy, notes, id, string(StatePending))
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check decision result: %w", err)
	}
	if n == 0 {
		if _, err := q.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("approval request %s: %w", id, ErrNotPending)
	}

	q.logger.Info().Str("id", id).Str("state", string(state)).Str("decided_by", decidedBy).Msg("approval decided")
	return nil
}

// ExpireOverdue moves pending items past their deadline to expired
func (q *Queue) ExpireOverdue(ctx context.Context) (int, error) {
	now := storage.FormatTime(q.now())
	res, err := q.db.ExecContext(ctx, `
		UPDATE approval_queue SET state = ?, decided_at = ?, decided_by = 'system'
		WHERE state = ? AND sla_deadline < ?
	`, string(StateExpired), now, string(StatePending), now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approval requests: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired approval requests: %w", err)
	}
	if n > 0 {
		q.logger.Warn().Int64("count", n).Msg("approval requests expired past SLA")
	}
	return int(n), nil
}

// Counts returns the number of items per state
func (q *Queue) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM approval_queue GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count approval requests: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan approval count: %w", err)
		}
		counts[State(state)] = n
	}
	return counts, rows.Err()
}

const itemColumns = `id, verdict_id, file_path, risk_grade, agent_did, agent_trust, summary, flags,
	state, queued_at, sla_deadline, decided_at, decided_by, notes`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*Item, error) {
	var (
		item                        Item
		riskGrade, flags, state     string
		queuedAt, deadline          string
		decidedAt, decidedBy, notes sql.NullString
	)
	if err := s.Scan(&item.ID, &item.VerdictID, &item.Path, &riskGrade, &item.AgentID, &item.AgentTrust,
		&item.Summary, &flags, &state, &queuedAt, &deadline, &decidedAt, &decidedBy, &notes); err != nil {
		return nil, err
	}

	item.RiskGrade = types.RiskGrade(riskGrade)
	item.State = State(state)
	item.DecidedBy = decidedBy.String
	item.Notes = notes.String
	if err := json.Unmarshal([]byte(flags), &item.Flags); err != nil {
		return nil, fmt.Errorf("approval request %s: invalid flags: %w", item.ID, err)
	}

	var err error
	if item.QueuedAt, err = storage.ParseTime(queuedAt); err != nil {
		return nil, err
	}
	if item.SLADeadline, err = storage.ParseTime(deadline); err != nil {
		return nil, err
	}
	if item.DecidedAt, err = storage.ParseNullTime(decidedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *Queue) list(ctx context.Context, clause string, args ...any) ([]*Item, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+itemColumns+` FROM approval_queue `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query approval queue: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			q.logger.Warn().Err(err).Msg("skipping corrupt approval row")
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
