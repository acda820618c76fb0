// Package genome archives failed verdicts as Shadow Genome entries and
// answers the learning queries built on them.
package genome

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

// MaxQueryLimit bounds list queries
const MaxQueryLimit = 500

// ErrPassingVerdict is returned when archiving a PASS verdict
var ErrPassingVerdict = errors.New("passing verdicts are not archived")

// LedgerAppender records remediation and retention events. Optional.
type LedgerAppender interface {
	AppendEntry(ctx context.Context, req ledger.AppendRequest) (*types.LedgerEntry, error)
}

// Config configures a Store
type Config struct {
	DB     *sql.DB
	Ledger LedgerAppender
	Logger zerolog.Logger
	Now    func() time.Time
}

// Store is the shadow_genome table
type Store struct {
	db     *sql.DB
	ledger LedgerAppender
	logger zerolog.Logger
	now    func() time.Time
}

// New returns a Store over an already migrated database
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("genome store requires a database")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		db:     cfg.DB,
		ledger: cfg.Ledger,
		logger: cfg.Logger.With().Str("component", "genome").Logger(),
		now:    cfg.Now,
	}, nil
}

// environment is the snapshot stored in environment_context
type environment struct {
	EventID     string          `json:"eventId"`
	RiskGrade   types.RiskGrade `json:"riskGrade"`
	Confidence  float64         `json:"confidence"`
	AgentTrust  float64         `json:"agentTrust"`
	Decision    types.Decision  `json:"decision"`
	Model       string          `json:"model,omitempty"`
	PatternsRun int             `json:"patternsRun"`
}

// Archive records a non-PASS verdict. The failure mode and negative
// constraint are derived from the verdict.
func (s *Store) Archive(ctx context.Context, v *types.Verdict) (*types.ShadowGenomeEntry, error) {
	if v == nil {
		return nil, fmt.Errorf("verdict is required")
	}
	if v.Decision == types.DecisionPass {
		return nil, ErrPassingVerdict
	}

	mode := ClassifyFailureMode(v.MatchedPatterns, v.Decision, v.ModelEvaluation)
	env := environment{
		EventID:     v.EventID,
		RiskGrade:   v.RiskGrade,
		Confidence:  v.Confidence,
		AgentTrust:  v.AgentTrustAtVerdict,
		Decision:    v.Decision,
		PatternsRun: len(v.HeuristicResults),
	}
	if v.ModelEvaluation != nil {
		env.Model = v.ModelEvaluation.Model
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode environment context: %w", err)
	}

	entry := &types.ShadowGenomeEntry{
		CreatedAt:          s.now().UTC(),
		LedgerRef:          v.LedgerEntryID,
		AgentID:            v.AgentID,
		InputVector:        v.ArtifactPath,
		DecisionRationale:  v.Summary,
		EnvironmentContext: string(envJSON),
		FailureMode:        mode,
		CausalVector:       v.Details,
		NegativeConstraint: NegativeConstraint(mode, v.Summary),
		RemediationStatus:  types.RemediationUnresolved,
	}

	var ledgerRef sql.NullInt64
	if entry.LedgerRef != nil {
		ledgerRef = sql.NullInt64{Int64: *entry.LedgerRef, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO shadow_genome (
			created_at, ledger_ref, agent_did, input_vector, decision_rationale,
			environment_context, failure_mode, causal_vector, negative_constraint,
			remediation_status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		storage.FormatTime(entry.CreatedAt), ledgerRef, entry.AgentID, entry.InputVector,
		entry.DecisionRationale, entry.EnvironmentContext, entry.FailureMode,
		entry.CausalVector, entry.NegativeConstraint, entry.RemediationStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to archive verdict %s: %w", v.ID, err)
	}
	if entry.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("failed to read genome entry id: %w", err)
	}

	s.logger.Info().Int64("entry", entry.ID).Str("agent", entry.AgentID).
		Str("mode", string(mode)).Str("path", entry.InputVector).Msg("failure archived")
	return entry, nil
}

// UpdateRemediationStatus moves an entry through triage. Terminal states
// stamp resolution metadata; other states only touch notes and updated_at.
func (s *Store) UpdateRemediationStatus(ctx context.Context, id int64, status types.RemediationStatus, notes, resolvedBy string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid remediation status: %s", status)
	}

	now := storage.FormatTime(s.now())
	terminal := status.IsTerminal()
	res, err := s.db.ExecContext(ctx, `
		UPDATE shadow_genome SET
			updated_at = ?,
			remediation_status = ?,
			remediation_notes = COALESCE(NULLIF(?, ''), remediation_notes),
			resolved_at = CASE WHEN ? THEN ? ELSE resolved_at END,
			resolved_by = CASE WHEN ? THEN NULLIF(?, '') ELSE resolved_by END
		WHERE id = ?
	`, now, status, notes, terminal, now, terminal, resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to update genome entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("genome entry %d: %w", id, storage.ErrNotFound)
	}

	if terminal && s.ledger != nil {
		if _, err := s.ledger.AppendEntry(ctx, ledger.AppendRequest{
			EventType:          types.LedgerGenomeResolved,
			AgentID:            resolverID(resolvedBy),
			VerificationResult: string(status),
			Payload: map[string]any{
				"entryId": id,
				"status":  status,
				"notes":   notes,
			},
		}); err != nil {
			return fmt.Errorf("failed to record resolution of genome entry %d: %w", id, err)
		}
	}
	return nil
}

func resolverID(resolvedBy string) string {
	if resolvedBy == "" {
		return "did:myth:system:genome"
	}
	return resolvedBy
}
