package genome

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

const entryColumns = `id, created_at, updated_at, ledger_ref, agent_did, input_vector,
	decision_rationale, environment_context, failure_mode, causal_vector,
	negative_constraint, remediation_status, remediation_notes, resolved_at, resolved_by`

// Get returns one entry by id
func (s *Store) Get(ctx context.Context, id int64) (*types.ShadowGenomeEntry, error) {
	entries, err := s.list(ctx, `WHERE id = ?`, []any{id}, "", 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("genome entry %d: %w", id, storage.ErrNotFound)
	}
	return entries[0], nil
}

// ByAgent returns an agent's entries, newest first
func (s *Store) ByAgent(ctx context.Context, agentID string, limit int) ([]*types.ShadowGenomeEntry, error) {
	return s.list(ctx, `WHERE agent_did = ?`, []any{agentID}, "ORDER BY id DESC", limit)
}

// ByFailureMode returns entries with the given mode, newest first
func (s *Store) ByFailureMode(ctx context.Context, mode types.FailureMode, limit int) ([]*types.ShadowGenomeEntry, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid failure mode: %s", mode)
	}
	return s.list(ctx, `WHERE failure_mode = ?`, []any{mode}, "ORDER BY id DESC", limit)
}

// Unresolved returns open entries, oldest first for triage
func (s *Store) Unresolved(ctx context.Context, limit int) ([]*types.ShadowGenomeEntry, error) {
	return s.list(ctx, `WHERE remediation_status = ?`, []any{types.RemediationUnresolved},
		"ORDER BY created_at ASC, id ASC", limit)
}

// Recent returns the newest entries regardless of status
func (s *Store) Recent(ctx context.Context, limit int) ([]*types.ShadowGenomeEntry, error) {
	return s.list(ctx, "", nil, "ORDER BY id DESC", limit)
}

// Count returns the number of stored entries
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shadow_genome`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count genome entries: %w", err)
	}
	return n, nil
}

// AnalyzePatterns groups unresolved entries by failure mode, most frequent
// first, with the distinct agents involved and up to three recent causes.
func (s *Store) AnalyzePatterns(ctx context.Context) ([]types.FailurePattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT failure_mode, agent_did, causal_vector
		FROM shadow_genome
		WHERE remediation_status = ?
		ORDER BY id DESC
	`, types.RemediationUnresolved)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze failure patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byMode := make(map[types.FailureMode]*types.FailurePattern)
	agents := make(map[types.FailureMode]map[string]bool)
	for rows.Next() {
		var mode, agent string
		var cause sql.NullString
		if err := rows.Scan(&mode, &agent, &cause); err != nil {
			return nil, fmt.Errorf("failed to scan failure pattern: %w", err)
		}
		fm := types.FailureMode(mode)
		p, ok := byMode[fm]
		if !ok {
			p = &types.FailurePattern{FailureMode: fm, AgentIDs: []string{}, RecentCauses: []string{}}
			byMode[fm] = p
			agents[fm] = make(map[string]bool)
		}
		p.Count++
		if !agents[fm][agent] {
			agents[fm][agent] = true
			p.AgentIDs = append(p.AgentIDs, agent)
		}
		if cause.Valid && cause.String != "" && len(p.RecentCauses) < 3 {
			p.RecentCauses = append(p.RecentCauses, cause.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating failure patterns: %w", err)
	}

	patterns := make([]types.FailurePattern, 0, len(byMode))
	for _, p := range byMode {
		sort.Strings(p.AgentIDs)
		patterns = append(patterns, *p)
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].FailureMode < patterns[j].FailureMode
	})
	return patterns, nil
}

// ConstraintsForAgent returns up to ten distinct negative constraints
// learned from the agent's failures, most recent first
func (s *Store) ConstraintsForAgent(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT negative_constraint
		FROM shadow_genome
		WHERE agent_did = ? AND negative_constraint IS NOT NULL AND negative_constraint != ''
		GROUP BY negative_constraint
		ORDER BY MAX(id) DESC
		LIMIT 10
	`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query constraints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan constraint: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) list(ctx context.Context, where string, args []any, order string, limit int) ([]*types.ShadowGenomeEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM shadow_genome %s %s LIMIT ?`, entryColumns, where, order)
	args = append(args, storage.ClampLimit(limit, MaxQueryLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query genome entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ShadowGenomeEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			// Corrupt rows are skipped rather than failing the whole query
			s.logger.Warn().Err(err).Msg("skipping unreadable genome entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

var errCorruptEntry = errors.New("corrupt genome entry")

func scanEntry(row scanner) (*types.ShadowGenomeEntry, error) {
	var (
		e                                 types.ShadowGenomeEntry
		created                           string
		updated, resolvedAt               sql.NullString
		ledgerRef                         sql.NullInt64
		rationale, env, cause, constraint sql.NullString
		mode, status                      string
		notes, resolvedBy                 sql.NullString
	)
	if err := row.Scan(&e.ID, &created, &updated, &ledgerRef, &e.AgentID, &e.InputVector,
		&rationale, &env, &mode, &cause, &constraint, &status, &notes, &resolvedAt, &resolvedBy); err != nil {
		return nil, fmt.Errorf("failed to scan genome entry: %w", err)
	}

	var err error
	if e.CreatedAt, err = storage.ParseTime(created); err != nil {
		return nil, fmt.Errorf("%w %d: %v", errCorruptEntry, e.ID, err)
	}
	if e.UpdatedAt, err = storage.ParseNullTime(updated); err != nil {
		return nil, fmt.Errorf("%w %d: %v", errCorruptEntry, e.ID, err)
	}
	if e.ResolvedAt, err = storage.ParseNullTime(resolvedAt); err != nil {
		return nil, fmt.Errorf("%w %d: %v", errCorruptEntry, e.ID, err)
	}
	e.FailureMode = types.FailureMode(mode)
	e.RemediationStatus = types.RemediationStatus(status)
	if !e.FailureMode.IsValid() || !e.RemediationStatus.IsValid() {
		return nil, fmt.Errorf("%w %d: mode=%s status=%s", errCorruptEntry, e.ID, mode, status)
	}
	if ledgerRef.Valid {
		ref := ledgerRef.Int64
		e.LedgerRef = &ref
	}
	e.DecisionRationale = rationale.String
	e.EnvironmentContext = env.String
	e.CausalVector = cause.String
	e.NegativeConstraint = constraint.String
	e.RemediationNotes = notes.String
	e.ResolvedBy = resolvedBy.String
	return &e, nil
}
