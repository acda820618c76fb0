package genome

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qorelogic/sentinel/internal/config"
	"github.com/qorelogic/sentinel/internal/ledger"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

const pruneBatchSize = 500

// Terminal statuses age out on the resolved window, everything else on the
// unresolved window
const (
	terminalPredicate    = `remediation_status IN ('RESOLVED', 'WONT_FIX', 'SUPERSEDED')`
	nonTerminalPredicate = `remediation_status NOT IN ('RESOLVED', 'WONT_FIX', 'SUPERSEDED')`
)

// PruneResult reports one retention run
type PruneResult struct {
	ResolvedPruned   int    `json:"resolved_pruned"`
	UnresolvedPruned int    `json:"unresolved_pruned"`
	TotalPruned      int    `json:"total_pruned"`
	ArchivedCount    int    `json:"archived_count"`
	ArchivePath      string `json:"archive_path,omitempty"`
	// Unreadable rows could not be archived and are left in place
	Unreadable int `json:"unreadable,omitempty"`
}

// RetentionStats summarizes the table against the retention windows
type RetentionStats struct {
	TotalEntries         int                       `json:"total_entries"`
	ResolvedEntries      int                       `json:"resolved_entries"`
	UnresolvedEntries    int                       `json:"unresolved_entries"`
	OldestEntry          *time.Time                `json:"oldest_entry,omitempty"`
	NewestEntry          *time.Time                `json:"newest_entry,omitempty"`
	OverResolvedWindow   int                       `json:"over_resolved_window"`
	OverUnresolvedWindow int                       `json:"over_unresolved_window"`
	EstimatedPruneCount  int                       `json:"estimated_prune_count"`
	ByFailureMode        map[types.FailureMode]int `json:"by_failure_mode"`
}

// coldArchive is the on-disk layout of an archive file
type coldArchive struct {
	ExportedAt      time.Time                  `json:"exportedAt"`
	RetentionPolicy archivePolicy              `json:"retentionPolicy"`
	EntryCount      int                        `json:"entryCount"`
	OldestEntry     *time.Time                 `json:"oldestEntry,omitempty"`
	NewestEntry     *time.Time                 `json:"newestEntry,omitempty"`
	Entries         []*types.ShadowGenomeEntry `json:"entries"`
}

type archivePolicy struct {
	ResolvedRetentionDays   int       `json:"resolvedRetentionDays"`
	UnresolvedRetentionDays int       `json:"unresolvedRetentionDays"`
	ResolvedCutoff          time.Time `json:"resolvedCutoff"`
	UnresolvedCutoff        time.Time `json:"unresolvedCutoff"`
}

// Prune deletes terminal entries older than the resolved window and open
// entries older than the unresolved window. With ArchiveBeforePrune set the
// doomed rows are written to a JSON file under ArchiveDir first and only
// the archived rows are deleted; if the archive fails nothing is deleted.
func (s *Store) Prune(ctx context.Context, cfg config.GenomeRetentionConfig) (PruneResult, error) {
	var result PruneResult
	if err := cfg.Validate(); err != nil {
		return result, fmt.Errorf("invalid retention config: %w", err)
	}

	now := s.now().UTC()
	resolvedCutoff := now.AddDate(0, 0, -cfg.ResolvedRetentionDays)
	unresolvedCutoff := now.AddDate(0, 0, -cfg.UnresolvedRetentionDays)

	if cfg.ArchiveBeforePrune {
		cold, err := s.archiveCold(ctx, cfg, now, resolvedCutoff, unresolvedCutoff)
		if err != nil {
			return result, err
		}
		result.ArchivePath = cold.path
		result.ArchivedCount = len(cold.entries)
		result.Unreadable = cold.unreadable
		if err := s.deleteArchived(ctx, cold.entries, &result); err != nil {
			return result, err
		}
	} else {
		var err error
		if result.ResolvedPruned, err = s.deleteBatched(ctx, terminalPredicate, resolvedCutoff); err != nil {
			return result, fmt.Errorf("failed to prune resolved entries: %w", err)
		}
		if result.UnresolvedPruned, err = s.deleteBatched(ctx, nonTerminalPredicate, unresolvedCutoff); err != nil {
			return result, fmt.Errorf("failed to prune unresolved entries: %w", err)
		}
	}
	result.TotalPruned = result.ResolvedPruned + result.UnresolvedPruned

	if result.TotalPruned > 0 {
		s.logger.Info().Int("resolved", result.ResolvedPruned).Int("unresolved", result.UnresolvedPruned).
			Str("archive", result.ArchivePath).Msg("genome pruned")
		if s.ledger != nil {
			if _, err := s.ledger.AppendEntry(ctx, ledger.AppendRequest{
				EventType: types.LedgerRetentionPrune,
				AgentID:   "did:myth:system:genome",
				Payload:   result,
			}); err != nil {
				return result, fmt.Errorf("failed to record prune: %w", err)
			}
		}
	}
	return result, nil
}

func (s *Store) deleteBatched(ctx context.Context, predicate string, cutoff time.Time) (int, error) {
	total := 0
	query := fmt.Sprintf(`
		DELETE FROM shadow_genome
		WHERE id IN (
			SELECT id FROM shadow_genome
			WHERE %s AND created_at < ?
			ORDER BY created_at ASC
			LIMIT ?
		)
	`, predicate)

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		res, err := s.db.ExecContext(ctx, query, storage.FormatTime(cutoff), pruneBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to execute delete: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += int(n)
		if n < pruneBatchSize {
			return total, nil
		}
	}
}

// deleteArchived removes exactly the archived entries, in batches
func (s *Store) deleteArchived(ctx context.Context, entries []*types.ShadowGenomeEntry, result *PruneResult) error {
	for start := 0; start < len(entries); start += pruneBatchSize {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch := entries[start:min(start+pruneBatchSize, len(entries))]
		args := make([]any, len(batch))
		for i, e := range batch {
			args[i] = e.ID
		}
		query := `DELETE FROM shadow_genome WHERE id IN (?` + strings.Repeat(",?", len(batch)-1) + `)`
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to prune archived entries: %w", err)
		}
		for _, e := range batch {
			if e.RemediationStatus.IsTerminal() {
				result.ResolvedPruned++
			} else {
				result.UnresolvedPruned++
			}
		}
	}
	return nil
}

type coldSet struct {
	path       string
	entries    []*types.ShadowGenomeEntry
	unreadable int
}

func (s *Store) archiveCold(ctx context.Context, cfg config.GenomeRetentionConfig, now, resolvedCutoff, unresolvedCutoff time.Time) (coldSet, error) {
	var cold coldSet
	query := fmt.Sprintf(`SELECT %s FROM shadow_genome
		WHERE (%s AND created_at < ?) OR (%s AND created_at < ?)
		ORDER BY created_at ASC, id ASC`, entryColumns, terminalPredicate, nonTerminalPredicate)
	rows, err := s.db.QueryContext(ctx, query, storage.FormatTime(resolvedCutoff), storage.FormatTime(unresolvedCutoff))
	if err != nil {
		return cold, fmt.Errorf("failed to select entries to archive: %w", err)
	}
	var entries []*types.ShadowGenomeEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn().Err(err).Msg("unreadable entry left unarchived and unpruned")
			cold.unreadable++
			continue
		}
		entries = append(entries, entry)
	}
	closeErr := rows.Close()
	if err := rows.Err(); err != nil {
		return cold, fmt.Errorf("error iterating entries to archive: %w", err)
	}
	if closeErr != nil {
		return cold, fmt.Errorf("failed to close archive query: %w", closeErr)
	}
	if len(entries) == 0 {
		return cold, nil
	}

	archive := coldArchive{
		ExportedAt: now,
		RetentionPolicy: archivePolicy{
			ResolvedRetentionDays:   cfg.ResolvedRetentionDays,
			UnresolvedRetentionDays: cfg.UnresolvedRetentionDays,
			ResolvedCutoff:          resolvedCutoff,
			UnresolvedCutoff:        unresolvedCutoff,
		},
		EntryCount:  len(entries),
		OldestEntry: &entries[0].CreatedAt,
		NewestEntry: &entries[len(entries)-1].CreatedAt,
		Entries:     entries,
	}
	data, err := json.MarshalIndent(archive, "", "  ")
	if err != nil {
		return cold, fmt.Errorf("failed to encode archive: %w", err)
	}

	if err := os.MkdirAll(cfg.ArchiveDir, 0755); err != nil {
		return cold, fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(cfg.ArchiveDir, fmt.Sprintf("shadow_genome_%s.json", now.Format("20060102T150405.000000000Z")))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return cold, fmt.Errorf("failed to write archive: %w", err)
	}
	cold.path = path
	cold.entries = entries
	return cold, nil
}

// RetentionStats reports how the table sits against cfg's windows
func (s *Store) RetentionStats(ctx context.Context, cfg config.GenomeRetentionConfig) (RetentionStats, error) {
	stats := RetentionStats{ByFailureMode: make(map[types.FailureMode]int)}
	now := s.now().UTC()
	resolvedCutoff := storage.FormatTime(now.AddDate(0, 0, -cfg.ResolvedRetentionDays))
	unresolvedCutoff := storage.FormatTime(now.AddDate(0, 0, -cfg.UnresolvedRetentionDays))

	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN %[1]s THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN remediation_status = 'UNRESOLVED' THEN 1 ELSE 0 END), 0),
			MIN(created_at),
			MAX(created_at),
			COALESCE(SUM(CASE WHEN created_at < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN (%[1]s AND created_at < ?) OR (%[2]s AND created_at < ?) THEN 1 ELSE 0 END), 0)
		FROM shadow_genome
	`, terminalPredicate, nonTerminalPredicate),
		resolvedCutoff, unresolvedCutoff, resolvedCutoff, unresolvedCutoff,
	).Scan(&stats.TotalEntries, &stats.ResolvedEntries, &stats.UnresolvedEntries, &oldest, &newest,
		&stats.OverResolvedWindow, &stats.OverUnresolvedWindow, &stats.EstimatedPruneCount)
	if err != nil {
		return stats, fmt.Errorf("failed to compute retention stats: %w", err)
	}
	if stats.OldestEntry, err = storage.ParseNullTime(oldest); err != nil {
		return stats, err
	}
	if stats.NewestEntry, err = storage.ParseNullTime(newest); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT failure_mode, COUNT(*) FROM shadow_genome GROUP BY failure_mode`)
	if err != nil {
		return stats, fmt.Errorf("failed to count by failure mode: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return stats, fmt.Errorf("failed to scan failure mode count: %w", err)
		}
		stats.ByFailureMode[types.FailureMode(mode)] = n
	}
	return stats, rows.Err()
}
