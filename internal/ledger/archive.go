package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

const (
	// MaxArchiveEntries bounds one archive export
	MaxArchiveEntries = 10000
	// RetentionAgentID authors LEDGER_ARCHIVED entries
	RetentionAgentID = "did:myth:system:retention"
	// ActionLedgerArchived tags the SYSTEM_EVENT recorded for an export
	ActionLedgerArchived = "LEDGER_ARCHIVED"
)

// ArchiveResult describes one archive export
type ArchiveResult struct {
	Archived int    `json:"archived"`
	Hash     string `json:"hash,omitempty"`
	Path     string `json:"path,omitempty"`
	EntryID  int64  `json:"entry_id,omitempty"`
}

// Archive exports entries older than olderThan, oldest first, to a gzipped
// JSON file in dir named after the SHA-256 of the uncompressed export, and
// records the export as a SYSTEM_EVENT. Exported entries stay in the chain.
func (m *Manager) Archive(ctx context.Context, olderThan time.Time, dir string) (ArchiveResult, error) {
	entries, err := m.scanEntries(ctx,
		"SELECT "+entryColumns+" FROM soa_ledger WHERE timestamp < ? ORDER BY id ASC LIMIT ?",
		storage.FormatTime(olderThan), MaxArchiveEntries)
	if err != nil {
		return ArchiveResult{}, err
	}
	if len(entries) == 0 {
		return ArchiveResult{}, nil
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to encode ledger archive: %w", err)
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	if err := os.MkdirAll(dir, 0755); err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to create archive directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("ledger-archive-%s.json.gz", hash[:12]))
	if err := writeGzip(path, data); err != nil {
		return ArchiveResult{}, err
	}

	entry, err := m.AppendEntry(ctx, AppendRequest{
		EventType:          types.LedgerSystemEvent,
		AgentID:            RetentionAgentID,
		VerificationResult: ActionLedgerArchived,
		Payload: map[string]any{
			"action":      ActionLedgerArchived,
			"archiveHash": hash,
			"count":       len(entries),
			"path":        path,
		},
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to record ledger archive: %w", err)
	}

	m.logger.Info().Int("count", len(entries)).Str("path", path).Str("hash", hash).Msg("ledger entries archived")
	return ArchiveResult{Archived: len(entries), Hash: hash, Path: path, EntryID: entry.ID}, nil
}

func writeGzip(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write ledger archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to flush ledger archive: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close ledger archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move ledger archive into place: %w", err)
	}
	return nil
}
