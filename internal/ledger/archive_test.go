package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

func TestArchiveExportsOldEntries(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := Open(ctx, Config{DB: db, Secrets: NewMemorySecretStore(), Logger: logging.NewTestLogger(), Now: func() time.Time { return now }})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now = now.Add(24 * time.Hour)
		_, err := m.AppendEntry(ctx, AppendRequest{
			EventType: types.LedgerAuditPass,
			AgentID:   "did:myth:scrivener:01",
			Payload:   map[string]any{"n": i},
		})
		require.NoError(t, err)
	}

	// genesis on Jan 1 plus the entries of Jan 2 and Jan 3
	cutoff := time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)
	dir := filepath.Join(t.TempDir(), "archive")
	res, err := m.Archive(ctx, cutoff, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Archived)
	assert.Len(t, res.Hash, 64)
	assert.Equal(t, filepath.Join(dir, "ledger-archive-"+res.Hash[:12]+".json.gz"), res.Path)

	f, err := os.Open(res.Path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	sum := sha256.Sum256(raw)
	assert.Equal(t, res.Hash, hex.EncodeToString(sum[:]))

	var exported []types.LedgerEntry
	require.NoError(t, json.Unmarshal(raw, &exported))
	require.Len(t, exported, 3)
	assert.Equal(t, GenesisAgentID, exported[0].AgentID, "oldest first")

	events, err := m.EntriesByType(ctx, types.LedgerSystemEvent, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.EntryID, events[0].ID)
	assert.Equal(t, RetentionAgentID, events[0].AgentID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, ActionLedgerArchived, payload["action"])
	assert.Equal(t, res.Hash, payload["archiveHash"])

	n, err := m.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n, "archived entries stay in the chain")

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)
}

func TestArchiveWithNothingOld(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupLedger(t)
	dir := filepath.Join(t.TempDir(), "archive")

	res, err := m.Archive(ctx, time.Now().Add(-time.Hour), dir)
	require.NoError(t, err)
	assert.Zero(t, res.Archived)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
	n, err := m.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
