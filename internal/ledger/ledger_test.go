package ledger

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/logging"
	"github.com/qorelogic/sentinel/internal/storage"
	"github.com/qorelogic/sentinel/internal/types"
)

func setupLedger(t *testing.T) (*Manager, *sql.DB, *MemorySecretStore) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	secrets := NewMemorySecretStore()
	m, err := Open(ctx, Config{DB: db, Secrets: secrets, Logger: logging.NewTestLogger()})
	require.NoError(t, err)
	return m, db, secrets
}

func TestOpenWritesGenesis(t *testing.T) {
	ctx := context.Background()
	m, _, secrets := setupLedger(t)

	n, err := m.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := m.RecentEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.LedgerSystemEvent, entries[0].EventType)
	assert.Equal(t, GenesisAgentID, entries[0].AgentID)
	assert.Equal(t, GenesisPrevHash, entries[0].PrevHash)

	secret, err := secrets.Get(ctx, SecretKey)
	require.NoError(t, err)
	assert.Len(t, secret, 64)
}

func TestAppendLinksChain(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupLedger(t)

	prev := m.HeadHash()
	for i := 0; i < 5; i++ {
		trust := 0.35
		entry, err := m.AppendEntry(ctx, AppendRequest{
			EventType:          types.LedgerAuditPass,
			AgentID:            "did:myth:scrivener:01",
			AgentTrustAtAction: &trust,
			ArtifactPath:       "src/a.ts",
			Payload:            map[string]any{"n": i, "decision": "PASS"},
		})
		require.NoError(t, err)
		assert.Equal(t, prev, entry.PrevHash)
		assert.Equal(t, entry.EntryHash, m.HeadHash())
		prev = entry.EntryHash
	}

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)
	assert.Equal(t, 6, report.Entries)
}

func TestVerifyDetectsPayloadTampering(t *testing.T) {
	ctx := context.Background()
	m, db, _ := setupLedger(t)

	entry, err := m.AppendEntry(ctx, AppendRequest{
		EventType: types.LedgerAuditFail,
		AgentID:   "did:myth:scrivener:01",
		Payload:   map[string]string{"decision": "BLOCK"},
	})
	require.NoError(t, err)
	_, err = m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:scrivener:01"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE soa_ledger SET payload = ? WHERE id = ?`, `{"decision":"PASS"}`, entry.ID)
	require.NoError(t, err)

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, entry.ID, report.BrokenAt)
	assert.Equal(t, "entry hash mismatch", report.Reason)
}

func TestVerifyDetectsForgedEntry(t *testing.T) {
	ctx := context.Background()
	m, db, _ := setupLedger(t)

	entry, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:judge:01"})
	require.NoError(t, err)

	// recompute the hash but sign with the wrong key
	payload, _ := Canonicalize(map[string]string{"forged": "yes"})
	var ts string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT timestamp FROM soa_ledger WHERE id = ?`, entry.ID).Scan(&ts))
	hash, err := ComputeHash(ts, types.LedgerAuditPass, "did:myth:judge:01", payload, entry.PrevHash)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `UPDATE soa_ledger SET payload = ?, entry_hash = ?, signature = ? WHERE id = ?`,
		string(payload), hash, Sign(hash, "0123456789abcdef0123456789abcdef"), entry.ID)
	require.NoError(t, err)

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, "signature mismatch", report.Reason)
}

func TestVerifyDetectsBrokenLink(t *testing.T) {
	ctx := context.Background()
	m, db, _ := setupLedger(t)

	_, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:judge:01"})
	require.NoError(t, err)
	second, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:judge:01"})
	require.NoError(t, err)

	// delete the middle entry; the survivor's prev hash no longer links
	_, err = db.ExecContext(ctx, `DELETE FROM soa_ledger WHERE id = ?`, second.ID-1)
	require.NoError(t, err)

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, second.ID, report.BrokenAt)
	assert.Equal(t, "prev hash mismatch", report.Reason)
}

func TestPlaceholderSecretFailsClosed(t *testing.T) {
	ctx := context.Background()
	m, db, secrets := setupLedger(t)
	_, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:judge:01"})
	require.NoError(t, err)

	require.NoError(t, secrets.Put(ctx, SecretKey, "PLACEHOLDER_SECRET_DO_NOT_USE_0000000"))

	reopened, err := Open(ctx, Config{DB: db, Secrets: secrets, Logger: logging.NewTestLogger()})
	require.NoError(t, err)

	report, err := reopened.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.Entries)

	_, err = reopened.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:judge:01"})
	assert.ErrorIs(t, err, ErrSecretUnavailable)
}

func TestReopenContinuesChain(t *testing.T) {
	ctx := context.Background()
	m, db, secrets := setupLedger(t)
	head := m.HeadHash()

	reopened, err := Open(ctx, Config{DB: db, Secrets: secrets, Logger: logging.NewTestLogger()})
	require.NoError(t, err)
	assert.Equal(t, head, reopened.HeadHash())

	entry, err := reopened.AppendEntry(ctx, AppendRequest{EventType: types.LedgerTrustUpdate, AgentID: "did:myth:judge:01"})
	require.NoError(t, err)
	assert.Equal(t, head, entry.PrevHash)

	n, err := reopened.EntryCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestComputeHashDeterministic(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": []int{1, 2}})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"a": []int{1, 2}, "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":[1,2],"b":1}`, string(a))

	h1, err := ComputeHash("2026-01-01T00:00:00Z", types.LedgerAuditPass, "agent", a, GenesisPrevHash)
	require.NoError(t, err)
	h2, err := ComputeHash("2026-01-01T00:00:00Z", types.LedgerAuditPass, "agent", b, GenesisPrevHash)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := ComputeHash("2026-01-01T00:00:01Z", types.LedgerAuditPass, "agent", a, GenesisPrevHash)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestReadLimits(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupLedger(t)

	for i := 0; i < 3; i++ {
		_, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditFail, AgentID: "did:myth:a:1"})
		require.NoError(t, err)
	}
	_, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerTrustUpdate, AgentID: "did:myth:b:2"})
	require.NoError(t, err)

	recent, err := m.RecentEntries(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Greater(t, recent[0].ID, recent[1].ID, "newest first")

	byType, err := m.EntriesByType(ctx, types.LedgerAuditFail, 100)
	require.NoError(t, err)
	assert.Len(t, byType, 3)

	byAgent, err := m.EntriesByAgent(ctx, "did:myth:b:2", 0)
	require.NoError(t, err)
	assert.Len(t, byAgent, 1, "limit below 1 is clamped to 1")
}

func TestAppendRejectsInvalidRequest(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupLedger(t)

	_, err := m.AppendEntry(ctx, AppendRequest{EventType: "BOGUS", AgentID: "a"})
	assert.Error(t, err)
	_, err = m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass})
	assert.Error(t, err)
}

func TestConcurrentAppendsKeepChainValid(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setupLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.AppendEntry(ctx, AppendRequest{EventType: types.LedgerAuditPass, AgentID: "did:myth:a:1", Payload: i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := m.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Reason)
	assert.Equal(t, 9, report.Entries)
}

func TestFileSecretStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "secrets")
	store := NewFileSecretStore(dir)

	_, err := store.Get(ctx, SecretKey)
	assert.ErrorIs(t, err, ErrSecretNotFound)

	require.NoError(t, store.Put(ctx, SecretKey, "s3cret"))
	v, err := store.Get(ctx, SecretKey)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", v)

	info, err := os.Stat(filepath.Join(dir, SecretKey))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Error(t, store.Put(ctx, "../escape", "x"))
}

func TestClockIsUsedForTimestamps(t *testing.T) {
	ctx := context.Background()
	db, err := storage.Open(ctx, ":memory:")
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	m, err := Open(ctx, Config{DB: db, Secrets: NewMemorySecretStore(), Logger: logging.NewTestLogger(), Now: func() time.Time { return fixed }})
	require.NoError(t, err)

	entries, err := m.RecentEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, fixed.Equal(entries[0].Timestamp))
}
