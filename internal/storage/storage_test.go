package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qorelogic/sentinel/internal/storage/migrations"
)

func TestOpenAppliesMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sentinel.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()

	version, err := migrations.Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 5, version)

	for _, table := range []string{"soa_ledger", "agent_trust", "shadow_genome", "approval_queue", "sentinel_observations"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}

	// reopening an existing database is fine
	db.Close()
	db2, err := Open(ctx, path)
	require.NoError(t, err)
	db2.Close()
}

func TestTimeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 30, 45, 123456789, time.UTC)
	parsed, err := ParseTime(FormatTime(now))
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))

	nt, err := ParseNullTime(NullTime(nil))
	require.NoError(t, err)
	assert.Nil(t, nt)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, ClampLimit(0, 500))
	assert.Equal(t, 1, ClampLimit(-3, 500))
	assert.Equal(t, 50, ClampLimit(50, 500))
	assert.Equal(t, 500, ClampLimit(10000, 500))
}

func TestFindWorkspace(t *testing.T) {
	t.Setenv("SENTINEL_WORKSPACE", "")
	root := t.TempDir()
	_, err := InitWorkspace(root)
	require.NoError(t, err)

	deep := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(deep, 0755))

	found, err := FindWorkspace(deep)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(root)
	got, _ := filepath.EvalSymlinks(found)
	assert.Equal(t, want, got)

	_, err = FindWorkspace(t.TempDir())
	assert.Error(t, err)
}

func TestWorkspaceLock(t *testing.T) {
	root := t.TempDir()

	lockPath, err := AcquireWorkspaceLock(root, "test")
	require.NoError(t, err)

	// we are alive, so a second acquire fails
	_, err = AcquireWorkspaceLock(root, "test")
	assert.ErrorIs(t, err, ErrWorkspaceLocked)

	require.NoError(t, ReleaseWorkspaceLock(lockPath))
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, ReleaseWorkspaceLock(""))
}

func TestWorkspaceLockTakesOverStaleLock(t *testing.T) {
	root := t.TempDir()
	hostname, err := os.Hostname()
	require.NoError(t, err)

	stale, err := json.Marshal(WorkspaceLock{Holder: "sentinel-daemon", PID: 999999999, Hostname: hostname})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, StateDirName), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, StateDirName, ".exclusive-lock"), stale, 0644))

	lockPath, err := AcquireWorkspaceLock(root, "test")
	require.NoError(t, err)
	defer ReleaseWorkspaceLock(lockPath)

	data, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	var lock WorkspaceLock
	require.NoError(t, json.Unmarshal(data, &lock))
	assert.Equal(t, os.Getpid(), lock.PID)
}

func TestFormatTimeSortsLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := FormatTime(base)
	later := FormatTime(base.Add(500 * time.Millisecond))
	assert.Less(t, earlier, later)
	assert.Len(t, later, len(earlier))
}
