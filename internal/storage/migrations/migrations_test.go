package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var widgets = Migration{
	Version:     1,
	Description: "add widgets",
	Up: `
		CREATE TABLE IF NOT EXISTS widgets (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`,
	Down: `DROP TABLE IF EXISTS widgets`,
}

var gadgets = Migration{
	Version:     2,
	Description: "add gadgets",
	Up:          `CREATE TABLE IF NOT EXISTS gadgets (id INTEGER PRIMARY KEY)`,
	Down:        `DROP TABLE IF EXISTS gadgets`,
}

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager()
	// registered out of order on purpose
	manager.Register(gadgets)
	manager.Register(widgets)

	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	version, err := Version(ctx, db)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if _, err := db.Exec("INSERT INTO widgets (id, name) VALUES (1, 'w')"); err != nil {
		t.Fatalf("widgets table not created: %v", err)
	}

	// re-applying is a no-op
	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if err := manager.RollbackSQLite(ctx, db); err != nil {
		t.Fatalf("failed to rollback: %v", err)
	}
	version, _ = Version(ctx, db)
	if version != 1 {
		t.Errorf("expected version 1 after rollback, got %d", version)
	}
	if _, err := db.Exec("INSERT INTO gadgets (id) VALUES (1)"); err == nil {
		t.Error("gadgets table should have been dropped")
	}
}

func TestRollbackEmpty(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager()
	if err := manager.ApplySQLite(ctx, db); err != nil {
		t.Fatalf("apply on empty manager failed: %v", err)
	}
	if err := manager.RollbackSQLite(ctx, db); err == nil {
		t.Error("expected error rolling back with nothing applied")
	}
}

func TestFailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	manager := NewManager()
	manager.Register(widgets)
	manager.Register(Migration{Version: 2, Description: "broken", Up: "CREATE TABLE ("})

	if err := manager.ApplySQLite(ctx, db); err == nil {
		t.Fatal("expected broken migration to fail")
	}
	version, err := Version(ctx, db)
	if err != nil {
		t.Fatalf("failed to read version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected version 1, got %d", version)
	}
}
