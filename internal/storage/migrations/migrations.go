// Package migrations applies versioned schema changes to the sentinel database.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Migration is a single schema change
type Migration struct {
	Version     int
	Description string
	Up          string // SQL applying the change
	Down        string // SQL reverting it
}

// Manager holds registered migrations
type Manager struct {
	migrations []Migration
}

// NewManager creates an empty migration manager
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a migration
func (m *Manager) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// Migrations returns the registered migrations sorted by version
func (m *Manager) Migrations() []Migration {
	sorted := append([]Migration(nil), m.migrations...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Version < sorted[j].Version
	})
	return sorted
}

// ApplySQLite applies every migration newer than the recorded schema version.
// Each migration runs in its own transaction.
func (m *Manager) ApplySQLite(ctx context.Context, db *sql.DB) error {
	if err := createVersionTable(ctx, db); err != nil {
		return fmt.Errorf("failed to create version table: %w", err)
	}

	current, err := Version(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	for _, migration := range m.Migrations() {
		if migration.Version <= current {
			continue
		}
		if err := apply(ctx, db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
	}
	return nil
}

// RollbackSQLite reverts the most recently applied migration
func (m *Manager) RollbackSQLite(ctx context.Context, db *sql.DB) error {
	current, err := Version(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	for _, migration := range m.Migrations() {
		if migration.Version == current {
			if err := rollback(ctx, db, migration); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
			}
			return nil
		}
	}
	return fmt.Errorf("migration %d not found", current)
}

// Version returns the highest applied migration, 0 on a fresh database
func Version(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

func createVersionTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

func apply(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)",
		migration.Version, migration.Description, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func rollback(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}
