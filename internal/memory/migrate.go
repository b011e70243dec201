package memory

import (
	"database/sql"
	"fmt"
)

// migration is one versioned schema step. Migrations are embedded rather
// than read from disk so the binary is self-contained.
type migration struct {
	version string
	up      string
}

var migrations = []migration{
	{
		version: "000001_create_memory_entries",
		up: `
		CREATE TABLE IF NOT EXISTS memory_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
		`,
	},
	{
		version: "000002_index_memory_entries_created_at",
		up: `
		CREATE INDEX IF NOT EXISTS idx_memory_entries_created_at
		ON memory_entries(created_at)
		`,
	},
}

// migrate runs all pending migrations in order.
func migrate(db *sql.DB) error {
	if err := createMigrationsTable(db); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := isMigrationApplied(db, m.version)
		if err != nil {
			return fmt.Errorf("failed to check migration status: %w", err)
		}
		if applied {
			continue
		}
		if err := executeMigration(db, m.version, m.up); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", m.version, err)
		}
	}
	return nil
}

func createMigrationsTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)
	`
	_, err := db.Exec(query)
	return err
}

func isMigrationApplied(db *sql.DB, version string) (bool, error) {
	var count int
	query := "SELECT COUNT(*) FROM schema_migrations WHERE version = ?"
	err := db.QueryRow(query, version).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func executeMigration(db *sql.DB, version, content string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}
