// Package memory is the agent's long-term note store: role-tagged text
// entries written only on explicit user request ("remember this ...").
// Command output is never stored automatically.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one remembered item.
type Entry struct {
	ID        int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// ErrEmptyContent is returned when asked to remember nothing.
var ErrEmptyContent = errors.New("empty memory content")

// Store wraps the SQLite database holding memory entries.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Add stores one role-tagged entry.
func (s *Store) Add(ctx context.Context, role, content string) (Entry, error) {
	if content == "" {
		return Entry{}, ErrEmptyContent
	}
	if role == "" {
		role = "user"
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO memory_entries (role, content) VALUES (?, ?)", role, content)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to insert memory entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return Entry{ID: id, Role: role, Content: content, CreatedAt: time.Now()}, nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, created_at FROM memory_entries ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memory_entries").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count memory entries: %w", err)
	}
	return n, nil
}
