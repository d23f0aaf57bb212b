// Package localstore implements the repositories on an embedded SQLite file,
// for local runs and tests.
package localstore

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Scheme prefixes a DATABASE_URL that should be served by this package.
const Scheme = "sqlite://"

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// IsLocalURL reports whether databaseURL selects the SQLite backend.
func IsLocalURL(databaseURL string) bool {
	return strings.HasPrefix(databaseURL, Scheme)
}

// Open opens the database named by a sqlite:// URL (or a bare path) and
// creates tables if needed. ":memory:" yields a private in-memory database.
func Open(databaseURL string) (*sql.DB, error) {
	path := strings.TrimPrefix(databaseURL, Scheme)
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path in %q", databaseURL)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per-connection and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Execute schema
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
