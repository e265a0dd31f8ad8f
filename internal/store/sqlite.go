// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Owns schema creation; the unordered conversation pair is unique via an expression index

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// timeLayout is RFC3339 with a fixed-width fractional second. Message and
// read-marker timestamps are compared as strings in SQL, so the width must
// not vary with trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps the pragmas below in effect for every
	// statement and sidesteps SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	// WAL mode for better concurrent read/write behavior
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// Writers wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			username      TEXT NOT NULL UNIQUE,
			avatar_url    TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL DEFAULT '',
			created_at    DATETIME NOT NULL,
			updated_at    DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			token      TEXT NOT NULL UNIQUE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			user_a_id       TEXT NOT NULL,
			user_b_id       TEXT NOT NULL,
			user_a_name     TEXT NOT NULL,
			user_b_name     TEXT NOT NULL,
			user_a_username TEXT NOT NULL,
			user_b_username TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,
			FOREIGN KEY (user_a_id) REFERENCES users(id),
			FOREIGN KEY (user_b_id) REFERENCES users(id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair
			ON conversations(min(user_a_id, user_b_id), max(user_a_id, user_b_id));

		CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations(user_a_id, updated_at);
		CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations(user_b_id, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			sender_name     TEXT NOT NULL,
			sender_username TEXT NOT NULL,
			body            TEXT NOT NULL,
			client_key      TEXT,
			created_at      DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_order
			ON messages(conversation_id, created_at, id);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_client_key
			ON messages(conversation_id, sender_id, client_key)
			WHERE client_key IS NOT NULL;

		CREATE TABLE IF NOT EXISTS conversation_reads (
			user_id         TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			last_read_at    DATETIME NOT NULL,
			PRIMARY KEY (user_id, conversation_id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueConstraintError reports whether err is a SQLite unique constraint violation
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
