// ABOUTME: User persistence for the SQLite store
// ABOUTME: Provisioning, lookup and the chat-partner search query

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUser inserts a user row. Returns ErrUserExists when the email or
// username is already taken.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, name, email, username, avatar_url, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.Username,
		user.AvatarURL,
		user.PasswordHash,
		user.CreatedAt.UTC().Format(time.RFC3339),
		user.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUserExists
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, name, email, username, avatar_url, password_hash, created_at, updated_at
		FROM users WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	query := `
		SELECT id, name, email, username, avatar_url, password_hash, created_at, updated_at
		FROM users WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// SearchUsers finds users whose name or username contains the query string,
// excluding excludeUserID, capped at limit rows.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]*User, error) {
	stmt := `
		SELECT id, name, email, username, avatar_url, password_hash, created_at, updated_at
		FROM users
		WHERE (name LIKE ? OR username LIKE ?) AND id != ?
		ORDER BY username
		LIMIT ?
	`

	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, stmt, pattern, pattern, excludeUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	return s.collectUsers(rows)
}

// ListUsers returns all users ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, name, email, username, avatar_url, password_hash, created_at, updated_at
		FROM users
		ORDER BY username
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	return s.collectUsers(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanUser(row rowScanner) (*User, error) {
	var user User
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Username,
		&user.AvatarURL,
		&user.PasswordHash,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}

	if user.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &user, nil
}

func (s *SQLiteStore) collectUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
