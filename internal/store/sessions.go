// ABOUTME: Session persistence for the SQLite store
// ABOUTME: Token lookup joins to the owning user and enforces the expiry cutoff in SQL

package store

import (
	"context"
	"fmt"
	"time"
)

// CreateSession inserts a session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, token, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.UserID,
		session.Token,
		session.ExpiresAt.UTC().Format(time.RFC3339),
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	return nil
}

// GetUserByToken resolves a bearer token to its owning user. The session must
// exist and expire strictly after now; anything else is ErrNotFound, so an
// expired token is indistinguishable from an unknown one.
func (s *SQLiteStore) GetUserByToken(ctx context.Context, token string, now time.Time) (*User, error) {
	query := `
		SELECT u.id, u.name, u.email, u.username, u.avatar_url, u.password_hash, u.created_at, u.updated_at
		FROM sessions s
		JOIN users u ON s.user_id = u.id
		WHERE s.token = ? AND s.expires_at > ?
	`

	user, err := s.scanUser(s.db.QueryRowContext(ctx, query, token, now.UTC().Format(time.RFC3339)))
	if err != nil {
		return nil, err
	}
	return user, nil
}

// DeleteSessionByToken removes a session row. Deleting an unknown token is a no-op.
func (s *SQLiteStore) DeleteSessionByToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all sessions whose expiry is at or before now
// and returns how many were removed.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`,
		now.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted sessions: %w", err)
	}
	return n, nil
}
