// ABOUTME: Read-marker persistence and the derived unread count
// ABOUTME: Watermarks are upserted; a missing marker counts as the epoch

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// MarkRead upserts the read watermark for (user, conversation) to at.
// Callers pass "now"; monotonicity is not enforced here.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, conversationID string, at time.Time) error {
	query := `
		INSERT INTO conversation_reads (user_id, conversation_id, last_read_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, conversation_id) DO UPDATE SET last_read_at = excluded.last_read_at
	`

	_, err := s.db.ExecContext(ctx, query, userID, conversationID, at.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upserting read marker: %w", err)
	}

	return nil
}

// GetReadMarker retrieves the watermark for (user, conversation).
// Returns ErrNotFound when the user has never marked the conversation read.
func (s *SQLiteStore) GetReadMarker(ctx context.Context, userID, conversationID string) (*ReadMarker, error) {
	query := `
		SELECT user_id, conversation_id, last_read_at
		FROM conversation_reads
		WHERE user_id = ? AND conversation_id = ?
	`

	var marker ReadMarker
	var lastReadStr string
	err := s.db.QueryRowContext(ctx, query, userID, conversationID).Scan(
		&marker.UserID,
		&marker.ConversationID,
		&lastReadStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning read marker: %w", err)
	}

	if marker.LastReadAt, err = time.Parse(time.RFC3339Nano, lastReadStr); err != nil {
		return nil, fmt.Errorf("parsing last_read_at: %w", err)
	}

	return &marker, nil
}

// UnreadCount sums, over every conversation the user participates in, the
// messages created strictly after the user's watermark there and authored by
// someone else. A conversation without a marker counts from the epoch.
func (s *SQLiteStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON m.conversation_id = c.id
		WHERE (c.user_a_id = ? OR c.user_b_id = ?)
		AND m.sender_id != ?
		AND m.created_at > (
			SELECT COALESCE(MAX(last_read_at), '1970-01-01')
			FROM conversation_reads
			WHERE user_id = ? AND conversation_id = m.conversation_id
		)
	`

	var count int
	err := s.db.QueryRowContext(ctx, query, userID, userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}

	return count, nil
}
