// ABOUTME: Conversation persistence for the SQLite store
// ABOUTME: Pair lookup probes both column orderings; insert order is never normalized

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateConversation inserts a conversation row. The unordered participant
// pair is unique: inserting a second conversation for the same two users, in
// either column order, returns ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, user_a_id, user_b_id, user_a_name, user_b_name,
			user_a_username, user_b_username, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.UserAID,
		conv.UserBID,
		conv.UserAName,
		conv.UserBName,
		conv.UserAUsername,
		conv.UserBUsername,
		conv.CreatedAt.UTC().Format(time.RFC3339),
		conv.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	return nil
}

// GetConversation retrieves a conversation by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, user_a_id, user_b_id, user_a_name, user_b_name,
			user_a_username, user_b_username, created_at, updated_at
		FROM conversations WHERE id = ?
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByUsers retrieves the conversation for a pair of users,
// matching both column orderings. Returns ErrNotFound when the pair has none.
func (s *SQLiteStore) GetConversationByUsers(ctx context.Context, userA, userB string) (*Conversation, error) {
	query := `
		SELECT id, user_a_id, user_b_id, user_a_name, user_b_name,
			user_a_username, user_b_username, created_at, updated_at
		FROM conversations
		WHERE (user_a_id = ? AND user_b_id = ?) OR (user_a_id = ? AND user_b_id = ?)
	`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, userA, userB, userB, userA))
}

// ListConversations returns all conversations the user participates in,
// most recently updated first, with the counterpart's current display fields.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.user_a_id, c.user_b_id, c.user_a_name, c.user_b_name,
			c.user_a_username, c.user_b_username, c.created_at, c.updated_at,
			CASE WHEN c.user_a_id = ? THEN ub.name ELSE ua.name END,
			CASE WHEN c.user_a_id = ? THEN ub.username ELSE ua.username END,
			CASE WHEN c.user_a_id = ? THEN ub.avatar_url ELSE ua.avatar_url END
		FROM conversations c
		LEFT JOIN users ua ON c.user_a_id = ua.id
		LEFT JOIN users ub ON c.user_b_id = ub.id
		WHERE c.user_a_id = ? OR c.user_b_id = ?
		ORDER BY c.updated_at DESC, c.id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var summaries []*ConversationSummary
	for rows.Next() {
		var sum ConversationSummary
		var createdAtStr, updatedAtStr string
		var otherName, otherUsername, otherAvatar sql.NullString

		err := rows.Scan(
			&sum.ID,
			&sum.UserAID,
			&sum.UserBID,
			&sum.UserAName,
			&sum.UserBName,
			&sum.UserAUsername,
			&sum.UserBUsername,
			&createdAtStr,
			&updatedAtStr,
			&otherName,
			&otherUsername,
			&otherAvatar,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation summary: %w", err)
		}

		if sum.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sum.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		sum.OtherUserName = otherName.String
		sum.OtherUserUsername = otherUsername.String
		sum.OtherUserAvatar = otherAvatar.String

		summaries = append(summaries, &sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach the latest message for list previews
	for _, sum := range summaries {
		last, err := s.GetLastMessage(ctx, sum.ID)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		sum.LastMessage = last
	}

	return summaries, nil
}

func (s *SQLiteStore) scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ID,
		&conv.UserAID,
		&conv.UserBID,
		&conv.UserAName,
		&conv.UserBName,
		&conv.UserAUsername,
		&conv.UserBUsername,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	if conv.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &conv, nil
}
