// ABOUTME: Message persistence for the SQLite store
// ABOUTME: Appends run in a transaction that also bumps the conversation's updated_at

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveMessage appends a message and advances the owning conversation's
// updated_at in the same transaction. A client-key collision returns
// ErrDuplicateMessage with nothing written.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var clientKey any
	if msg.ClientKey != "" {
		clientKey = msg.ClientKey
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name,
			sender_username, body, client_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.SenderName,
		msg.SenderUsername,
		msg.Body,
		clientKey,
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateMessage
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		msg.CreatedAt.UTC().Format(time.RFC3339),
		msg.ConversationID,
	)
	if err != nil {
		return fmt.Errorf("bumping conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	return nil
}

// GetMessageByClientKey retrieves the message a (conversation, sender,
// client key) triple already produced. Returns ErrNotFound when the key is unused.
func (s *SQLiteStore) GetMessageByClientKey(ctx context.Context, conversationID, senderID, clientKey string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, sender_username, body, client_key, created_at
		FROM messages
		WHERE conversation_id = ? AND sender_id = ? AND client_key = ?
	`
	return s.scanMessage(s.db.QueryRowContext(ctx, query, conversationID, senderID, clientKey))
}

// ListMessages returns the full history of a conversation ascending by
// (created_at, id). The order is total and stable across calls.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, sender_username, body, client_key, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := s.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// GetLastMessage returns the newest message of a conversation, or ErrNotFound
// when the conversation has none.
func (s *SQLiteStore) GetLastMessage(ctx context.Context, conversationID string) (*Message, error) {
	query := `
		SELECT id, conversation_id, sender_id, sender_name, sender_username, body, client_key, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return s.scanMessage(s.db.QueryRowContext(ctx, query, conversationID))
}

func (s *SQLiteStore) scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var clientKey sql.NullString
	var createdAtStr string

	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.SenderName,
		&msg.SenderUsername,
		&msg.Body,
		&clientKey,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}

	msg.ClientKey = clientKey.String
	if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &msg, nil
}
