// ABOUTME: Store interface and row types for localloop persistence
// ABOUTME: Defines User, Session, Conversation, Message, ReadMarker and sentinel errors

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when inserting a conversation whose
// participant pair already has one, in either argument order.
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrDuplicateMessage is returned when inserting a message whose client key
// was already used by the same sender in the same conversation.
var ErrDuplicateMessage = errors.New("message already exists")

// ErrUserExists is returned when creating a user whose email or username is taken.
var ErrUserExists = errors.New("user already exists")

// User is a marketplace account. Password hashing and registration live
// outside this service; the store only reads and provisions these rows.
type User struct {
	ID           string
	Name         string
	Email        string
	Username     string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is an opaque-token login session. Expired rows are inert and
// eventually swept; they are never renewed in place.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Conversation is the single record for all messages between two users.
// The unordered participant pair is unique system-wide; column order only
// reflects who created it. Display fields are snapshots taken at creation.
type Conversation struct {
	ID            string
	UserAID       string
	UserBID       string
	UserAName     string
	UserBName     string
	UserAUsername string
	UserBUsername string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return c.UserAID == userID || c.UserBID == userID
}

// OtherParticipant returns the participant that is not userID. Callers must
// have already established that userID participates.
func (c *Conversation) OtherParticipant(userID string) string {
	if c.UserAID == userID {
		return c.UserBID
	}
	return c.UserAID
}

// ConversationSummary is a conversation plus the counterpart's current
// display fields and the latest message, resolved for one viewer.
type ConversationSummary struct {
	Conversation
	OtherUserName     string
	OtherUserUsername string
	OtherUserAvatar   string
	LastMessage       *Message
}

// Message is an immutable chat message. Ordering within a conversation is
// total by (created_at, id). ClientKey is an optional idempotency key;
// empty means the send carries no dedup guarantee.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderUsername string
	Body           string
	ClientKey      string
	CreatedAt      time.Time
}

// ReadMarker is a per-user, per-conversation read watermark. Messages at or
// before LastReadAt count as seen.
type ReadMarker struct {
	UserID         string
	ConversationID string
	LastReadAt     time.Time
}

// Store defines the persistence interface for the chat core.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]*User, error)
	ListUsers(ctx context.Context) ([]*User, error)

	// Sessions
	CreateSession(ctx context.Context, session *Session) error
	GetUserByToken(ctx context.Context, token string, now time.Time) (*User, error)
	DeleteSessionByToken(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByUsers(ctx context.Context, userA, userB string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*ConversationSummary, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessageByClientKey(ctx context.Context, conversationID, senderID, clientKey string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	GetLastMessage(ctx context.Context, conversationID string) (*Message, error)

	// Read markers
	MarkRead(ctx context.Context, userID, conversationID string, at time.Time) error
	GetReadMarker(ctx context.Context, userID, conversationID string) (*ReadMarker, error)
	UnreadCount(ctx context.Context, userID string) (int, error)

	// Close releases any resources held by the store
	Close() error
}
