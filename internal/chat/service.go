// ABOUTME: Chat service: conversation resolution, message ledger, read tracking
// ABOUTME: All messages persist before fanout - history is the source of truth

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localloop/localloop/internal/dedupe"
	"github.com/localloop/localloop/internal/store"
)

// Store defines what the chat service needs from storage.
type Store interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]*store.User, error)

	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByUsers(ctx context.Context, userA, userB string) (*store.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error)

	SaveMessage(ctx context.Context, msg *store.Message) error
	GetMessageByClientKey(ctx context.Context, conversationID, senderID, clientKey string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error)

	MarkRead(ctx context.Context, userID, conversationID string, at time.Time) error
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// searchLimit caps user search results.
const searchLimit = 10

// Service is the conversation core: it resolves canonical two-party
// conversations, appends to the message ledger, tracks read watermarks, and
// hands persisted messages to the broadcaster for live fanout.
type Service struct {
	store    Store
	rooms    *Broadcaster
	sendKeys *dedupe.Cache
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a chat service. rooms is required: every send fans out through
// it. sendKeys may be nil to disable the in-memory idempotency fast path
// (the storage constraint still applies).
func New(st Store, rooms *Broadcaster, sendKeys *dedupe.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		rooms:    rooms,
		sendKeys: sendKeys,
		logger:   logger.With("component", "chat"),
		now:      time.Now,
	}
}

// ResolveConversation returns the single conversation between user and
// otherUserID, creating it if absent. Repeated calls with the arguments in
// either order return the same conversation, including under concurrent
// creation: a uniqueness conflict falls back to re-querying the row the
// other caller won with.
func (s *Service) ResolveConversation(ctx context.Context, user *store.User, otherUserID string) (*store.Conversation, error) {
	if otherUserID == "" || otherUserID == user.ID {
		return nil, ErrSelfConversation
	}

	conv, err := s.store.GetConversationByUsers(ctx, user.ID, otherUserID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, unavailable(err)
	}

	other, err := s.store.GetUser(ctx, otherUserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, unavailable(err)
	}

	now := s.now()
	conv = &store.Conversation{
		ID:            uuid.New().String(),
		UserAID:       user.ID,
		UserBID:       other.ID,
		UserAName:     user.Name,
		UserBName:     other.Name,
		UserAUsername: user.Username,
		UserBUsername: other.Username,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost the creation race; the pair now has its canonical row
			existing, lookupErr := s.store.GetConversationByUsers(ctx, user.ID, otherUserID)
			if lookupErr != nil {
				return nil, unavailable(lookupErr)
			}
			s.logger.Debug("conversation creation raced, using existing",
				"conversation_id", existing.ID)
			return existing, nil
		}
		return nil, unavailable(err)
	}

	// Re-query so callers always see the stored row
	created, err := s.store.GetConversationByUsers(ctx, user.ID, otherUserID)
	if err != nil {
		return nil, unavailable(err)
	}

	s.logger.Debug("conversation created",
		"conversation_id", created.ID,
		"user_a", user.ID,
		"user_b", other.ID)
	return created, nil
}

// GetConversation returns a conversation if userID participates in it.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	return s.participantConversation(ctx, userID, conversationID)
}

// ListConversations returns the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*store.ConversationSummary, error) {
	summaries, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, unavailable(err)
	}
	return summaries, nil
}

// SendMessage validates, persists and fans out a message from sender into a
// conversation. clientKey is an optional idempotency key: resending with the
// same key returns the already-persisted message instead of appending again.
// Fanout is best-effort and never affects the result.
func (s *Service) SendMessage(ctx context.Context, sender *store.User, conversationID, body, clientKey string) (*store.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, ErrEmptyMessage
	}

	conv, err := s.participantConversation(ctx, sender.ID, conversationID)
	if err != nil {
		return nil, err
	}

	if clientKey != "" && s.sendKeys != nil {
		if s.sendKeys.CheckAndMark(conv.ID + "|" + sender.ID + "|" + clientKey) {
			existing, err := s.store.GetMessageByClientKey(ctx, conv.ID, sender.ID, clientKey)
			if err == nil {
				return existing, nil
			}
			// Key marked but nothing persisted (earlier attempt failed
			// mid-flight); fall through and append normally
			if !errors.Is(err, store.ErrNotFound) {
				return nil, unavailable(err)
			}
		}
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		SenderID:       sender.ID,
		SenderName:     sender.Name,
		SenderUsername: sender.Username,
		Body:           body,
		ClientKey:      clientKey,
		CreatedAt:      s.now(),
	}

	if err := s.store.SaveMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicateMessage) && clientKey != "" {
			existing, lookupErr := s.store.GetMessageByClientKey(ctx, conv.ID, sender.ID, clientKey)
			if lookupErr != nil {
				return nil, unavailable(lookupErr)
			}
			return existing, nil
		}
		return nil, unavailable(err)
	}

	s.logger.Debug("message appended",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"sender_id", sender.ID)

	s.rooms.Publish(conv.ID, msg, "")

	return msg, nil
}

// ListMessages returns the full ordered history of a conversation for a participant.
func (s *Service) ListMessages(ctx context.Context, userID, conversationID string) ([]*store.Message, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, unavailable(err)
	}
	return messages, nil
}

// MarkRead moves the user's read watermark for a conversation to now.
func (s *Service) MarkRead(ctx context.Context, userID, conversationID string) error {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return err
	}

	if err := s.store.MarkRead(ctx, userID, conversationID, s.now()); err != nil {
		return unavailable(err)
	}
	return nil
}

// UnreadCount returns the total number of unseen messages addressed to the
// user across all their conversations.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	count, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

// SearchUsers finds potential chat partners by name or username.
func (s *Service) SearchUsers(ctx context.Context, user *store.User, query string) ([]*store.User, error) {
	users, err := s.store.SearchUsers(ctx, query, user.ID, searchLimit)
	if err != nil {
		return nil, unavailable(err)
	}
	return users, nil
}

// Subscribe attaches a live-connection subscription to a conversation's room
// after verifying that userID participates. The returned channel receives
// every message appended while subscribed; the subscription dies with ctx.
func (s *Service) Subscribe(ctx context.Context, userID, conversationID string) (<-chan *store.Message, string, error) {
	if _, err := s.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, "", err
	}

	ch, subID := s.rooms.Subscribe(ctx, conversationID)
	return ch, subID, nil
}

// participantConversation loads a conversation and enforces membership.
func (s *Service) participantConversation(ctx context.Context, userID, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}

	return conv, nil
}
