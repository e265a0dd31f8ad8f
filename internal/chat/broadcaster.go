// ABOUTME: In-memory fan-out of persisted messages to live conversation rooms
// ABOUTME: Push is fire-and-forget; full subscriber buffers drop the event

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/localloop/localloop/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for persisted messages. Subscribers
// register for a conversation (a "room") and receive each message appended
// there while subscribed. Delivery is best-effort: no acknowledgment, no
// retry; the durable history is the catch-up path.
type Broadcaster struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]chan *store.Message // conversationID -> subID -> ch
	logger *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		rooms:  make(map[string]map[string]chan *store.Message),
		logger: logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages in the given conversation.
// Returns the receive channel and a subscription ID for later unsubscription.
// The subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.rooms[conversationID]; !ok {
		b.rooms[conversationID] = make(map[string]chan *store.Message)
	}
	b.rooms[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber joined room",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends a message to every subscriber of its conversation's room.
// If excludeSubID is non-empty, that subscriber is skipped (used when the
// sender already rendered the message locally). Non-blocking: a subscriber
// whose channel is full misses the push.
//
// The sends happen under the read lock. They can never block, and holding
// the lock means Unsubscribe cannot close a channel mid-fanout.
func (b *Broadcaster) Publish(conversationID string, msg *store.Message, excludeSubID string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.rooms[conversationID] {
		if excludeSubID != "" && id == excludeSubID {
			continue
		}
		select {
		case ch <- msg:
		default:
			// Subscriber buffer full; drop for this subscriber only
			b.logger.Debug("dropped message for slow subscriber",
				"conversation_id", conversationID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// subscriptions are a no-op, so disconnect teardown is idempotent.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.rooms[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.rooms, conversationID)
	}

	b.logger.Debug("subscriber left room",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for conversationID, subs := range b.rooms {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.rooms, conversationID)
	}
}
