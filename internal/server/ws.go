// ABOUTME: WebSocket live channel: authenticated connections, room join/leave, send
// ABOUTME: Inbound events are a tagged variant validated before touching the ledger

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localloop/localloop/internal/auth"
	"github.com/localloop/localloop/internal/chat"
	"github.com/localloop/localloop/internal/store"
)

const (
	// Time allowed to write a message to the peer
	wsWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	wsPongWait = 60 * time.Second

	// Send pings to peer with this period; must be less than wsPongWait
	wsPingPeriod = (wsPongWait * 9) / 10

	// Maximum inbound event size in bytes
	wsMaxMessageSize = 8192

	// Outbound buffer per connection; a full buffer drops the push
	wsSendBuffer = 64
)

// Inbound event kinds
const (
	wsEventJoin  = "join"
	wsEventLeave = "leave"
	wsEventSend  = "send"
)

// Outbound event kinds
const (
	wsEventMessage = "message"
	wsEventError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsInbound is the tagged inbound event envelope. Each kind uses a fixed
// subset of fields; anything else is rejected at the boundary.
type wsInbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Text           string `json:"text,omitempty"`
	ClientKey      string `json:"client_key,omitempty"`
}

// wsOutbound is the tagged outbound event envelope.
type wsOutbound struct {
	Type           string           `json:"type"`
	Message        *messageResponse `json:"message,omitempty"`
	Code           string           `json:"code,omitempty"`
	Error          string           `json:"error,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

// wsClient is one live connection and its room subscriptions.
type wsClient struct {
	conn *websocket.Conn
	user *store.User
	chat *chat.Service

	send chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	rooms      map[string]context.CancelFunc // conversationID -> subscription cancel
	forwarders sync.WaitGroup
}

// handleWebSocket authenticates the handshake, upgrades, and runs the
// connection until the peer goes away. The token travels as a query
// parameter because browser websocket clients cannot set headers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}

	user, err := s.authenticator.Authenticate(r.Context(), token)
	if err != nil {
		auth.WriteUnauthenticated(w)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		conn:   conn,
		user:   user,
		chat:   s.chat,
		send:   make(chan []byte, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]context.CancelFunc),
	}

	s.logger.Debug("websocket connected", "user_id", user.ID)

	go client.writePump()
	client.readPump()

	// Tear down all subscriptions, then release the write pump
	cancel()
	client.forwarders.Wait()
	close(client.send)
	s.logger.Debug("websocket disconnected", "user_id", user.ID)
}

// readPump processes inbound events in arrival order until the connection drops.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(wsMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var event wsInbound
		if err := json.Unmarshal(data, &event); err != nil {
			c.pushError("", "invalid", "malformed event")
			continue
		}

		switch event.Type {
		case wsEventJoin:
			c.handleJoin(event.ConversationID)
		case wsEventLeave:
			c.handleLeave(event.ConversationID)
		case wsEventSend:
			c.handleSend(event)
		default:
			c.pushError(event.ConversationID, "invalid", "unknown event type")
		}
	}
}

// handleJoin subscribes the connection to a conversation room. Participancy
// is re-validated here: a room name alone grants nothing.
func (c *wsClient) handleJoin(conversationID string) {
	if conversationID == "" {
		c.pushError("", "invalid", "conversation_id is required")
		return
	}

	c.mu.Lock()
	if _, joined := c.rooms[conversationID]; joined {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	subCtx, subCancel := context.WithCancel(c.ctx)
	ch, _, err := c.chat.Subscribe(subCtx, c.user.ID, conversationID)
	if err != nil {
		subCancel()
		c.pushChatError(conversationID, err)
		return
	}

	c.mu.Lock()
	c.rooms[conversationID] = subCancel
	c.mu.Unlock()

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for msg := range ch {
			c.pushMessage(msg)
		}
	}()
}

// handleLeave drops the connection's subscription to a room; unknown rooms
// are a no-op.
func (c *wsClient) handleLeave(conversationID string) {
	c.mu.Lock()
	cancel, joined := c.rooms[conversationID]
	if joined {
		delete(c.rooms, conversationID)
	}
	c.mu.Unlock()

	if joined {
		cancel()
	}
}

// handleSend mirrors the HTTP write path: validate, persist, fan out. The
// persisted message reaches this connection through its room subscription.
func (c *wsClient) handleSend(event wsInbound) {
	if event.ConversationID == "" {
		c.pushError("", "invalid", "conversation_id is required")
		return
	}

	_, err := c.chat.SendMessage(c.ctx, c.user, event.ConversationID, event.Text, event.ClientKey)
	if err != nil {
		c.pushChatError(event.ConversationID, err)
	}
}

// pushMessage queues a new-message push; a full buffer drops it (the durable
// history is the catch-up path).
func (c *wsClient) pushMessage(msg *store.Message) {
	c.push(&wsOutbound{
		Type:    wsEventMessage,
		Message: toMessageResponse(msg),
	})
}

func (c *wsClient) pushChatError(conversationID string, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		c.pushError(conversationID, "invalid", err.Error())
	case errors.Is(err, chat.ErrForbidden):
		c.pushError(conversationID, "forbidden", "not a conversation participant")
	case errors.Is(err, store.ErrNotFound):
		c.pushError(conversationID, "not_found", "conversation not found")
	default:
		c.pushError(conversationID, "unavailable", "temporarily unavailable")
	}
}

func (c *wsClient) pushError(conversationID, code, message string) {
	c.push(&wsOutbound{
		Type:           wsEventError,
		Code:           code,
		Error:          message,
		ConversationID: conversationID,
	})
}

func (c *wsClient) push(event *wsOutbound) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		// Buffer full; drop
	}
}

// writePump writes queued events and keeps the connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
