// ABOUTME: JSON HTTP handlers for the conversation API
// ABOUTME: Wire types mirror the store rows; message bodies travel as "text"

package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/localloop/localloop/internal/auth"
	"github.com/localloop/localloop/internal/store"
)

// userResponse is the public view of a user; the password hash never leaves
// the store layer's consumers.
type userResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type conversationResponse struct {
	ID            string    `json:"id"`
	UserAID       string    `json:"user_a_id"`
	UserBID       string    `json:"user_b_id"`
	UserAName     string    `json:"user_a_name"`
	UserBName     string    `json:"user_b_name"`
	UserAUsername string    `json:"user_a_username"`
	UserBUsername string    `json:"user_b_username"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type conversationSummaryResponse struct {
	conversationResponse
	OtherUserName     string           `json:"other_user_name"`
	OtherUserUsername string           `json:"other_user_username"`
	OtherUserAvatar   string           `json:"other_user_avatar,omitempty"`
	LastMessage       *messageResponse `json:"last_message,omitempty"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	SenderUsername string    `json:"sender_username"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

type resolveConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

type sendMessageRequest struct {
	Text      string `json:"text"`
	ClientKey string `json:"client_key,omitempty"`
}

func toUserResponse(u *store.User) *userResponse {
	return &userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
	}
}

func toConversationResponse(c *store.Conversation) conversationResponse {
	return conversationResponse{
		ID:            c.ID,
		UserAID:       c.UserAID,
		UserBID:       c.UserBID,
		UserAName:     c.UserAName,
		UserBName:     c.UserBName,
		UserAUsername: c.UserAUsername,
		UserBUsername: c.UserBUsername,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func toMessageResponse(m *store.Message) *messageResponse {
	return &messageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderUsername: m.SenderUsername,
		Text:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query parameter q is required"})
		return
	}

	users, err := s.chat.SearchUsers(r.Context(), user, query)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]*userResponse, 0, len(users))
	for _, u := range users {
		resp := toUserResponse(u)
		resp.Email = "" // search results only expose display fields
		results = append(results, resp)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if err := s.authenticator.Logout(r.Context(), token); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *Server) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	var req resolveConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	conv, err := s.chat.ResolveConversation(r.Context(), user, req.OtherUserID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	summaries, err := s.chat.ListConversations(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]conversationSummaryResponse, 0, len(summaries))
	for _, sum := range summaries {
		resp := conversationSummaryResponse{
			conversationResponse: toConversationResponse(&sum.Conversation),
			OtherUserName:        sum.OtherUserName,
			OtherUserUsername:    sum.OtherUserUsername,
			OtherUserAvatar:      sum.OtherUserAvatar,
		}
		if sum.LastMessage != nil {
			resp.LastMessage = toMessageResponse(sum.LastMessage)
		}
		results = append(results, resp)
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	conv, err := s.chat.GetConversation(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	messages, err := s.chat.ListMessages(r.Context(), user.ID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	results := make([]*messageResponse, 0, len(messages))
	for _, m := range messages {
		results = append(results, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	msg, err := s.chat.SendMessage(r.Context(), user, r.PathValue("id"), req.Text, req.ClientKey)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	if err := s.chat.MarkRead(r.Context(), user.ID, r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "marked read"})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	user := auth.MustFromContext(r.Context())

	count, err := s.chat.UnreadCount(r.Context(), user.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}
