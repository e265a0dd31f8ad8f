// ABOUTME: HTTP server wiring for the chat API and websocket live channel
// ABOUTME: Routes, JSON helpers, and error-taxonomy to status-code mapping

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/localloop/localloop/internal/auth"
	"github.com/localloop/localloop/internal/chat"
	"github.com/localloop/localloop/internal/store"
)

// Server exposes the chat core over HTTP and websocket.
type Server struct {
	authenticator *auth.Authenticator
	chat          *chat.Service
	logger        *slog.Logger
	httpServer    *http.Server
}

// New creates a Server listening on addr once started.
func New(addr string, authenticator *auth.Authenticator, chatSvc *chat.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		authenticator: authenticator,
		chat:          chatSvc,
		logger:        logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	// The websocket endpoint authenticates during its own handshake
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/users/me", s.handleMe)
	api.HandleFunc("GET /api/users/search", s.handleSearchUsers)
	api.HandleFunc("POST /api/auth/logout", s.handleLogout)
	api.HandleFunc("POST /api/conversations", s.handleResolveConversation)
	api.HandleFunc("GET /api/conversations", s.handleListConversations)
	api.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	api.HandleFunc("GET /api/conversations/{id}/messages", s.handleListMessages)
	api.HandleFunc("POST /api/conversations/{id}/messages", s.handleSendMessage)
	api.HandleFunc("POST /api/conversations/{id}/read", s.handleMarkRead)
	api.HandleFunc("GET /api/messages/unread-count", s.handleUnreadCount)
	mux.Handle("/api/", auth.Middleware(authenticator)(api))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the root handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response failed", "error", err)
	}
}

// writeError maps a chat-core error onto its HTTP status and a JSON body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": errorMessage(err, status)})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps 5xx bodies generic; 4xx bodies carry the cause.
func errorMessage(err error, status int) string {
	if status >= 500 {
		return "internal error"
	}
	return err.Error()
}
