// ABOUTME: End-to-end HTTP tests against a real store behind the full mux
// ABOUTME: Shared fixture helpers for users, sessions, and authenticated requests

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localloop/localloop/internal/auth"
	"github.com/localloop/localloop/internal/chat"
	"github.com/localloop/localloop/internal/dedupe"
	"github.com/localloop/localloop/internal/store"
)

// testServer bundles the running handler with its backing store.
type testServer struct {
	*httptest.Server
	store *store.SQLiteStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rooms := chat.NewBroadcaster(nil)
	t.Cleanup(rooms.Close)
	sendKeys := dedupe.New(5*time.Minute, 1000)
	t.Cleanup(sendKeys.Close)

	authenticator := auth.New(st, nil)
	chatSvc := chat.New(st, rooms, sendKeys, nil)
	srv := New(":0", authenticator, chatSvc, nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testServer{Server: ts, store: st}
}

// createUserWithToken provisions a user and a live session, returning the token.
func (ts *testServer) createUserWithToken(t *testing.T, id, username string) (*store.User, string) {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	user := &store.User{
		ID:        id,
		Name:      "Neighbor " + username,
		Email:     username + "@example.com",
		Username:  username,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, ts.store.CreateUser(ctx, user))

	token := "token-" + id
	session := &store.Session{
		ID:        "sess-" + id,
		UserID:    id,
		Token:     token,
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, ts.store.CreateSession(ctx, session))

	return user, token
}

// doJSON issues an authenticated request and decodes the JSON response into out.
func (ts *testServer) doJSON(t *testing.T, method, path, token string, body, out any) int {
	t.Helper()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reqBody)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var body map[string]string
	status := ts.doJSON(t, http.MethodGet, "/health", "", nil, &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/users/me"},
		{http.MethodGet, "/api/conversations"},
		{http.MethodPost, "/api/conversations"},
		{http.MethodGet, "/api/messages/unread-count"},
	}

	for _, p := range paths {
		status := ts.doJSON(t, p.method, p.path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "%s %s", p.method, p.path)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ts := newTestServer(t)

	ctx := context.Background()
	now := time.Now().UTC()
	user := &store.User{ID: "user-1", Name: "Dana", Email: "dana@example.com", Username: "dana", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, ts.store.CreateUser(ctx, user))
	require.NoError(t, ts.store.CreateSession(ctx, &store.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		Token:     "stale-token",
		ExpiresAt: now.Add(-time.Minute),
		CreatedAt: now.Add(-time.Hour),
	}))

	status := ts.doJSON(t, http.MethodGet, "/api/users/me", "stale-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUserWithToken(t, "user-1", "dana")

	var body map[string]any
	status := ts.doJSON(t, http.MethodGet, "/api/users/me", token, nil, &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-1", body["id"])
	assert.Equal(t, "dana", body["username"])
	assert.Equal(t, "dana@example.com", body["email"])
	assert.NotContains(t, body, "password_hash")
}

func TestLogoutInvalidatesToken(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUserWithToken(t, "user-1", "dana")

	status := ts.doJSON(t, http.MethodPost, "/api/auth/logout", token, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status = ts.doJSON(t, http.MethodGet, "/api/users/me", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSearchUsers(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUserWithToken(t, "user-1", "dana")
	ts.createUserWithToken(t, "user-2", "daniel")

	var results []map[string]any
	status := ts.doJSON(t, http.MethodGet, "/api/users/search?q=dan", token, nil, &results)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, results, 1)
	assert.Equal(t, "daniel", results[0]["username"])
	assert.NotContains(t, results[0], "email", "search results must not leak emails")

	status = ts.doJSON(t, http.MethodGet, "/api/users/search", token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestConversationLifecycle(t *testing.T) {
	ts := newTestServer(t)
	_, danaToken := ts.createUserWithToken(t, "user-1", "dana")
	_, marcusToken := ts.createUserWithToken(t, "user-2", "marcus")

	// Dana opens the conversation
	var conv map[string]any
	status := ts.doJSON(t, http.MethodPost, "/api/conversations", danaToken,
		map[string]string{"other_user_id": "user-2"}, &conv)
	require.Equal(t, http.StatusOK, status)
	convID := conv["id"].(string)
	require.NotEmpty(t, convID)

	// Marcus resolving from his side lands on the same conversation
	var convFromMarcus map[string]any
	status = ts.doJSON(t, http.MethodPost, "/api/conversations", marcusToken,
		map[string]string{"other_user_id": "user-1"}, &convFromMarcus)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, convID, convFromMarcus["id"])

	// Messages flow both ways
	var sent map[string]any
	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", danaToken,
		map[string]string{"text": "still have the drill?"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "still have the drill?", sent["text"])
	assert.Equal(t, "user-1", sent["sender_id"])

	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", marcusToken,
		map[string]string{"text": "yes, swing by"}, nil)
	require.Equal(t, http.StatusCreated, status)

	var history []map[string]any
	status = ts.doJSON(t, http.MethodGet, "/api/conversations/"+convID+"/messages", danaToken, nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 2)
	assert.Equal(t, "still have the drill?", history[0]["text"])
	assert.Equal(t, "yes, swing by", history[1]["text"])

	// The listing shows the counterpart and the latest message
	var listing []map[string]any
	status = ts.doJSON(t, http.MethodGet, "/api/conversations", danaToken, nil, &listing)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, listing, 1)
	assert.Equal(t, "marcus", listing[0]["other_user_username"])
	last := listing[0]["last_message"].(map[string]any)
	assert.Equal(t, "yes, swing by", last["text"])
}

func TestSendMessage_Validation(t *testing.T) {
	ts := newTestServer(t)
	_, danaToken := ts.createUserWithToken(t, "user-1", "dana")
	ts.createUserWithToken(t, "user-2", "marcus")

	var conv map[string]any
	status := ts.doJSON(t, http.MethodPost, "/api/conversations", danaToken,
		map[string]string{"other_user_id": "user-2"}, &conv)
	require.Equal(t, http.StatusOK, status)
	convID := conv["id"].(string)

	var errBody map[string]string
	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", danaToken,
		map[string]string{"text": "   "}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, errBody["error"])
}

func TestConversation_SelfAndUnknown(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.createUserWithToken(t, "user-1", "dana")

	status := ts.doJSON(t, http.MethodPost, "/api/conversations", token,
		map[string]string{"other_user_id": "user-1"}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "self conversation")

	status = ts.doJSON(t, http.MethodPost, "/api/conversations", token,
		map[string]string{"other_user_id": "ghost"}, nil)
	assert.Equal(t, http.StatusBadRequest, status, "unknown counterpart")
}

func TestConversation_AccessControl(t *testing.T) {
	ts := newTestServer(t)
	_, danaToken := ts.createUserWithToken(t, "user-1", "dana")
	ts.createUserWithToken(t, "user-2", "marcus")
	_, priyaToken := ts.createUserWithToken(t, "user-3", "priya")

	var conv map[string]any
	status := ts.doJSON(t, http.MethodPost, "/api/conversations", danaToken,
		map[string]string{"other_user_id": "user-2"}, &conv)
	require.Equal(t, http.StatusOK, status)
	convID := conv["id"].(string)

	status = ts.doJSON(t, http.MethodGet, "/api/conversations/"+convID, priyaToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.doJSON(t, http.MethodGet, "/api/conversations/"+convID+"/messages", priyaToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", priyaToken,
		map[string]string{"text": "hi"}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = ts.doJSON(t, http.MethodGet, "/api/conversations/missing", danaToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestIdempotentSend(t *testing.T) {
	ts := newTestServer(t)
	_, danaToken := ts.createUserWithToken(t, "user-1", "dana")
	ts.createUserWithToken(t, "user-2", "marcus")

	var conv map[string]any
	status := ts.doJSON(t, http.MethodPost, "/api/conversations", danaToken,
		map[string]string{"other_user_id": "user-2"}, &conv)
	require.Equal(t, http.StatusOK, status)
	convID := conv["id"].(string)

	payload := map[string]string{"text": "only once", "client_key": "retry-1"}

	var first, second map[string]any
	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", danaToken, payload, &first)
	require.Equal(t, http.StatusCreated, status)
	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", danaToken, payload, &second)
	require.Equal(t, http.StatusCreated, status)

	assert.Equal(t, first["id"], second["id"])

	var history []map[string]any
	status = ts.doJSON(t, http.MethodGet, "/api/conversations/"+convID+"/messages", danaToken, nil, &history)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, history, 1)
}

func TestUnreadFlow(t *testing.T) {
	ts := newTestServer(t)
	_, danaToken := ts.createUserWithToken(t, "user-1", "dana")
	_, marcusToken := ts.createUserWithToken(t, "user-2", "marcus")

	var conv map[string]any
	status := ts.doJSON(t, http.MethodPost, "/api/conversations", danaToken,
		map[string]string{"other_user_id": "user-2"}, &conv)
	require.Equal(t, http.StatusOK, status)
	convID := conv["id"].(string)

	for i := 0; i < 3; i++ {
		status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/messages", marcusToken,
			map[string]string{"text": fmt.Sprintf("msg %d", i)}, nil)
		require.Equal(t, http.StatusCreated, status)
	}

	var count map[string]int
	status = ts.doJSON(t, http.MethodGet, "/api/messages/unread-count", danaToken, nil, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 3, count["unread_count"])

	// The sender's own messages never count against them
	status = ts.doJSON(t, http.MethodGet, "/api/messages/unread-count", marcusToken, nil, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, count["unread_count"])

	status = ts.doJSON(t, http.MethodPost, "/api/conversations/"+convID+"/read", danaToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	status = ts.doJSON(t, http.MethodGet, "/api/messages/unread-count", danaToken, nil, &count)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, count["unread_count"])
}
