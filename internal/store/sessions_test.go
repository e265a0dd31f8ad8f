// ABOUTME: Tests for session persistence and token lookup
// ABOUTME: Covers expiry filtering, deletion, and the expired-session sweep

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGetUserByToken(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	user := seedUser(t, store, "user-1", "dana")
	now := time.Now().UTC()

	session := &Session{
		ID:        "sess-1",
		UserID:    user.ID,
		Token:     "token-abc",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := store.GetUserByToken(ctx, "token-abc", now)
	if err != nil {
		t.Fatalf("GetUserByToken failed: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("user ID mismatch: got %q, want %q", got.ID, user.ID)
	}
	if got.Username != "dana" {
		t.Errorf("username mismatch: got %q, want %q", got.Username, "dana")
	}
}

func TestGetUserByToken_Unknown(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	_, err := store.GetUserByToken(context.Background(), "no-such-token", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserByToken_Expired(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	user := seedUser(t, store, "user-1", "dana")
	now := time.Now().UTC()

	session := &Session{
		ID:        "sess-1",
		UserID:    user.ID,
		Token:     "token-abc",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	// Valid right up to expiry, invalid at and after it
	if _, err := store.GetUserByToken(ctx, "token-abc", now.Add(time.Hour-time.Second)); err != nil {
		t.Errorf("expected valid session before expiry, got %v", err)
	}
	if _, err := store.GetUserByToken(ctx, "token-abc", now.Add(time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound at expiry, got %v", err)
	}
	if _, err := store.GetUserByToken(ctx, "token-abc", now.Add(2*time.Hour)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestDeleteSessionByToken(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	user := seedUser(t, store, "user-1", "dana")
	now := time.Now().UTC()

	session := &Session{
		ID:        "sess-1",
		UserID:    user.ID,
		Token:     "token-abc",
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := store.DeleteSessionByToken(ctx, "token-abc"); err != nil {
		t.Fatalf("DeleteSessionByToken failed: %v", err)
	}
	if _, err := store.GetUserByToken(ctx, "token-abc", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an unknown token is a no-op
	if err := store.DeleteSessionByToken(ctx, "no-such-token"); err != nil {
		t.Errorf("expected no error for unknown token, got %v", err)
	}
}

func TestDeleteExpiredSessions(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	ctx := context.Background()
	user := seedUser(t, store, "user-1", "dana")
	now := time.Now().UTC()

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Minute, time.Hour} {
		session := &Session{
			ID:        fmt.Sprintf("sess-%d", i),
			UserID:    user.ID,
			Token:     fmt.Sprintf("token-%d", i),
			ExpiresAt: now.Add(offset),
			CreatedAt: now.Add(-3 * time.Hour),
		}
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	n, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deletions, got %d", n)
	}

	// The live session survives
	if _, err := store.GetUserByToken(ctx, "token-2", now); err != nil {
		t.Errorf("live session deleted: %v", err)
	}
}
