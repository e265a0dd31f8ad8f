// ABOUTME: Session authenticator resolving opaque bearer tokens to users
// ABOUTME: Every failure collapses to ErrUnauthenticated so tokens cannot be probed

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/localloop/localloop/internal/store"
)

// ErrUnauthenticated is returned for any token that does not resolve to a
// live session: missing, malformed, unknown, or expired. Callers must not be
// able to tell these apart.
var ErrUnauthenticated = errors.New("unauthenticated")

// SessionStore is what the authenticator needs from storage.
type SessionStore interface {
	GetUserByToken(ctx context.Context, token string, now time.Time) (*store.User, error)
	DeleteSessionByToken(ctx context.Context, token string) error
}

// Authenticator validates bearer tokens against active sessions. It is a
// pure read path: expired sessions stay inert, nothing slides or renews.
type Authenticator struct {
	store  SessionStore
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Authenticator. Pass nil logger for default.
func New(sessions SessionStore, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		store:  sessions,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}
}

// Authenticate resolves a bearer token to its owning user.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	user, err := a.store.GetUserByToken(ctx, token, a.now())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("session lookup failed", "error", err)
		}
		return nil, ErrUnauthenticated
	}

	return user, nil
}

// Logout deletes the session behind the token. Unknown tokens are a no-op;
// logout never reveals whether the token was live.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return a.store.DeleteSessionByToken(ctx, token)
}
