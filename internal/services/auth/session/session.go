// Package session issues and validates the opaque login sessions behind the
// auth cookie.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// DefaultTTL is how long a login session stays valid.
const DefaultTTL = 7 * 24 * time.Hour

// tokenLength is the session token entropy in bytes before hex encoding.
const tokenLength = 32

// Manager creates, validates, and destroys login sessions.
type Manager struct {
	sessions storage.SessionStore
	users    storage.UserStore
	ttl      time.Duration
	now      func() time.Time
	newToken func() (string, error)
}

// NewManager builds a session manager with the default TTL.
func NewManager(sessions storage.SessionStore, users storage.UserStore) *Manager {
	return &Manager{
		sessions: sessions,
		users:    users,
		ttl:      DefaultTTL,
		now:      time.Now,
		newToken: generateToken,
	}
}

func generateToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Create persists a fresh session for the user and returns it for the
// cookie writer. The token never reaches logs.
func (m *Manager) Create(ctx context.Context, userID string) (storage.Session, error) {
	if m == nil || m.sessions == nil {
		return storage.Session{}, fmt.Errorf("session manager is not configured")
	}
	if userID == "" {
		return storage.Session{}, fmt.Errorf("user id is required")
	}

	token, err := m.newToken()
	if err != nil {
		return storage.Session{}, err
	}
	now := m.now().UTC()
	session := storage.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.sessions.PutSession(ctx, session); err != nil {
		return storage.Session{}, fmt.Errorf("persist session: %w", err)
	}
	return session, nil
}

// Validate resolves a session token to its user. Missing, expired, and
// orphaned sessions all come back as CodeSessionInvalid.
func (m *Manager) Validate(ctx context.Context, token string) (user.User, storage.Session, error) {
	if m == nil || m.sessions == nil || m.users == nil {
		return user.User{}, storage.Session{}, fmt.Errorf("session manager is not configured")
	}
	if token == "" {
		return user.User{}, storage.Session{}, apperrors.New(apperrors.CodeSessionInvalid, "session token is required")
	}

	session, err := m.sessions.GetSession(ctx, token, m.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, storage.Session{}, apperrors.New(apperrors.CodeSessionInvalid, "session is not valid")
		}
		return user.User{}, storage.Session{}, fmt.Errorf("load session: %w", err)
	}

	u, err := m.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return user.User{}, storage.Session{}, apperrors.New(apperrors.CodeSessionInvalid, "session user is gone")
		}
		return user.User{}, storage.Session{}, fmt.Errorf("load session user: %w", err)
	}
	return u, session, nil
}

// Destroy deletes a session. Logout is the one fail-open write: callers
// clear the cookie even when this errors.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if m == nil || m.sessions == nil {
		return fmt.Errorf("session manager is not configured")
	}
	if token == "" {
		return nil
	}
	if err := m.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
