package storage

import (
	"context"
	"time"

	"github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// UserStore persists auth user records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	UpdateUserName(ctx context.Context, userID string, name string, updatedAt time.Time) error
}

// AllowedEmail gates which addresses may authenticate and with which role.
type AllowedEmail struct {
	Email           string
	Role            user.Role
	InvitedBy       string
	FirstSignedInAt *time.Time
	CreatedAt       time.Time
}

// AllowlistStore persists the closed set of addresses permitted to sign in.
type AllowlistStore interface {
	PutAllowedEmail(ctx context.Context, entry AllowedEmail) error
	GetAllowedEmail(ctx context.Context, email string) (AllowedEmail, error)
	ListAllowedEmails(ctx context.Context) ([]AllowedEmail, error)
	// MarkFirstSignIn stamps the entry once; later sign-ins leave it untouched.
	MarkFirstSignIn(ctx context.Context, email string, at time.Time) error
}

// MagicLink represents a single-use login token sent by email.
type MagicLink struct {
	Token     string
	Email     string
	PendingID string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// MagicLinkStore persists magic link tokens.
//
// ConsumeMagicLink is the only redemption path: it marks the token used in
// one conditional write so concurrent redemptions succeed at most once. The
// returned errors distinguish missing, expired, and already-used tokens for
// logging; callers collapse them before anything reaches a client.
type MagicLinkStore interface {
	PutMagicLink(ctx context.Context, link MagicLink) error
	ConsumeMagicLink(ctx context.Context, token string, now time.Time) (MagicLink, error)
	DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error)
}

// Session is a server-side login session resolved by its opaque token.
type Session struct {
	Token     string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore persists login sessions.
type SessionStore interface {
	PutSession(ctx context.Context, session Session) error
	// GetSession returns only sessions with expires_at strictly after now.
	GetSession(ctx context.Context, token string, now time.Time) (Session, error)
	DeleteSession(ctx context.Context, token string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// PasskeyCredential stores a WebAuthn credential for a user.
//
// SignCount mirrors the counter inside CredentialJSON so the regression
// check can run as a conditional write.
type PasskeyCredential struct {
	CredentialID   string
	UserID         string
	CredentialJSON []byte
	SignCount      uint32
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
}

// PasskeyStore persists WebAuthn credentials.
type PasskeyStore interface {
	// PutPasskeyCredential fails with CodeCredentialExists when the
	// credential id is already registered.
	PutPasskeyCredential(ctx context.Context, credential PasskeyCredential) error
	GetPasskeyCredential(ctx context.Context, credentialID string) (PasskeyCredential, error)
	ListPasskeyCredentials(ctx context.Context, userID string) ([]PasskeyCredential, error)
	DeletePasskeyCredential(ctx context.Context, credentialID string, userID string) error
	// UpdatePasskeySignCount advances the counter only while the stored value
	// is strictly lower; a same-or-lower counter fails with
	// CodeCounterRegressed and leaves the row unchanged.
	UpdatePasskeySignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON []byte, usedAt time.Time) error
}

// PendingAuthorization is a validated /authorize request parked while the
// browser completes login and consent. No user is bound here; consent reads
// the user from the live session.
type PendingAuthorization struct {
	ID            string
	ClientID      string
	RedirectURI   string
	Scope         string
	State         string
	CodeChallenge string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// AuthorizationCode is a single-use grant minted at consent.
type AuthorizationCode struct {
	Code          string
	ClientID      string
	UserID        string
	RedirectURI   string
	Scope         string
	CodeChallenge string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	UsedAt        *time.Time
}

// RefreshToken is the stored form of a refresh grant. Only the SHA-256 hash
// of the raw token is ever persisted.
type RefreshToken struct {
	TokenHash string
	ClientID  string
	UserID    string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// OAuthStore persists authorization-server artifacts.
//
// ConsumeAuthorizationCode and RotateRefreshToken are the redemption paths.
// Each spends its artifact in one conditional write so concurrent
// redemptions succeed at most once; the distinguishing errors exist for
// logs and every one of them collapses to invalid_grant at the endpoint.
type OAuthStore interface {
	PutPendingAuthorization(ctx context.Context, pending PendingAuthorization) error
	// GetPendingAuthorization returns only rows with expires_at strictly
	// after now.
	GetPendingAuthorization(ctx context.Context, id string, now time.Time) (PendingAuthorization, error)
	DeletePendingAuthorization(ctx context.Context, id string) error

	PutAuthorizationCode(ctx context.Context, code AuthorizationCode) error
	// ConsumeAuthorizationCode marks the code used while it is still unused
	// and unexpired, returning the row it spent. Binding and PKCE checks run
	// after consumption, so a code touched by a failing exchange stays burned.
	ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (AuthorizationCode, error)

	PutRefreshToken(ctx context.Context, token RefreshToken) error
	// RotateRefreshToken revokes the presented token and inserts its
	// successor in one transaction. The revoking write carries the client
	// binding, liveness, and expiry predicates; zero rows means the token is
	// unknown, foreign, replayed, or expired. Returns the successor row with
	// user and scope carried over.
	RotateRefreshToken(ctx context.Context, tokenHash string, clientID string, newTokenHash string, expiresAt time.Time, now time.Time) (RefreshToken, error)

	// DeleteExpiredOAuth sweeps expired pending authorizations, codes, and
	// refresh tokens. Returns the number of rows removed.
	DeleteExpiredOAuth(ctx context.Context, now time.Time) (int64, error)
}
