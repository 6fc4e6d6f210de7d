package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	platformerrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
)

// PutPendingAuthorization parks a validated authorization request while the
// browser completes login and consent.
func (s *Store) PutPendingAuthorization(ctx context.Context, pending storage.PendingAuthorization) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(pending.ID) == "" {
		return fmt.Errorf("pending authorization id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_pending_authorizations (id, client_id, redirect_uri, scope, state, code_challenge, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, pending.ID, pending.ClientID, pending.RedirectURI, pending.Scope, pending.State, pending.CodeChallenge,
		toMillis(pending.CreatedAt), toMillis(pending.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put pending authorization: %w", err)
	}
	return nil
}

// GetPendingAuthorization returns a pending authorization that has not yet
// expired. Expired or missing rows both come back as ErrNotFound.
func (s *Store) GetPendingAuthorization(ctx context.Context, id string, now time.Time) (storage.PendingAuthorization, error) {
	if err := ctx.Err(); err != nil {
		return storage.PendingAuthorization{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PendingAuthorization{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.PendingAuthorization{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, client_id, redirect_uri, scope, state, code_challenge, created_at, expires_at
FROM oauth_pending_authorizations
WHERE id = ? AND expires_at > ?
`, id, toMillis(now))
	return scanPendingAuthorization(row.Scan)
}

// DeletePendingAuthorization removes a pending authorization once consent
// resolves it. Deleting a missing row is a no-op.
func (s *Store) DeletePendingAuthorization(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM oauth_pending_authorizations
WHERE id = ?
`, id); err != nil {
		return fmt.Errorf("delete pending authorization: %w", err)
	}
	return nil
}

// PutAuthorizationCode persists a freshly minted authorization code.
func (s *Store) PutAuthorizationCode(ctx context.Context, code storage.AuthorizationCode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(code.Code) == "" {
		return fmt.Errorf("authorization code is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_authorization_codes (code, client_id, user_id, redirect_uri, scope, code_challenge, created_at, expires_at, used_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, code.Code, code.ClientID, code.UserID, code.RedirectURI, code.Scope, code.CodeChallenge,
		toMillis(code.CreatedAt), toMillis(code.ExpiresAt), toNullMillis(code.UsedAt))
	if err != nil {
		return fmt.Errorf("put authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode spends a code through a single conditional write.
//
// The predicate covers liveness and single use; binding and PKCE checks run
// in the token handler after this, so a code touched by a failing exchange
// stays burned.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string, now time.Time) (storage.AuthorizationCode, error) {
	if err := ctx.Err(); err != nil {
		return storage.AuthorizationCode{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AuthorizationCode{}, fmt.Errorf("storage is not configured")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return storage.AuthorizationCode{}, storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE oauth_authorization_codes
SET used_at = ?
WHERE code = ? AND used_at IS NULL AND expires_at > ?
`, toMillis(now), code, toMillis(now))
	if err != nil {
		return storage.AuthorizationCode{}, fmt.Errorf("consume authorization code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.AuthorizationCode{}, fmt.Errorf("consume authorization code rows: %w", err)
	}
	if rows == 0 {
		return storage.AuthorizationCode{}, s.classifyCodeFailure(ctx, code, now)
	}

	consumed, err := s.getAuthorizationCode(ctx, code)
	if err != nil {
		return storage.AuthorizationCode{}, fmt.Errorf("load consumed authorization code: %w", err)
	}
	return consumed, nil
}

func (s *Store) classifyCodeFailure(ctx context.Context, code string, now time.Time) error {
	stored, err := s.getAuthorizationCode(ctx, code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify authorization code failure: %w", err)
	}
	if stored.UsedAt != nil {
		return platformerrors.New(platformerrors.CodeGrantUsed, "authorization code already used")
	}
	if !stored.ExpiresAt.After(now) {
		return platformerrors.New(platformerrors.CodeGrantExpired, "authorization code expired")
	}
	return platformerrors.New(platformerrors.CodeGrantInvalid, "authorization code not consumable")
}

func (s *Store) getAuthorizationCode(ctx context.Context, code string) (storage.AuthorizationCode, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT code, client_id, user_id, redirect_uri, scope, code_challenge, created_at, expires_at, used_at
FROM oauth_authorization_codes
WHERE code = ?
`, code)
	return scanAuthorizationCode(row.Scan)
}

// PutRefreshToken persists a refresh token row keyed by its hash.
func (s *Store) PutRefreshToken(ctx context.Context, token storage.RefreshToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(token.TokenHash) == "" {
		return fmt.Errorf("refresh token hash is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO oauth_refresh_tokens (token_hash, client_id, user_id, scope, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
`, token.TokenHash, token.ClientID, token.UserID, token.Scope,
		toMillis(token.CreatedAt), toMillis(token.ExpiresAt), toNullMillis(token.RevokedAt))
	if err != nil {
		return fmt.Errorf("put refresh token: %w", err)
	}
	return nil
}

// RotateRefreshToken revokes the presented token and inserts its successor
// inside one transaction.
//
// The revoking update carries the client binding, liveness, and expiry
// predicates, so two concurrent rotations of the same token commit at most
// one successor. The successor inherits user and scope from the row it
// replaces.
func (s *Store) RotateRefreshToken(ctx context.Context, tokenHash string, clientID string, newTokenHash string, expiresAt time.Time, now time.Time) (storage.RefreshToken, error) {
	if err := ctx.Err(); err != nil {
		return storage.RefreshToken{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RefreshToken{}, fmt.Errorf("storage is not configured")
	}
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return storage.RefreshToken{}, storage.ErrNotFound
	}
	if strings.TrimSpace(newTokenHash) == "" {
		return storage.RefreshToken{}, fmt.Errorf("successor token hash is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.RefreshToken{}, fmt.Errorf("rotate refresh token begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
UPDATE oauth_refresh_tokens
SET revoked_at = ?
WHERE token_hash = ? AND client_id = ? AND revoked_at IS NULL AND expires_at > ?
`, toMillis(now), tokenHash, clientID, toMillis(now))
	if err != nil {
		return storage.RefreshToken{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.RefreshToken{}, fmt.Errorf("rotate refresh token rows: %w", err)
	}
	if rows == 0 {
		_ = tx.Rollback()
		return storage.RefreshToken{}, s.classifyRotateFailure(ctx, tokenHash, clientID, now)
	}

	old, err := scanRefreshToken(tx.QueryRowContext(ctx, `
SELECT token_hash, client_id, user_id, scope, created_at, expires_at, revoked_at
FROM oauth_refresh_tokens
WHERE token_hash = ?
`, tokenHash).Scan)
	if err != nil {
		return storage.RefreshToken{}, fmt.Errorf("load rotated refresh token: %w", err)
	}

	next := storage.RefreshToken{
		TokenHash: newTokenHash,
		ClientID:  old.ClientID,
		UserID:    old.UserID,
		Scope:     old.Scope,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO oauth_refresh_tokens (token_hash, client_id, user_id, scope, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, ?, ?, NULL)
`, next.TokenHash, next.ClientID, next.UserID, next.Scope, toMillis(next.CreatedAt), toMillis(next.ExpiresAt)); err != nil {
		return storage.RefreshToken{}, fmt.Errorf("insert successor refresh token: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.RefreshToken{}, fmt.Errorf("rotate refresh token commit: %w", err)
	}
	return next, nil
}

func (s *Store) classifyRotateFailure(ctx context.Context, tokenHash string, clientID string, now time.Time) error {
	stored, err := scanRefreshToken(s.sqlDB.QueryRowContext(ctx, `
SELECT token_hash, client_id, user_id, scope, created_at, expires_at, revoked_at
FROM oauth_refresh_tokens
WHERE token_hash = ?
`, tokenHash).Scan)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify refresh token failure: %w", err)
	}
	if stored.ClientID != clientID {
		return platformerrors.New(platformerrors.CodeGrantInvalid, "refresh token was issued to another client")
	}
	if stored.RevokedAt != nil {
		return platformerrors.New(platformerrors.CodeGrantUsed, "refresh token already rotated")
	}
	if !stored.ExpiresAt.After(now) {
		return platformerrors.New(platformerrors.CodeGrantExpired, "refresh token expired")
	}
	return platformerrors.New(platformerrors.CodeGrantInvalid, "refresh token not rotatable")
}

// DeleteExpiredOAuth sweeps expired pending authorizations, spent or expired
// codes, and dead refresh tokens.
func (s *Store) DeleteExpiredOAuth(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var deleted int64
	sweeps := []struct {
		name  string
		query string
	}{
		{"pending authorizations", `DELETE FROM oauth_pending_authorizations WHERE expires_at <= ?`},
		{"authorization codes", `DELETE FROM oauth_authorization_codes WHERE expires_at <= ? OR used_at IS NOT NULL`},
		{"refresh tokens", `DELETE FROM oauth_refresh_tokens WHERE expires_at <= ? OR revoked_at IS NOT NULL`},
	}
	for _, sweep := range sweeps {
		result, err := s.sqlDB.ExecContext(ctx, sweep.query, toMillis(now))
		if err != nil {
			return deleted, fmt.Errorf("delete expired %s: %w", sweep.name, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return deleted, fmt.Errorf("delete expired %s rows: %w", sweep.name, err)
		}
		deleted += rows
	}
	return deleted, nil
}

func scanPendingAuthorization(scan func(dest ...any) error) (storage.PendingAuthorization, error) {
	var (
		pending   storage.PendingAuthorization
		createdAt int64
		expiresAt int64
	)
	if err := scan(&pending.ID, &pending.ClientID, &pending.RedirectURI, &pending.Scope, &pending.State,
		&pending.CodeChallenge, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PendingAuthorization{}, storage.ErrNotFound
		}
		return storage.PendingAuthorization{}, fmt.Errorf("scan pending authorization: %w", err)
	}
	pending.CreatedAt = fromMillis(createdAt)
	pending.ExpiresAt = fromMillis(expiresAt)
	return pending, nil
}

func scanAuthorizationCode(scan func(dest ...any) error) (storage.AuthorizationCode, error) {
	var (
		code      storage.AuthorizationCode
		createdAt int64
		expiresAt int64
		usedAt    sql.NullInt64
	)
	if err := scan(&code.Code, &code.ClientID, &code.UserID, &code.RedirectURI, &code.Scope,
		&code.CodeChallenge, &createdAt, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AuthorizationCode{}, storage.ErrNotFound
		}
		return storage.AuthorizationCode{}, fmt.Errorf("scan authorization code: %w", err)
	}
	code.CreatedAt = fromMillis(createdAt)
	code.ExpiresAt = fromMillis(expiresAt)
	code.UsedAt = fromNullMillis(usedAt)
	return code, nil
}

func scanRefreshToken(scan func(dest ...any) error) (storage.RefreshToken, error) {
	var (
		token     storage.RefreshToken
		createdAt int64
		expiresAt int64
		revokedAt sql.NullInt64
	)
	if err := scan(&token.TokenHash, &token.ClientID, &token.UserID, &token.Scope,
		&createdAt, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RefreshToken{}, storage.ErrNotFound
		}
		return storage.RefreshToken{}, fmt.Errorf("scan refresh token: %w", err)
	}
	token.CreatedAt = fromMillis(createdAt)
	token.ExpiresAt = fromMillis(expiresAt)
	token.RevokedAt = fromNullMillis(revokedAt)
	return token, nil
}
