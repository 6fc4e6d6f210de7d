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

// PutPasskeyCredential inserts one credential. Registering an id that already
// exists fails rather than overwriting another user's credential.
func (s *Store) PutPasskeyCredential(ctx context.Context, credential storage.PasskeyCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.UserID) == "" {
		return fmt.Errorf("credential user id is required")
	}
	if len(credential.CredentialJSON) == 0 {
		return fmt.Errorf("credential payload is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO passkey_credentials
    (credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id) DO NOTHING
`, credential.CredentialID, credential.UserID, credential.CredentialJSON, int64(credential.SignCount),
		toMillis(credential.CreatedAt), toMillis(credential.UpdatedAt), toNullMillis(credential.LastUsedAt))
	if err != nil {
		return fmt.Errorf("put passkey credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("put passkey credential rows: %w", err)
	}
	if rows == 0 {
		return platformerrors.New(platformerrors.CodeCredentialExists, "passkey credential already registered")
	}
	return nil
}

// GetPasskeyCredential loads one credential by id.
func (s *Store) GetPasskeyCredential(ctx context.Context, credentialID string) (storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return storage.PasskeyCredential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.PasskeyCredential{}, fmt.Errorf("storage is not configured")
	}
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at
FROM passkey_credentials
WHERE credential_id = ?
`, credentialID)
	return scanPasskeyCredential(row.Scan)
}

// ListPasskeyCredentials lists a user's credentials oldest first.
func (s *Store) ListPasskeyCredentials(ctx context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id, user_id, credential_json, sign_count, created_at, updated_at, last_used_at
FROM passkey_credentials
WHERE user_id = ?
ORDER BY created_at, credential_id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list passkey credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.PasskeyCredential
	for rows.Next() {
		credential, err := scanPasskeyCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passkey credentials: %w", err)
	}
	return credentials, nil
}

// DeletePasskeyCredential removes one credential owned by the given user.
func (s *Store) DeletePasskeyCredential(ctx context.Context, credentialID string, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	credentialID = strings.TrimSpace(credentialID)
	userID = strings.TrimSpace(userID)
	if credentialID == "" || userID == "" {
		return storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM passkey_credentials WHERE credential_id = ? AND user_id = ?
`, credentialID, userID)
	if err != nil {
		return fmt.Errorf("delete passkey credential: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete passkey credential rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdatePasskeySignCount advances the stored counter through one conditional
// write. The predicate requires strict growth, so a cloned authenticator
// replaying an old or equal counter updates zero rows and fails closed.
func (s *Store) UpdatePasskeySignCount(ctx context.Context, credentialID string, signCount uint32, credentialJSON []byte, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkey_credentials
SET sign_count = ?, credential_json = ?, last_used_at = ?, updated_at = ?
WHERE credential_id = ? AND sign_count < ?
`, int64(signCount), credentialJSON, toMillis(usedAt), toMillis(usedAt), credentialID, int64(signCount))
	if err != nil {
		return fmt.Errorf("update passkey sign count: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update passkey sign count rows: %w", err)
	}
	if rows == 0 {
		return s.classifySignCountFailure(ctx, credentialID)
	}
	return nil
}

func (s *Store) classifySignCountFailure(ctx context.Context, credentialID string) error {
	_, err := s.GetPasskeyCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify sign count failure: %w", err)
	}
	return platformerrors.New(platformerrors.CodeCounterRegressed, "authenticator counter did not advance")
}

func scanPasskeyCredential(scan func(dest ...any) error) (storage.PasskeyCredential, error) {
	var (
		credential storage.PasskeyCredential
		signCount  int64
		createdAt  int64
		updatedAt  int64
		lastUsedAt sql.NullInt64
	)
	if err := scan(&credential.CredentialID, &credential.UserID, &credential.CredentialJSON,
		&signCount, &createdAt, &updatedAt, &lastUsedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PasskeyCredential{}, storage.ErrNotFound
		}
		return storage.PasskeyCredential{}, fmt.Errorf("scan passkey credential: %w", err)
	}
	credential.SignCount = uint32(signCount)
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	credential.LastUsedAt = fromNullMillis(lastUsedAt)
	return credential, nil
}
