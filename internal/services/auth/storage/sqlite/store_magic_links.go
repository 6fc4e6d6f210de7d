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
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// PutMagicLink persists one pending magic link.
func (s *Store) PutMagicLink(ctx context.Context, link storage.MagicLink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(link.Token) == "" {
		return fmt.Errorf("magic link token is required")
	}
	email := user.NormalizeEmail(link.Email)
	if email == "" {
		return fmt.Errorf("magic link email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO magic_links (token, email, pending_id, created_at, expires_at, used_at)
VALUES (?, ?, ?, ?, ?, ?)
`, link.Token, email, link.PendingID, toMillis(link.CreatedAt), toMillis(link.ExpiresAt), toNullMillis(link.UsedAt))
	if err != nil {
		return fmt.Errorf("put magic link: %w", err)
	}
	return nil
}

// ConsumeMagicLink marks one link used through a single conditional write.
//
// The update predicate carries the full redemption rule, so two concurrent
// redeemers race on one row and exactly one write lands. The follow-up read
// only classifies the loser's failure.
func (s *Store) ConsumeMagicLink(ctx context.Context, token string, now time.Time) (storage.MagicLink, error) {
	if err := ctx.Err(); err != nil {
		return storage.MagicLink{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.MagicLink{}, fmt.Errorf("storage is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return storage.MagicLink{}, storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE magic_links
SET used_at = ?
WHERE token = ? AND used_at IS NULL AND expires_at > ?
`, toMillis(now), token, toMillis(now))
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("consume magic link: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("consume magic link rows: %w", err)
	}
	if rows == 0 {
		return storage.MagicLink{}, s.classifyConsumeFailure(ctx, token, now)
	}

	link, err := s.getMagicLink(ctx, token)
	if err != nil {
		return storage.MagicLink{}, fmt.Errorf("load consumed magic link: %w", err)
	}
	return link, nil
}

// classifyConsumeFailure distinguishes missing, expired, and replayed links
// after the conditional write already lost. The answer feeds logs only;
// callers collapse all three before anything reaches a response.
func (s *Store) classifyConsumeFailure(ctx context.Context, token string, now time.Time) error {
	link, err := s.getMagicLink(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("classify magic link failure: %w", err)
	}
	if link.UsedAt != nil {
		return platformerrors.New(platformerrors.CodeMagicLinkUsed, "magic link already used")
	}
	if !link.ExpiresAt.After(now) {
		return platformerrors.New(platformerrors.CodeMagicLinkExpired, "magic link expired")
	}
	return platformerrors.New(platformerrors.CodeMagicLinkInvalid, "magic link not consumable")
}

func (s *Store) getMagicLink(ctx context.Context, token string) (storage.MagicLink, error) {
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT token, email, pending_id, created_at, expires_at, used_at
FROM magic_links
WHERE token = ?
`, token)
	return scanMagicLink(row.Scan)
}

// DeleteExpiredMagicLinks removes links past expiry plus consumed leftovers.
func (s *Store) DeleteExpiredMagicLinks(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM magic_links
WHERE expires_at <= ? OR used_at IS NOT NULL
`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired magic links rows: %w", err)
	}
	return rows, nil
}

func scanMagicLink(scan func(dest ...any) error) (storage.MagicLink, error) {
	var (
		link      storage.MagicLink
		createdAt int64
		expiresAt int64
		usedAt    sql.NullInt64
	)
	if err := scan(&link.Token, &link.Email, &link.PendingID, &createdAt, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.MagicLink{}, storage.ErrNotFound
		}
		return storage.MagicLink{}, fmt.Errorf("scan magic link: %w", err)
	}
	link.CreatedAt = fromMillis(createdAt)
	link.ExpiresAt = fromMillis(expiresAt)
	link.UsedAt = fromNullMillis(usedAt)
	return link, nil
}
