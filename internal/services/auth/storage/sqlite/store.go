package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/family.recipes/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage/sqlite/migrations"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
	_ "modernc.org/sqlite"
)

// Store implements auth persistence over SQLite.
//
// A single SQLite file backs identity state so every auth subflow shares the
// same transaction and visibility boundaries. OAuth grant tables live in the
// same file, so a session, its grants, and its codes expire together.
type Store struct {
	sqlDB *sql.DB
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	restored := fromMillis(value.Int64)
	return &restored
}

// Open opens an auth SQLite store at the provided path and applies bundled
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.Apply(context.Background(), s.sqlDB, migrations.FS)
}

// PutUser persists one user record.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("user id is required")
	}
	email := user.NormalizeEmail(u.Email)
	if email == "" {
		return fmt.Errorf("user email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, name, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    email = excluded.email,
    name = excluded.name,
    role = excluded.role,
    updated_at = excluded.updated_at
`, u.ID, email, u.Name, string(u.Role), toMillis(u.CreatedAt), toMillis(u.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return user.User{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, name, role, created_at, updated_at
FROM users
WHERE id = ?
`, userID)
	return scanUser(row.Scan)
}

// GetUserByEmail loads one user by normalized email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, fmt.Errorf("storage is not configured")
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return user.User{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, name, role, created_at, updated_at
FROM users
WHERE email = ?
`, email)
	return scanUser(row.Scan)
}

// UpdateUserName updates the mutable display name on a user record.
func (s *Store) UpdateUserName(ctx context.Context, userID string, name string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users SET name = ?, updated_at = ? WHERE id = ?
`, strings.TrimSpace(name), toMillis(updatedAt), userID)
	if err != nil {
		return fmt.Errorf("update user name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user name rows: %w", err)
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanUser(scan func(dest ...any) error) (user.User, error) {
	var (
		u         user.User
		role      string
		createdAt int64
		updatedAt int64
	)
	if err := scan(&u.ID, &u.Email, &u.Name, &role, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.Role = user.Role(role)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

// PutAllowedEmail inserts or updates one allowlist entry.
//
// Role and inviter update on conflict; the first-sign-in stamp never moves
// backward through this path.
func (s *Store) PutAllowedEmail(ctx context.Context, entry storage.AllowedEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	email := user.NormalizeEmail(entry.Email)
	if email == "" {
		return fmt.Errorf("allowlist email is required")
	}
	if !entry.Role.Valid() {
		return user.ErrInvalidRole
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO allowed_emails (email, role, invited_by, first_signed_in_at, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(email) DO UPDATE SET
    role = excluded.role,
    invited_by = excluded.invited_by
`, email, string(entry.Role), entry.InvitedBy, toNullMillis(entry.FirstSignedInAt), toMillis(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("put allowed email: %w", err)
	}
	return nil
}

// GetAllowedEmail loads one allowlist entry by normalized email.
func (s *Store) GetAllowedEmail(ctx context.Context, email string) (storage.AllowedEmail, error) {
	if err := ctx.Err(); err != nil {
		return storage.AllowedEmail{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.AllowedEmail{}, fmt.Errorf("storage is not configured")
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return storage.AllowedEmail{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT email, role, invited_by, first_signed_in_at, created_at
FROM allowed_emails
WHERE email = ?
`, email)
	return scanAllowedEmail(row.Scan)
}

// ListAllowedEmails lists every allowlist entry ordered by address.
func (s *Store) ListAllowedEmails(ctx context.Context) ([]storage.AllowedEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT email, role, invited_by, first_signed_in_at, created_at
FROM allowed_emails
ORDER BY email
`)
	if err != nil {
		return nil, fmt.Errorf("list allowed emails: %w", err)
	}
	defer rows.Close()

	var entries []storage.AllowedEmail
	for rows.Next() {
		entry, err := scanAllowedEmail(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowed emails: %w", err)
	}
	return entries, nil
}

// MarkFirstSignIn stamps first_signed_in_at once; replays are no-ops.
func (s *Store) MarkFirstSignIn(ctx context.Context, email string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("allowlist email is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE allowed_emails
SET first_signed_in_at = ?
WHERE email = ? AND first_signed_in_at IS NULL
`, toMillis(at), email)
	if err != nil {
		return fmt.Errorf("mark first sign in: %w", err)
	}
	return nil
}

func scanAllowedEmail(scan func(dest ...any) error) (storage.AllowedEmail, error) {
	var (
		entry         storage.AllowedEmail
		role          string
		firstSignedIn sql.NullInt64
		createdAt     int64
	)
	if err := scan(&entry.Email, &role, &entry.InvitedBy, &firstSignedIn, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AllowedEmail{}, storage.ErrNotFound
		}
		return storage.AllowedEmail{}, fmt.Errorf("scan allowed email: %w", err)
	}
	entry.Role = user.Role(role)
	entry.FirstSignedInAt = fromNullMillis(firstSignedIn)
	entry.CreatedAt = fromMillis(createdAt)
	return entry, nil
}
