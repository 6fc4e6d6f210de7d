// Package allowlist decides which email addresses may sign in and which role
// they carry. Membership is a closed list: the configured owner, plus
// addresses the owner invited.
package allowlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// ErrNotAllowed indicates the address is not on the allowlist.
var ErrNotAllowed = apperrors.New(apperrors.CodeEmailNotAllowed, "email is not allowed to sign in")

// Resolver answers role questions against the stored allowlist.
type Resolver struct {
	store storage.AllowlistStore
	now   func() time.Time
}

// NewResolver builds a Resolver over the given store.
func NewResolver(store storage.AllowlistStore, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{store: store, now: now}
}

// Resolve returns the role granted to an email, or ErrNotAllowed.
func (r *Resolver) Resolve(ctx context.Context, email string) (user.Role, error) {
	if r == nil || r.store == nil {
		return "", fmt.Errorf("allowlist is not configured")
	}
	email = user.NormalizeEmail(email)
	if email == "" {
		return "", ErrNotAllowed
	}

	entry, err := r.store.GetAllowedEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrNotAllowed
		}
		return "", fmt.Errorf("resolve allowlist entry: %w", err)
	}
	if !entry.Role.Valid() {
		return "", fmt.Errorf("allowlist entry %q has invalid role %q", email, entry.Role)
	}
	return entry.Role, nil
}

// EnsureOwner seeds the configured owner address with the owner role. Safe
// to run on every startup; an existing entry keeps its first-sign-in stamp.
func (r *Resolver) EnsureOwner(ctx context.Context, email string) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("allowlist is not configured")
	}
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return fmt.Errorf("owner email: %w", err)
	}

	existing, err := r.store.GetAllowedEmail(ctx, email)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load owner entry: %w", err)
	}

	entry := storage.AllowedEmail{
		Email:     email,
		Role:      user.RoleOwner,
		CreatedAt: r.now().UTC(),
	}
	if err == nil {
		entry.InvitedBy = existing.InvitedBy
		entry.FirstSignedInAt = existing.FirstSignedInAt
		entry.CreatedAt = existing.CreatedAt
	}
	if err := r.store.PutAllowedEmail(ctx, entry); err != nil {
		return fmt.Errorf("seed owner entry: %w", err)
	}
	return nil
}

// Invite adds or updates an allowlist entry on behalf of an owner. Only the
// owner role may invite, and nobody grants the owner role by invite.
func (r *Resolver) Invite(ctx context.Context, inviter user.User, email string, role user.Role) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("allowlist is not configured")
	}
	if inviter.Role != user.RoleOwner {
		return apperrors.New(apperrors.CodePermissionDenied, "only the owner can manage the allowlist")
	}
	email = user.NormalizeEmail(email)
	if err := user.ValidateEmail(email); err != nil {
		return err
	}
	if !role.Valid() || role == user.RoleOwner {
		return user.ErrInvalidRole
	}

	entry := storage.AllowedEmail{
		Email:     email,
		Role:      role,
		InvitedBy: inviter.ID,
		CreatedAt: r.now().UTC(),
	}
	if err := r.store.PutAllowedEmail(ctx, entry); err != nil {
		return fmt.Errorf("put invite: %w", err)
	}
	return nil
}

// List returns every allowlist entry for owner review.
func (r *Resolver) List(ctx context.Context, requester user.User) ([]storage.AllowedEmail, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("allowlist is not configured")
	}
	if requester.Role != user.RoleOwner {
		return nil, apperrors.New(apperrors.CodePermissionDenied, "only the owner can manage the allowlist")
	}
	entries, err := r.store.ListAllowedEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("list allowlist: %w", err)
	}
	return entries, nil
}

// MarkFirstSignIn stamps the entry on a first successful authentication.
func (r *Resolver) MarkFirstSignIn(ctx context.Context, email string) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("allowlist is not configured")
	}
	if err := r.store.MarkFirstSignIn(ctx, user.NormalizeEmail(email), r.now().UTC()); err != nil {
		return fmt.Errorf("mark first sign in: %w", err)
	}
	return nil
}
