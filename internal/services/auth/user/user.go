// Package user provides identity records for authenticated members.
package user

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeEmailInvalid, "email is required")
	// ErrInvalidEmail indicates an email that does not match the required format.
	ErrInvalidEmail = apperrors.New(apperrors.CodeEmailInvalid, "email must be a valid address")
	// ErrInvalidRole indicates a role outside the known set.
	ErrInvalidRole = apperrors.New(apperrors.CodeRoleInvalid, "role must be owner, family, or friend")

	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// Role grants a member a coarse authorization tier.
type Role string

const (
	// RoleOwner administers the household: invites, client approvals.
	RoleOwner Role = "owner"
	// RoleFamily is a trusted member with full content access.
	RoleFamily Role = "family"
	// RoleFriend is a guest with limited content access.
	RoleFriend Role = "friend"
)

// Valid reports whether the role is one of the known tiers.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleFamily, RoleFriend:
		return true
	}
	return false
}

// ParseRole converts untrusted input into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

// User represents an authenticated identity record.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateUserInput describes the metadata needed to create a user.
type CreateUserInput struct {
	Email string
	Name  string
	Role  Role
}

// NormalizeEmail lowercases and trims an address so lookups and uniqueness
// checks agree across services.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateEmail enforces the canonical address shape used by the allowlist
// and magic link issuance.
func ValidateEmail(s string) error {
	if s == "" {
		return ErrEmptyEmail
	}
	if !emailPattern.MatchString(s) {
		return ErrInvalidEmail
	}
	return nil
}

// CreateUser creates a durable user identity from validated input.
//
// This is the canonical point where an allowlisted address becomes a stable
// identity used by sessions, consent, and tool grants.
func CreateUser(input CreateUserInput, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeCreateUserInput(input)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	createdAt := now().UTC()
	return User{
		ID:        userID,
		Email:     normalized.Email,
		Name:      normalized.Name,
		Role:      normalized.Role,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NormalizeCreateUserInput trims and normalizes input before validation.
func NormalizeCreateUserInput(input CreateUserInput) (CreateUserInput, error) {
	input.Email = NormalizeEmail(input.Email)
	if err := ValidateEmail(input.Email); err != nil {
		return CreateUserInput{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if !input.Role.Valid() {
		return CreateUserInput{}, ErrInvalidRole
	}
	return input, nil
}
