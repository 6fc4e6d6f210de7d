// Package magiclink issues and redeems the single-use email sign-in links
// that bootstrap every other credential.
package magiclink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/allowlist"
	"github.com/louisbranch/family.recipes/internal/services/auth/email"
	"github.com/louisbranch/family.recipes/internal/services/auth/session"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// tokenLength is the link token entropy in bytes before hex encoding.
const tokenLength = 16

// Service issues and redeems magic links.
type Service struct {
	links    storage.MagicLinkStore
	users    storage.UserStore
	resolver *allowlist.Resolver
	sessions *session.Manager
	sender   email.Sender
	cfg      Config

	now         func() time.Time
	newToken    func() (string, error)
	idGenerator func() (string, error)
}

// NewService wires the magic link service.
func NewService(links storage.MagicLinkStore, users storage.UserStore, resolver *allowlist.Resolver, sessions *session.Manager, sender email.Sender, cfg Config) *Service {
	return &Service{
		links:    links,
		users:    users,
		resolver: resolver,
		sessions: sessions,
		sender:   sender,
		cfg:      cfg,
		now:      time.Now,
		newToken: generateToken,
	}
}

func generateToken() (string, error) {
	bytes := make([]byte, tokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate link token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Issue creates a link for an allowlisted address and mails it. Addresses
// off the allowlist return success with no side effects, so responses do not
// reveal membership; the real outcome lands in the server log only.
func (s *Service) Issue(ctx context.Context, address string, pendingID string) error {
	if s == nil || s.links == nil || s.resolver == nil || s.sender == nil {
		return fmt.Errorf("magic link service is not configured")
	}
	address = user.NormalizeEmail(address)
	if err := user.ValidateEmail(address); err != nil {
		return err
	}

	if _, err := s.resolver.Resolve(ctx, address); err != nil {
		if errors.Is(err, allowlist.ErrNotAllowed) {
			log.Printf("magic link request for non-allowlisted address dropped")
			return nil
		}
		return fmt.Errorf("resolve address: %w", err)
	}

	token, err := s.newToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	link := storage.MagicLink{
		Token:     token,
		Email:     address,
		PendingID: strings.TrimSpace(pendingID),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if err := s.links.PutMagicLink(ctx, link); err != nil {
		return fmt.Errorf("persist magic link: %w", err)
	}

	loginURL, err := buildLoginURL(s.cfg.BaseURL, token)
	if err != nil {
		return fmt.Errorf("build login url: %w", err)
	}
	if err := s.sender.SendMagicLink(ctx, address, loginURL); err != nil {
		return fmt.Errorf("send magic link: %w", err)
	}
	return nil
}

// Result is a successful redemption: the signed-in user, their fresh
// session, and the pending authorization the link carried, if any.
type Result struct {
	User      user.User
	Session   storage.Session
	PendingID string
}

// Redeem consumes a link and signs its owner in. The store distinguishes
// missing, expired, and replayed tokens; those reasons go to the log and
// collapse to one invalid-link error here, before anything reaches a client.
func (s *Service) Redeem(ctx context.Context, token string) (Result, error) {
	if s == nil || s.links == nil || s.users == nil || s.resolver == nil || s.sessions == nil {
		return Result{}, fmt.Errorf("magic link service is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Result{}, apperrors.New(apperrors.CodeMagicLinkInvalid, "magic link token is required")
	}

	link, err := s.links.ConsumeMagicLink(ctx, token, s.now().UTC())
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeMagicLinkExpired, apperrors.CodeMagicLinkUsed, apperrors.CodeNotFound:
			log.Printf("magic link redemption rejected: %v", err)
			return Result{}, apperrors.New(apperrors.CodeMagicLinkInvalid, "magic link is not valid")
		}
		return Result{}, fmt.Errorf("consume magic link: %w", err)
	}

	role, err := s.resolver.Resolve(ctx, link.Email)
	if err != nil {
		if errors.Is(err, allowlist.ErrNotAllowed) {
			return Result{}, allowlist.ErrNotAllowed
		}
		return Result{}, fmt.Errorf("resolve redeemed address: %w", err)
	}

	u, err := s.ensureUser(ctx, link.Email, role)
	if err != nil {
		return Result{}, err
	}
	if err := s.resolver.MarkFirstSignIn(ctx, link.Email); err != nil {
		return Result{}, err
	}

	loginSession, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{User: u, Session: loginSession, PendingID: link.PendingID}, nil
}

// ensureUser loads the account for an address, creating it on first sign-in
// and refreshing the stored role when the allowlist changed it.
func (s *Service) ensureUser(ctx context.Context, address string, role user.Role) (user.User, error) {
	existing, err := s.users.GetUserByEmail(ctx, address)
	if err == nil {
		if existing.Role == role {
			return existing, nil
		}
		existing.Role = role
		existing.UpdatedAt = s.now().UTC()
		if err := s.users.PutUser(ctx, existing); err != nil {
			return user.User{}, fmt.Errorf("refresh user role: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, fmt.Errorf("load user: %w", err)
	}

	created, err := user.CreateUser(user.CreateUserInput{Email: address, Role: role}, s.now, s.idGenerator)
	if err != nil {
		return user.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := s.users.PutUser(ctx, created); err != nil {
		return user.User{}, fmt.Errorf("persist user: %w", err)
	}
	return created, nil
}

func buildLoginURL(base string, token string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", fmt.Errorf("base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
