// Package signedtoken signs and verifies the compact tokens the auth service
// hands to clients: passkey challenge cookies and OAuth access tokens. Both
// are HS256 JWTs under one shared secret, so resource servers can verify
// access tokens locally without a store round trip.
package signedtoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/platform/id"
)

// Challenge purposes bind a cookie to one ceremony kind.
const (
	PurposeRegistration   = "passkey_registration"
	PurposeAuthentication = "passkey_authentication"
)

const signingMethod = "HS256"

// Challenge is the verified payload of a passkey challenge cookie.
type Challenge struct {
	Purpose   string
	UserID    string
	Session   json.RawMessage
	ExpiresAt time.Time
}

// challengeClaims is the internal claims type used for JWT parsing.
type challengeClaims struct {
	jwt.RegisteredClaims
	Purpose string          `json:"purpose"`
	UserID  string          `json:"user_id,omitempty"`
	Session json.RawMessage `json:"session"`
}

// AccessGrant is the verified payload of an OAuth access token.
type AccessGrant struct {
	ClientID  string
	UserID    string
	Scope     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// accessClaims is the internal claims type used for JWT parsing.
type accessClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Scope  string `json:"scope"`
}

// EncodeChallenge signs a passkey challenge cookie payload.
func EncodeChallenge(cfg Config, challenge Challenge) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if challenge.Purpose != PurposeRegistration && challenge.Purpose != PurposeAuthentication {
		return "", fmt.Errorf("unknown challenge purpose %q", challenge.Purpose)
	}
	if len(challenge.Session) == 0 {
		return "", errors.New("challenge session payload is required")
	}
	if challenge.ExpiresAt.IsZero() {
		return "", errors.New("challenge expiry is required")
	}

	now := cfg.now()
	claims := challengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(challenge.ExpiresAt),
		},
		Purpose: challenge.Purpose,
		UserID:  challenge.UserID,
		Session: challenge.Session,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge token: %w", err)
	}
	return signed, nil
}

// DecodeChallenge verifies a challenge cookie and checks it carries the
// expected purpose. Expiry uses the configured clock; a token expiring
// exactly now is expired.
func DecodeChallenge(cfg Config, token string, purpose string) (Challenge, error) {
	if err := cfg.validate(); err != nil {
		return Challenge{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "challenge token is required")
	}

	var parsed challengeClaims
	if err := parseInto(cfg, token, &parsed); err != nil {
		return Challenge{}, mapJWTError(err, apperrors.CodeChallengeInvalid)
	}
	if parsed.Issuer != cfg.Issuer {
		return Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "challenge issuer mismatch")
	}
	if parsed.Purpose != purpose {
		return Challenge{}, apperrors.WithMetadata(
			apperrors.CodeChallengeInvalid,
			"challenge purpose mismatch",
			map[string]string{"Purpose": parsed.Purpose},
		)
	}
	if parsed.ExpiresAt == nil {
		return Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "challenge exp is required")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(cfg.now()) {
		return Challenge{}, apperrors.New(apperrors.CodeChallengeExpired, "challenge is expired")
	}
	if len(parsed.Session) == 0 {
		return Challenge{}, apperrors.New(apperrors.CodeChallengeInvalid, "challenge session payload is missing")
	}

	return Challenge{
		Purpose:   parsed.Purpose,
		UserID:    parsed.UserID,
		Session:   parsed.Session,
		ExpiresAt: exp,
	}, nil
}

// EncodeAccessToken signs an OAuth access token.
func EncodeAccessToken(cfg Config, grant AccessGrant) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if strings.TrimSpace(grant.ClientID) == "" {
		return "", errors.New("access grant client id is required")
	}
	if strings.TrimSpace(grant.UserID) == "" {
		return "", errors.New("access grant user id is required")
	}
	if grant.ExpiresAt.IsZero() {
		return "", errors.New("access grant expiry is required")
	}

	issuedAt := grant.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = cfg.now()
	}
	tokenID := grant.ID
	if tokenID == "" {
		generated, err := id.NewID()
		if err != nil {
			return "", fmt.Errorf("generate token id: %w", err)
		}
		tokenID = generated
	}

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   grant.ClientID,
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
		UserID: grant.UserID,
		Scope:  grant.Scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// DecodeAccessToken verifies an access token's signature and expiry. Those
// two checks are the whole validity rule; nothing is looked up in a store.
func DecodeAccessToken(cfg Config, token string) (AccessGrant, error) {
	if err := cfg.validate(); err != nil {
		return AccessGrant{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenInvalid, "access token is required")
	}

	var parsed accessClaims
	if err := parseInto(cfg, token, &parsed); err != nil {
		return AccessGrant{}, mapJWTError(err, apperrors.CodeTokenInvalid)
	}
	if parsed.Issuer != cfg.Issuer {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenInvalid, "access token issuer mismatch")
	}
	if parsed.Subject == "" {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenInvalid, "access token sub is required")
	}
	if parsed.UserID == "" {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenInvalid, "access token user_id is required")
	}
	if parsed.ExpiresAt == nil {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenInvalid, "access token exp is required")
	}
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(cfg.now()) {
		return AccessGrant{}, apperrors.New(apperrors.CodeTokenExpired, "access token is expired")
	}

	grant := AccessGrant{
		ClientID:  parsed.Subject,
		UserID:    parsed.UserID,
		Scope:     parsed.Scope,
		ExpiresAt: exp,
		ID:        parsed.ID,
	}
	if parsed.IssuedAt != nil {
		grant.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return grant, nil
}

// parseInto verifies the signature and fills claims without library-side
// time validation; expiry is checked against the configured clock.
func parseInto(cfg Config, token string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		return cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithoutClaimsValidation(),
	)
	return err
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error, code apperrors.Code) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(code, "token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(code, "token alg is invalid")
	}
	return apperrors.New(code, "token is malformed")
}
