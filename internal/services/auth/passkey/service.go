package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/allowlist"
	"github.com/louisbranch/family.recipes/internal/services/auth/session"
	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs the WebAuthn ceremonies against the credential store.
type Service struct {
	users       storage.UserStore
	credentials storage.PasskeyStore
	resolver    *allowlist.Resolver
	sessions    *session.Manager
	tokens      signedtoken.Config
	cfg         Config
	webAuthn    provider
	parser      parser
	now         func() time.Time
}

// NewService wires the WebAuthn relying party for the configured origins.
func NewService(users storage.UserStore, credentials storage.PasskeyStore, resolver *allowlist.Resolver, sessions *session.Manager, tokens signedtoken.Config, cfg Config) (*Service, error) {
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Service{
		users:       users,
		credentials: credentials,
		resolver:    resolver,
		sessions:    sessions,
		tokens:      tokens,
		cfg:         cfg,
		webAuthn:    webAuthn,
		parser:      defaultParser{},
		now:         time.Now,
	}, nil
}

// Result carries the outcome of a completed login ceremony.
type Result struct {
	User         user.User
	Session      storage.Session
	CredentialID string
}

// BeginRegistration starts a credential creation ceremony for a signed-in
// member. The returned options feed navigator.credentials.create and the
// token is the signed challenge cookie bound to the member.
func (s *Service) BeginRegistration(ctx context.Context, u user.User) ([]byte, string, error) {
	// The allowlist is re-checked so a revoked member cannot extend an old
	// session with a new credential.
	if _, err := s.resolver.Resolve(ctx, u.Email); err != nil {
		return nil, "", err
	}
	passkeyUser, err := s.loadPasskeyUser(ctx, u)
	if err != nil {
		return nil, "", fmt.Errorf("load passkey user: %w", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(passkeyUser.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(passkeyUser.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := s.webAuthn.BeginRegistration(passkeyUser, options...)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey registration: %w", err)
	}
	token, err := s.issueChallenge(signedtoken.PurposeRegistration, u.ID, sessionData)
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, "", fmt.Errorf("encode registration options: %w", err)
	}
	return optionsJSON, token, nil
}

// FinishRegistration verifies the attestation response against the challenge
// cookie and persists the new credential. The cookie is one-shot: callers
// clear it whether or not this succeeds.
func (s *Service) FinishRegistration(ctx context.Context, u user.User, cookieToken string, responseJSON []byte) (string, error) {
	if len(responseJSON) == 0 {
		return "", apperrors.New(apperrors.CodeRequestInvalid, "credential response is required")
	}
	sessionData, challenge, err := s.openChallenge(cookieToken, signedtoken.PurposeRegistration)
	if err != nil {
		return "", err
	}
	if challenge.UserID != u.ID {
		return "", apperrors.New(apperrors.CodeChallengeInvalid, "challenge belongs to another user")
	}

	passkeyUser, err := s.loadPasskeyUser(ctx, u)
	if err != nil {
		return "", fmt.Errorf("load passkey user: %w", err)
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(responseJSON)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeRequestInvalid, "credential response is malformed", err)
	}
	credential, err := s.webAuthn.CreateCredential(passkeyUser, sessionData, parsed)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeVerificationFailed, "attestation verification failed", err)
	}

	credentialJSON, err := json.Marshal(credential)
	if err != nil {
		return "", fmt.Errorf("encode credential: %w", err)
	}
	credentialID := encodeCredentialID(credential.ID)
	now := s.now().UTC()
	if err := s.credentials.PutPasskeyCredential(ctx, storage.PasskeyCredential{
		CredentialID:   credentialID,
		UserID:         u.ID,
		CredentialJSON: credentialJSON,
		SignCount:      credential.Authenticator.SignCount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return "", err
	}
	return credentialID, nil
}

// BeginAuthentication starts a discoverable login ceremony. No user is known
// yet, so the challenge cookie carries only the ceremony state.
func (s *Service) BeginAuthentication(ctx context.Context) ([]byte, string, error) {
	assertion, sessionData, err := s.webAuthn.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin passkey login: %w", err)
	}
	token, err := s.issueChallenge(signedtoken.PurposeAuthentication, "", sessionData)
	if err != nil {
		return nil, "", err
	}
	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, "", fmt.Errorf("encode login options: %w", err)
	}
	return optionsJSON, token, nil
}

// FinishAuthentication verifies a login assertion, advances the credential
// counter, and opens a browser session.
//
// The counter write is conditional at the store. A same-or-lower counter
// leaves zero rows updated and the whole login fails, closing the window
// between two replays of a cloned authenticator.
func (s *Service) FinishAuthentication(ctx context.Context, cookieToken string, responseJSON []byte) (Result, error) {
	if len(responseJSON) == 0 {
		return Result{}, apperrors.New(apperrors.CodeRequestInvalid, "credential response is required")
	}
	sessionData, _, err := s.openChallenge(cookieToken, signedtoken.PurposeAuthentication)
	if err != nil {
		return Result{}, err
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(responseJSON)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeRequestInvalid, "credential response is malformed", err)
	}

	validatedUser, validatedCredential, err := s.webAuthn.ValidatePasskeyLogin(s.userHandler(ctx), sessionData, parsed)
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "assertion verification failed", err)
	}
	record, ok := validatedUser.(*webauthnUser)
	if !ok {
		return Result{}, fmt.Errorf("unexpected webauthn user type %T", validatedUser)
	}

	credentialJSON, err := json.Marshal(validatedCredential)
	if err != nil {
		return Result{}, fmt.Errorf("encode credential: %w", err)
	}
	credentialID := encodeCredentialID(validatedCredential.ID)
	if err := s.credentials.UpdatePasskeySignCount(ctx, credentialID, validatedCredential.Authenticator.SignCount, credentialJSON, s.now().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, apperrors.Wrap(apperrors.CodeVerificationFailed, "credential is not registered", err)
		}
		if apperrors.CodeOf(err) == apperrors.CodeCounterRegressed {
			log.Printf("passkey counter regressed for credential %s: rejecting login", credentialID)
			return Result{}, err
		}
		return Result{}, fmt.Errorf("update credential counter: %w", err)
	}

	browserSession, err := s.sessions.Create(ctx, record.user.ID)
	if err != nil {
		return Result{}, fmt.Errorf("create session: %w", err)
	}
	return Result{User: record.user, Session: browserSession, CredentialID: credentialID}, nil
}

// issueChallenge signs the library session data into a challenge cookie value.
func (s *Service) issueChallenge(purpose string, userID string, data *webauthn.SessionData) (string, error) {
	if data == nil {
		return "", fmt.Errorf("webauthn session data is required")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode webauthn session: %w", err)
	}
	token, err := signedtoken.EncodeChallenge(s.tokens, signedtoken.Challenge{
		Purpose:   purpose,
		UserID:    userID,
		Session:   payload,
		ExpiresAt: s.now().UTC().Add(s.cfg.ChallengeTTL),
	})
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return token, nil
}

// openChallenge verifies a challenge cookie value and recovers the ceremony
// state it carries.
func (s *Service) openChallenge(token string, purpose string) (webauthn.SessionData, signedtoken.Challenge, error) {
	challenge, err := signedtoken.DecodeChallenge(s.tokens, token, purpose)
	if err != nil {
		return webauthn.SessionData{}, signedtoken.Challenge{}, err
	}
	var data webauthn.SessionData
	if err := json.Unmarshal(challenge.Session, &data); err != nil {
		return webauthn.SessionData{}, signedtoken.Challenge{}, apperrors.Wrap(apperrors.CodeChallengeInvalid, "challenge session payload is malformed", err)
	}
	return data, challenge, nil
}

type webauthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webauthnUser) WebAuthnName() string {
	return u.user.Email
}

func (u *webauthnUser) WebAuthnDisplayName() string {
	if u.user.Name != "" {
		return u.user.Name
	}
	return u.user.Email
}

func (u *webauthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (s *Service) loadPasskeyUser(ctx context.Context, base user.User) (*webauthnUser, error) {
	records, err := s.credentials.ListPasskeyCredentials(ctx, base.ID)
	if err != nil {
		return nil, err
	}
	parsed, err := decodeStoredCredentials(records)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: base, credentials: parsed}, nil
}

func decodeStoredCredentials(records []storage.PasskeyCredential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		var credential webauthn.Credential
		if err := json.Unmarshal(record.CredentialJSON, &credential); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// userHandler resolves the account a discoverable assertion claims to be
// from. The user handle is the id the credential was registered under.
func (s *Service) userHandler(ctx context.Context) webauthn.DiscoverableUserHandler {
	return func(_, userHandle []byte) (webauthn.User, error) {
		userID := strings.TrimSpace(string(userHandle))
		if userID == "" {
			return nil, fmt.Errorf("user handle is required")
		}
		base, err := s.users.GetUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.loadPasskeyUser(ctx, base)
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
