package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
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

type fakeUserStore struct {
	users map[string]user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]user.User)}
}

func (s *fakeUserStore) PutUser(_ context.Context, u user.User) error {
	s.users[u.ID] = u
	return nil
}

func (s *fakeUserStore) GetUser(_ context.Context, userID string) (user.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (s *fakeUserStore) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return user.User{}, storage.ErrNotFound
}

func (s *fakeUserStore) UpdateUserName(_ context.Context, userID string, name string, updatedAt time.Time) error {
	u, ok := s.users[userID]
	if !ok {
		return storage.ErrNotFound
	}
	u.Name = name
	u.UpdatedAt = updatedAt
	s.users[userID] = u
	return nil
}

type fakePasskeyStore struct {
	credentials map[string]storage.PasskeyCredential
	putErr      error
	listErr     error
}

func newFakePasskeyStore() *fakePasskeyStore {
	return &fakePasskeyStore{credentials: make(map[string]storage.PasskeyCredential)}
}

func (s *fakePasskeyStore) PutPasskeyCredential(_ context.Context, credential storage.PasskeyCredential) error {
	if s.putErr != nil {
		return s.putErr
	}
	if _, exists := s.credentials[credential.CredentialID]; exists {
		return apperrors.New(apperrors.CodeCredentialExists, "credential id is already registered")
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakePasskeyStore) GetPasskeyCredential(_ context.Context, credentialID string) (storage.PasskeyCredential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.PasskeyCredential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakePasskeyStore) ListPasskeyCredentials(_ context.Context, userID string) ([]storage.PasskeyCredential, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	credentials := make([]storage.PasskeyCredential, 0)
	for _, credential := range s.credentials {
		if credential.UserID == userID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (s *fakePasskeyStore) DeletePasskeyCredential(_ context.Context, credentialID string, userID string) error {
	credential, ok := s.credentials[credentialID]
	if !ok || credential.UserID != userID {
		return storage.ErrNotFound
	}
	delete(s.credentials, credentialID)
	return nil
}

func (s *fakePasskeyStore) UpdatePasskeySignCount(_ context.Context, credentialID string, signCount uint32, credentialJSON []byte, usedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	if credential.SignCount >= signCount {
		return apperrors.New(apperrors.CodeCounterRegressed, "credential counter did not advance")
	}
	credential.SignCount = signCount
	credential.CredentialJSON = credentialJSON
	credential.LastUsedAt = &usedAt
	credential.UpdatedAt = usedAt
	s.credentials[credentialID] = credential
	return nil
}

type fakeAllowlistStore struct {
	entries map[string]storage.AllowedEmail
}

func newFakeAllowlistStore() *fakeAllowlistStore {
	return &fakeAllowlistStore{entries: make(map[string]storage.AllowedEmail)}
}

func (s *fakeAllowlistStore) PutAllowedEmail(_ context.Context, entry storage.AllowedEmail) error {
	s.entries[entry.Email] = entry
	return nil
}

func (s *fakeAllowlistStore) GetAllowedEmail(_ context.Context, email string) (storage.AllowedEmail, error) {
	entry, ok := s.entries[email]
	if !ok {
		return storage.AllowedEmail{}, storage.ErrNotFound
	}
	return entry, nil
}

func (s *fakeAllowlistStore) ListAllowedEmails(_ context.Context) ([]storage.AllowedEmail, error) {
	entries := make([]storage.AllowedEmail, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *fakeAllowlistStore) MarkFirstSignIn(_ context.Context, email string, at time.Time) error {
	entry, ok := s.entries[email]
	if !ok {
		return nil
	}
	if entry.FirstSignedInAt == nil {
		entry.FirstSignedInAt = &at
		s.entries[email] = entry
	}
	return nil
}

type fakeSessionStore struct {
	sessions map[string]storage.Session
	putErr   error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]storage.Session)}
}

func (s *fakeSessionStore) PutSession(_ context.Context, session storage.Session) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.sessions[session.Token] = session
	return nil
}

func (s *fakeSessionStore) GetSession(_ context.Context, token string, now time.Time) (storage.Session, error) {
	session, ok := s.sessions[token]
	if !ok || !session.ExpiresAt.After(now) {
		return storage.Session{}, storage.ErrNotFound
	}
	return session, nil
}

func (s *fakeSessionStore) DeleteSession(_ context.Context, token string) error {
	delete(s.sessions, token)
	return nil
}

func (s *fakeSessionStore) DeleteExpiredSessions(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeProvider struct {
	credential           *webauthn.Credential
	userHandle           []byte
	beginRegistrationErr error
	beginLoginErr        error
	createErr            error
	validateErr          error
}

func (f *fakeProvider) BeginRegistration(_ webauthn.User, _ ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginRegistrationErr != nil {
		return nil, nil, f.beginRegistrationErr
	}
	return &protocol.CredentialCreation{}, &webauthn.SessionData{Challenge: "challenge"}, nil
}

func (f *fakeProvider) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.credential != nil {
		return f.credential, nil
	}
	return &webauthn.Credential{ID: []byte("cred")}, nil
}

func (f *fakeProvider) BeginDiscoverableLogin(_ ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginLoginErr != nil {
		return nil, nil, f.beginLoginErr
	}
	return &protocol.CredentialAssertion{}, &webauthn.SessionData{Challenge: "challenge"}, nil
}

func (f *fakeProvider) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	if f.validateErr != nil {
		return nil, nil, f.validateErr
	}
	resolved, err := handler(nil, f.userHandle)
	if err != nil {
		return nil, nil, err
	}
	credential := f.credential
	if credential == nil {
		credential = &webauthn.Credential{ID: []byte("cred")}
	}
	return resolved, credential, nil
}

type fakeParser struct {
	creationErr  error
	assertionErr error
}

func (f fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if f.creationErr != nil {
		return nil, f.creationErr
	}
	return &protocol.ParsedCredentialCreationData{}, nil
}

func (f fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if f.assertionErr != nil {
		return nil, f.assertionErr
	}
	return &protocol.ParsedCredentialAssertionData{}, nil
}

type fixture struct {
	service  *Service
	users    *fakeUserStore
	creds    *fakePasskeyStore
	allowed  *fakeAllowlistStore
	sessions *fakeSessionStore
	provider *fakeProvider
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		users:    newFakeUserStore(),
		creds:    newFakePasskeyStore(),
		allowed:  newFakeAllowlistStore(),
		sessions: newFakeSessionStore(),
		provider: &fakeProvider{},
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	tokens := signedtoken.Config{
		Issuer: "https://auth.family.test",
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Now:    clock,
	}
	cfg := Config{
		RPDisplayName: "Family Recipes",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8086"},
		ChallengeTTL:  5 * time.Minute,
	}
	resolver := allowlist.NewResolver(f.allowed, clock)
	sessions := session.NewManager(f.sessions, f.users)

	service, err := NewService(f.users, f.creds, resolver, sessions, tokens, cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	service.webAuthn = f.provider
	service.parser = fakeParser{}
	service.now = clock

	f.service = service
	return f
}

func (f *fixture) member(id string, email string) user.User {
	u := user.User{ID: id, Email: email, Role: user.RoleFamily, CreatedAt: f.now, UpdatedAt: f.now}
	f.users.users[id] = u
	f.allowed.entries[email] = storage.AllowedEmail{Email: email, Role: user.RoleFamily}
	return u
}

func (f *fixture) seedCredential(t *testing.T, userID string, rawID string, signCount uint32) string {
	t.Helper()
	credential := webauthn.Credential{ID: []byte(rawID), Authenticator: webauthn.Authenticator{SignCount: signCount}}
	payload, err := json.Marshal(credential)
	if err != nil {
		t.Fatalf("marshal credential: %v", err)
	}
	credentialID := encodeCredentialID(credential.ID)
	f.creds.credentials[credentialID] = storage.PasskeyCredential{
		CredentialID:   credentialID,
		UserID:         userID,
		CredentialJSON: payload,
		SignCount:      signCount,
		CreatedAt:      f.now,
		UpdatedAt:      f.now,
	}
	return credentialID
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with code %q", want)
	}
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("error code = %q, want %q (err: %v)", got, want, err)
	}
}

func TestBeginRegistration_IssuesOptionsAndCookie(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")

	optionsJSON, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	if len(optionsJSON) == 0 {
		t.Fatalf("expected creation options json")
	}
	if token == "" {
		t.Fatalf("expected challenge token")
	}

	challenge, err := signedtoken.DecodeChallenge(f.service.tokens, token, signedtoken.PurposeRegistration)
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.UserID != "user-1" {
		t.Errorf("challenge user id = %q, want %q", challenge.UserID, "user-1")
	}
	if !challenge.ExpiresAt.Equal(f.now.Add(5 * time.Minute)) {
		t.Errorf("challenge expiry = %v, want %v", challenge.ExpiresAt, f.now.Add(5*time.Minute))
	}
}

func TestBeginRegistration_RevokedMemberRejected(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")
	delete(f.allowed.entries, "cook@example.com")

	_, _, err := f.service.BeginRegistration(context.Background(), member)
	if !errors.Is(err, allowlist.ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestFinishRegistration_PersistsCredential(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")
	f.provider.credential = &webauthn.Credential{ID: []byte("cred-1"), Authenticator: webauthn.Authenticator{SignCount: 0}}

	_, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	credentialID, err := f.service.FinishRegistration(context.Background(), member, token, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish registration: %v", err)
	}
	if credentialID != encodeCredentialID([]byte("cred-1")) {
		t.Errorf("credential id = %q, want %q", credentialID, encodeCredentialID([]byte("cred-1")))
	}

	stored, ok := f.creds.credentials[credentialID]
	if !ok {
		t.Fatalf("expected stored credential")
	}
	if stored.UserID != "user-1" {
		t.Errorf("stored user id = %q, want %q", stored.UserID, "user-1")
	}
	if stored.SignCount != 0 {
		t.Errorf("stored sign count = %d, want 0", stored.SignCount)
	}
	if len(stored.CredentialJSON) == 0 {
		t.Errorf("expected stored credential json")
	}
}

func TestFinishRegistration_CookieFromOtherUser(t *testing.T) {
	f := newFixture(t)
	alpha := f.member("user-1", "cook@example.com")
	beta := f.member("user-2", "guest@example.com")

	_, token, err := f.service.BeginRegistration(context.Background(), alpha)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	_, err = f.service.FinishRegistration(context.Background(), beta, token, []byte(`{}`))
	assertCode(t, err, apperrors.CodeChallengeInvalid)
}

func TestFinishRegistration_ExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")

	_, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	f.now = f.now.Add(6 * time.Minute)

	_, err = f.service.FinishRegistration(context.Background(), member, token, []byte(`{}`))
	assertCode(t, err, apperrors.CodeChallengeExpired)
}

func TestFinishRegistration_TamperedCookie(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")

	_, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	_, err = f.service.FinishRegistration(context.Background(), member, token+"x", []byte(`{}`))
	assertCode(t, err, apperrors.CodeChallengeInvalid)
}

func TestFinishRegistration_DuplicateCredential(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")
	f.seedCredential(t, "user-1", "cred-1", 0)
	f.provider.credential = &webauthn.Credential{ID: []byte("cred-1")}

	_, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	_, err = f.service.FinishRegistration(context.Background(), member, token, []byte(`{}`))
	assertCode(t, err, apperrors.CodeCredentialExists)
}

func TestFinishRegistration_EmptyResponse(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")

	_, err := f.service.FinishRegistration(context.Background(), member, "token", nil)
	assertCode(t, err, apperrors.CodeRequestInvalid)
}

func TestFinishRegistration_VerificationFailure(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")
	f.provider.createErr = fmt.Errorf("attestation mismatch")

	_, token, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	_, err = f.service.FinishRegistration(context.Background(), member, token, []byte(`{}`))
	assertCode(t, err, apperrors.CodeVerificationFailed)
}

func TestBeginAuthentication_IssuesAnonymousChallenge(t *testing.T) {
	f := newFixture(t)

	optionsJSON, token, err := f.service.BeginAuthentication(context.Background())
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	if len(optionsJSON) == 0 {
		t.Fatalf("expected assertion options json")
	}

	challenge, err := signedtoken.DecodeChallenge(f.service.tokens, token, signedtoken.PurposeAuthentication)
	if err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if challenge.UserID != "" {
		t.Errorf("challenge user id = %q, want empty", challenge.UserID)
	}
}

func TestFinishAuthentication_OpensSession(t *testing.T) {
	f := newFixture(t)
	f.member("user-1", "cook@example.com")
	credentialID := f.seedCredential(t, "user-1", "cred-1", 5)
	f.provider.userHandle = []byte("user-1")
	f.provider.credential = &webauthn.Credential{ID: []byte("cred-1"), Authenticator: webauthn.Authenticator{SignCount: 6}}

	_, token, err := f.service.BeginAuthentication(context.Background())
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	result, err := f.service.FinishAuthentication(context.Background(), token, []byte(`{}`))
	if err != nil {
		t.Fatalf("finish authentication: %v", err)
	}
	if result.User.ID != "user-1" {
		t.Errorf("result user = %q, want %q", result.User.ID, "user-1")
	}
	if result.CredentialID != credentialID {
		t.Errorf("result credential = %q, want %q", result.CredentialID, credentialID)
	}
	if _, ok := f.sessions.sessions[result.Session.Token]; !ok {
		t.Fatalf("expected persisted session")
	}

	stored := f.creds.credentials[credentialID]
	if stored.SignCount != 6 {
		t.Errorf("stored sign count = %d, want 6", stored.SignCount)
	}
	if stored.LastUsedAt == nil {
		t.Errorf("expected last used stamp")
	}
}

func TestFinishAuthentication_CounterRegressed(t *testing.T) {
	f := newFixture(t)
	f.member("user-1", "cook@example.com")
	credentialID := f.seedCredential(t, "user-1", "cred-1", 5)
	f.provider.userHandle = []byte("user-1")

	for _, signCount := range []uint32{5, 4} {
		f.provider.credential = &webauthn.Credential{ID: []byte("cred-1"), Authenticator: webauthn.Authenticator{SignCount: signCount}}

		_, token, err := f.service.BeginAuthentication(context.Background())
		if err != nil {
			t.Fatalf("begin authentication: %v", err)
		}
		_, err = f.service.FinishAuthentication(context.Background(), token, []byte(`{}`))
		assertCode(t, err, apperrors.CodeCounterRegressed)
	}

	if got := f.creds.credentials[credentialID].SignCount; got != 5 {
		t.Errorf("stored sign count = %d, want unchanged 5", got)
	}
	if len(f.sessions.sessions) != 0 {
		t.Errorf("sessions created = %d, want 0", len(f.sessions.sessions))
	}
}

func TestFinishAuthentication_WrongPurposeCookie(t *testing.T) {
	f := newFixture(t)
	member := f.member("user-1", "cook@example.com")

	_, registrationToken, err := f.service.BeginRegistration(context.Background(), member)
	if err != nil {
		t.Fatalf("begin registration: %v", err)
	}
	_, err = f.service.FinishAuthentication(context.Background(), registrationToken, []byte(`{}`))
	assertCode(t, err, apperrors.CodeChallengeInvalid)
}

func TestFinishAuthentication_UnknownUserHandle(t *testing.T) {
	f := newFixture(t)
	f.provider.userHandle = []byte("ghost")

	_, token, err := f.service.BeginAuthentication(context.Background())
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	_, err = f.service.FinishAuthentication(context.Background(), token, []byte(`{}`))
	assertCode(t, err, apperrors.CodeVerificationFailed)
}

func TestFinishAuthentication_CounterAdvancesEvenWhenSessionFails(t *testing.T) {
	f := newFixture(t)
	f.member("user-1", "cook@example.com")
	credentialID := f.seedCredential(t, "user-1", "cred-1", 5)
	f.provider.userHandle = []byte("user-1")
	f.provider.credential = &webauthn.Credential{ID: []byte("cred-1"), Authenticator: webauthn.Authenticator{SignCount: 6}}
	f.sessions.putErr = fmt.Errorf("disk full")

	_, token, err := f.service.BeginAuthentication(context.Background())
	if err != nil {
		t.Fatalf("begin authentication: %v", err)
	}
	if _, err := f.service.FinishAuthentication(context.Background(), token, []byte(`{}`)); err == nil {
		t.Fatalf("expected error")
	}

	if got := f.creds.credentials[credentialID].SignCount; got != 6 {
		t.Errorf("stored sign count = %d, want 6", got)
	}
}
