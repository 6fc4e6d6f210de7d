package oauth

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/louisbranch/family.recipes/internal/platform/id"
	"github.com/louisbranch/family.recipes/internal/services/auth/platform/sessioncookie"
	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

type authorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

type loginView struct {
	AppName    string
	PendingID  string
	ClientID   string
	ClientName string
	Email      string
	Sent       bool
	Error      string
}

type consentView struct {
	AppName    string
	PendingID  string
	ClientID   string
	ClientName string
	Username   string
	Scopes     []string
}

type errorView struct {
	AppName          string
	Error            string
	ErrorDescription string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	params := r.URL.Query()
	request := authorizeRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	client := s.clientForID(request.ClientID)
	if client == nil {
		s.renderError(w, "invalid_client", "Unknown client_id", http.StatusBadRequest)
		return
	}

	if request.RedirectURI == "" {
		s.renderError(w, "invalid_request", "redirect_uri is required", http.StatusBadRequest)
		return
	}
	if !redirectURIAllowed(request.RedirectURI, client.RedirectURIs) {
		s.renderError(w, "invalid_request", "redirect_uri is not registered", http.StatusBadRequest)
		return
	}

	// The redirect target is trusted from here on; remaining failures go back
	// to the client instead of rendering a dead-end page.
	if request.ResponseType != "code" {
		s.redirectError(w, r, request.RedirectURI, request.State, "unsupported_response_type", "only the code response type is supported")
		return
	}
	if request.CodeChallenge == "" {
		s.redirectError(w, r, request.RedirectURI, request.State, "invalid_request", "code_challenge is required")
		return
	}
	if request.CodeChallengeMethod != "S256" {
		s.redirectError(w, r, request.RedirectURI, request.State, "invalid_request", "code_challenge_method must be S256")
		return
	}
	if !ValidateCodeChallenge(request.CodeChallenge) {
		s.redirectError(w, r, request.RedirectURI, request.State, "invalid_request", "invalid code_challenge format")
		return
	}

	pendingID, err := id.NewID()
	if err != nil {
		s.redirectError(w, r, request.RedirectURI, request.State, "server_error", "failed to create authorization request")
		return
	}
	now := s.clock().UTC()
	pending := storage.PendingAuthorization{
		ID:            pendingID,
		ClientID:      client.ID,
		RedirectURI:   request.RedirectURI,
		Scope:         normalizeScope(request.Scope),
		State:         request.State,
		CodeChallenge: request.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.config.PendingAuthorizationTTL),
	}
	if err := s.store.PutPendingAuthorization(r.Context(), pending); err != nil {
		s.redirectError(w, r, request.RedirectURI, request.State, "server_error", "failed to create authorization request")
		return
	}

	if _, ok := s.currentUser(r); ok {
		http.Redirect(w, r, "/authorize/consent?pending_id="+url.QueryEscape(pendingID), http.StatusFound)
		return
	}

	view := loginView{
		AppName:    appName,
		PendingID:  pendingID,
		ClientID:   client.ID,
		ClientName: clientDisplayName(client),
	}
	if err := templates.ExecuteTemplate(w, "login.html", view); err != nil {
		http.Error(w, "failed to render login", http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	pendingID := strings.TrimSpace(r.FormValue("pending_id"))
	email := strings.TrimSpace(r.FormValue("email"))

	pending, err := s.store.GetPendingAuthorization(r.Context(), pendingID, s.clock().UTC())
	if err != nil {
		s.renderError(w, "invalid_request", "authorization session expired", http.StatusBadRequest)
		return
	}

	if email == "" {
		s.renderLoginError(w, pending, "email is required")
		return
	}
	if err := s.links.Issue(r.Context(), email, pending.ID); err != nil {
		log.Printf("sign-in link for pending authorization %s failed: %v", pending.ID, err)
		s.renderLoginError(w, pending, "could not send a sign-in link, try again")
		return
	}

	// Issue reports success for unknown addresses too, so this page cannot be
	// used to probe the allowlist.
	view := loginView{
		AppName:    appName,
		PendingID:  pending.ID,
		ClientID:   pending.ClientID,
		ClientName: clientDisplayName(s.clientForID(pending.ClientID)),
		Email:      email,
		Sent:       true,
	}
	if err := templates.ExecuteTemplate(w, "login.html", view); err != nil {
		http.Error(w, "failed to render login", http.StatusInternalServerError)
	}
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		pendingID := strings.TrimSpace(r.URL.Query().Get("pending_id"))
		pending, err := s.store.GetPendingAuthorization(r.Context(), pendingID, s.clock().UTC())
		if err != nil {
			s.renderError(w, "invalid_request", "authorization session expired", http.StatusBadRequest)
			return
		}
		u, ok := s.currentUser(r)
		if !ok {
			s.renderError(w, "invalid_request", "login required", http.StatusUnauthorized)
			return
		}
		s.renderConsentView(w, pending, u)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}

	pendingID := strings.TrimSpace(r.FormValue("pending_id"))
	decision := strings.TrimSpace(r.FormValue("decision"))

	pending, err := s.store.GetPendingAuthorization(r.Context(), pendingID, s.clock().UTC())
	if err != nil {
		s.renderError(w, "invalid_request", "authorization session expired", http.StatusBadRequest)
		return
	}
	u, ok := s.currentUser(r)
	if !ok {
		s.renderError(w, "invalid_request", "login required", http.StatusUnauthorized)
		return
	}

	// The stored row is re-checked against live config so a client removed or
	// edited mid-flow cannot be approved from a stale form.
	client := s.clientForID(pending.ClientID)
	if client == nil {
		s.renderError(w, "invalid_client", "client is no longer registered", http.StatusBadRequest)
		return
	}
	if !redirectURIAllowed(pending.RedirectURI, client.RedirectURIs) {
		s.renderError(w, "invalid_request", "redirect_uri is not registered", http.StatusBadRequest)
		return
	}

	defer func() {
		_ = s.store.DeletePendingAuthorization(r.Context(), pending.ID)
	}()

	if decision != "allow" {
		s.redirectError(w, r, pending.RedirectURI, pending.State, "access_denied", "user denied the request")
		return
	}

	code, err := newGrantToken()
	if err != nil {
		s.redirectError(w, r, pending.RedirectURI, pending.State, "server_error", "failed to create authorization code")
		return
	}
	now := s.clock().UTC()
	record := storage.AuthorizationCode{
		Code:          code,
		ClientID:      pending.ClientID,
		UserID:        u.ID,
		RedirectURI:   pending.RedirectURI,
		Scope:         pending.Scope,
		CodeChallenge: pending.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.config.AuthorizationCodeTTL),
	}
	if err := s.store.PutAuthorizationCode(r.Context(), record); err != nil {
		s.redirectError(w, r, pending.RedirectURI, pending.State, "server_error", "failed to create authorization code")
		return
	}

	redirectURL, err := url.Parse(pending.RedirectURI)
	if err != nil {
		s.renderError(w, "server_error", "invalid redirect uri", http.StatusInternalServerError)
		return
	}
	query := redirectURL.Query()
	query.Set("code", code)
	if pending.State != "" {
		query.Set("state", pending.State)
	}
	redirectURL.RawQuery = query.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.handleAuthorizationCodeGrant(w, r)
	case "refresh_token":
		s.handleRefreshTokenGrant(w, r)
	default:
		writeJSONError(w, http.StatusBadRequest, "unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	codeVerifier := r.FormValue("code_verifier")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	if code == "" || codeVerifier == "" || clientID == "" || redirectURI == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
		return
	}

	client := s.clientForID(clientID)
	if client == nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if err := validateTokenClientAuth(client, clientSecret); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}

	now := s.clock().UTC()
	authCode, err := s.store.ConsumeAuthorizationCode(r.Context(), code, now)
	if err != nil {
		log.Printf("authorization code exchange rejected: %v", err)
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid authorization code")
		return
	}

	// The code is burned at this point; a binding failure below must not
	// revive it.
	if authCode.ClientID != clientID {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "client_id mismatch")
		return
	}
	if authCode.RedirectURI != redirectURI {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri mismatch")
		return
	}
	if !ValidatePKCE(codeVerifier, authCode.CodeChallenge, "S256") {
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
		return
	}

	accessToken, err := signedtoken.EncodeAccessToken(s.tokens, signedtoken.AccessGrant{
		ClientID:  clientID,
		UserID:    authCode.UserID,
		Scope:     authCode.Scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.AccessTokenTTL),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to sign access token")
		return
	}

	refreshToken, err := newGrantToken()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to create refresh token")
		return
	}
	record := storage.RefreshToken{
		TokenHash: hashRefreshToken(refreshToken),
		ClientID:  clientID,
		UserID:    authCode.UserID,
		Scope:     authCode.Scope,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.RefreshTokenTTL),
	}
	if err := s.store.PutRefreshToken(r.Context(), record); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to persist refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        authCode.Scope,
	})
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.FormValue("refresh_token")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")

	if refreshToken == "" || clientID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "missing required fields")
		return
	}

	client := s.clientForID(clientID)
	if client == nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "unknown client")
		return
	}
	if err := validateTokenClientAuth(client, clientSecret); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}

	nextToken, err := newGrantToken()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to create refresh token")
		return
	}

	now := s.clock().UTC()
	successor, err := s.store.RotateRefreshToken(r.Context(), hashRefreshToken(refreshToken), clientID,
		hashRefreshToken(nextToken), now.Add(s.config.RefreshTokenTTL), now)
	if err != nil {
		log.Printf("refresh token rotation rejected: %v", err)
		writeJSONError(w, http.StatusBadRequest, "invalid_grant", "invalid refresh token")
		return
	}

	accessToken, err := signedtoken.EncodeAccessToken(s.tokens, signedtoken.AccessGrant{
		ClientID:  successor.ClientID,
		UserID:    successor.UserID,
		Scope:     successor.Scope,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.config.AccessTokenTTL),
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to sign access token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTokenTTL.Seconds()),
		RefreshToken: nextToken,
		Scope:        successor.Scope,
	})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.config.ResourceSecret == "" {
		http.Error(w, "missing shared secret", http.StatusInternalServerError)
		return
	}
	presented := r.Header.Get("X-Resource-Secret")
	if subtle.ConstantTimeCompare([]byte(presented), []byte(s.config.ResourceSecret)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		http.Error(w, "missing bearer token", http.StatusBadRequest)
		return
	}
	accessToken := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if accessToken == "" {
		http.Error(w, "missing bearer token", http.StatusBadRequest)
		return
	}

	grant, err := signedtoken.DecodeAccessToken(s.tokens, accessToken)
	if err != nil {
		writeJSON(w, http.StatusOK, introspectResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, introspectResponse{
		Active:   true,
		Scope:    grant.Scope,
		ClientID: grant.ClientID,
		UserID:   grant.UserID,
		Exp:      grant.ExpiresAt.Unix(),
	})
}

// currentUser resolves the login session cookie when present and valid.
func (s *Server) currentUser(r *http.Request) (user.User, bool) {
	if s.sessions == nil {
		return user.User{}, false
	}
	token, ok := sessioncookie.Read(r)
	if !ok {
		return user.User{}, false
	}
	u, _, err := s.sessions.Validate(r.Context(), token)
	if err != nil {
		return user.User{}, false
	}
	return u, true
}

func (s *Server) renderError(w http.ResponseWriter, code, description string, status int) {
	w.WriteHeader(status)
	_ = templates.ExecuteTemplate(w, "error.html", errorView{AppName: appName, Error: code, ErrorDescription: description})
}

func (s *Server) renderLoginError(w http.ResponseWriter, pending storage.PendingAuthorization, message string) {
	view := loginView{
		AppName:    appName,
		PendingID:  pending.ID,
		ClientID:   pending.ClientID,
		ClientName: clientDisplayName(s.clientForID(pending.ClientID)),
		Error:      message,
	}
	_ = templates.ExecuteTemplate(w, "login.html", view)
}

func (s *Server) renderConsentView(w http.ResponseWriter, pending storage.PendingAuthorization, u user.User) {
	view := consentView{
		AppName:    appName,
		PendingID:  pending.ID,
		ClientID:   pending.ClientID,
		ClientName: clientDisplayName(s.clientForID(pending.ClientID)),
		Username:   displayName(u),
		Scopes:     formatScopes(pending.Scope),
	}
	_ = templates.ExecuteTemplate(w, "consent.html", view)
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code, description string) {
	redirectURL, err := url.Parse(redirectURI)
	if err != nil {
		s.renderError(w, "server_error", "invalid redirect uri", http.StatusInternalServerError)
		return
	}
	query := redirectURL.Query()
	query.Set("error", code)
	query.Set("error_description", description)
	if state != "" {
		query.Set("state", state)
	}
	redirectURL.RawQuery = query.Encode()
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) clientForID(clientID string) *Client {
	if clientID == "" {
		return nil
	}
	for _, client := range s.config.Clients {
		if client.ID == clientID {
			return &client
		}
	}
	return nil
}

func clientDisplayName(client *Client) string {
	if client == nil {
		return "Unknown Client"
	}
	if client.Name != "" {
		return client.Name
	}
	return client.ID
}

func displayName(u user.User) string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return u.Email
}

func redirectURIAllowed(uri string, allowed []string) bool {
	for _, value := range allowed {
		if value == uri {
			return true
		}
	}
	return false
}

func validateTokenClientAuth(client *Client, clientSecret string) error {
	if client == nil {
		return errors.New("unknown client")
	}
	method := strings.TrimSpace(client.TokenEndpointAuthMethod)
	if method == "" {
		if client.SecretHash != "" {
			method = "client_secret_post"
		} else {
			method = "none"
		}
	}
	if method == "none" {
		return nil
	}
	if method != "client_secret_post" {
		return errors.New("unsupported token endpoint auth method")
	}
	if client.SecretHash == "" {
		return errors.New("client secret not configured")
	}
	if clientSecret == "" {
		return errors.New("missing client secret")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
		return errors.New("invalid client authentication")
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{Error: code, ErrorDescription: description})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
