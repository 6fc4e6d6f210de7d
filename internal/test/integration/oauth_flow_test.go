//go:build integration
// +build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/auth/allowlist"
	"github.com/louisbranch/family.recipes/internal/services/auth/api/web"
	"github.com/louisbranch/family.recipes/internal/services/auth/magiclink"
	"github.com/louisbranch/family.recipes/internal/services/auth/oauth"
	"github.com/louisbranch/family.recipes/internal/services/auth/passkey"
	"github.com/louisbranch/family.recipes/internal/services/auth/session"
	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	authsqlite "github.com/louisbranch/family.recipes/internal/services/auth/storage/sqlite"
	mcpdomain "github.com/louisbranch/family.recipes/internal/services/mcp/domain"
)

const (
	flowOwnerEmail     = "owner@family.test"
	flowClientID       = "family-recipes-mcp"
	flowRedirectURI    = "http://127.0.0.1:9/callback"
	flowResourceSecret = "resource-secret-for-tests"
	flowCodeVerifier   = "0123456789abcdefghijklmnopqrstuvwxyz0123456"
)

// captureSender records sign-in links instead of sending mail.
type captureSender struct {
	urls []string
}

func (c *captureSender) SendMagicLink(_ context.Context, _ string, loginURL string) error {
	c.urls = append(c.urls, loginURL)
	return nil
}

// TestMagicLinkOAuthFlowMintsMCPToken walks the whole sign-in and grant path
// over HTTP: magic link, session cookie, authorize, consent, code exchange.
// The minted access token must introspect as active and authorize the MCP
// recipe tools for its granted scopes only.
func TestMagicLinkOAuthFlowMintsMCPToken(t *testing.T) {
	store, err := authsqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open auth store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	resolver := allowlist.NewResolver(store, nil)
	if err := resolver.EnsureOwner(ctx, flowOwnerEmail); err != nil {
		t.Fatalf("ensure owner: %v", err)
	}

	sessions := session.NewManager(store, store)
	sender := &captureSender{}
	links := magiclink.NewService(store, store, resolver, sessions, sender, magiclink.Config{
		BaseURL: "http://localhost/auth/verify",
		TTL:     15 * time.Minute,
	})

	tokens := signedtoken.Config{
		Issuer: "https://auth.family.recipes",
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	}

	passkeys, err := passkey.NewService(store, store, resolver, sessions, tokens, passkey.Config{
		RPDisplayName: "Family Recipes",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
		ChallengeTTL:  5 * time.Minute,
	})
	if err != nil {
		t.Fatalf("configure passkeys: %v", err)
	}

	oauthServer := oauth.NewServer(oauth.Config{
		Issuer:         "http://localhost",
		ResourceSecret: flowResourceSecret,
		Clients: []oauth.Client{{
			ID:           flowClientID,
			RedirectURIs: []string{flowRedirectURI},
			Name:         "Family Recipes MCP",
		}},
		AccessTokenTTL:          time.Hour,
		RefreshTokenTTL:         30 * 24 * time.Hour,
		AuthorizationCodeTTL:    10 * time.Minute,
		PendingAuthorizationTTL: 15 * time.Minute,
	}, store, sessions, links, tokens)

	webHandler := web.NewHandler(links, passkeys, sessions, resolver, store, web.Config{})

	mux := http.NewServeMux()
	oauthServer.RegisterRoutes(mux)
	webHandler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	defer server.Close()

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("create cookie jar: %v", err)
	}
	client := &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	// Sign in: request a link, then redeem it for a session cookie.
	requestMagicLink(t, client, server.URL, flowOwnerEmail)
	if len(sender.urls) != 1 {
		t.Fatalf("expected 1 captured link, got %d", len(sender.urls))
	}
	linkToken := tokenFromLoginURL(t, sender.urls[0])

	resp := mustGet(t, client, server.URL+"/auth/verify?token="+url.QueryEscape(linkToken))
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("verify: expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Fatalf("verify: expected redirect to /, got %q", loc)
	}

	// Authorize: signed-in users land straight on consent.
	authorizeURL := server.URL + "/authorize?" + url.Values{
		"response_type":         {"code"},
		"client_id":             {flowClientID},
		"redirect_uri":          {flowRedirectURI},
		"scope":                 {"recipes:read recipes:write"},
		"state":                 {"state-123"},
		"code_challenge":        {oauth.ComputeS256Challenge(flowCodeVerifier)},
		"code_challenge_method": {"S256"},
	}.Encode()
	resp = mustGet(t, client, authorizeURL)
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorize: expected 302, got %d", resp.StatusCode)
	}
	consentURL, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse consent redirect: %v", err)
	}
	if consentURL.Path != "/authorize/consent" {
		t.Fatalf("authorize: unexpected redirect %q", consentURL.String())
	}
	pendingID := consentURL.Query().Get("pending_id")
	if pendingID == "" {
		t.Fatalf("expected pending_id in %q", consentURL.String())
	}

	// Approve consent and collect the authorization code.
	resp = mustPostForm(t, client, server.URL+"/authorize/consent", url.Values{
		"pending_id": {pendingID},
		"decision":   {"allow"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("consent: expected 302, got %d", resp.StatusCode)
	}
	callback, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if !strings.HasPrefix(callback.String(), flowRedirectURI) {
		t.Fatalf("consent: expected redirect to client, got %q", callback.String())
	}
	if got := callback.Query().Get("state"); got != "state-123" {
		t.Fatalf("expected state to round-trip, got %q", got)
	}
	code := callback.Query().Get("code")
	if code == "" {
		t.Fatalf("expected authorization code in %q", callback.String())
	}

	// Exchange the code for tokens.
	resp = mustPostForm(t, client, server.URL+"/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {flowRedirectURI},
		"client_id":     {flowClientID},
		"code_verifier": {flowCodeVerifier},
	})
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("token: expected 200, got %d", resp.StatusCode)
	}
	var minted struct {
		AccessToken  string `json:"access_token"`
		TokenType    string `json:"token_type"`
		RefreshToken string `json:"refresh_token"`
		Scope        string `json:"scope"`
	}
	err = json.NewDecoder(resp.Body).Decode(&minted)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if minted.TokenType != "Bearer" || minted.AccessToken == "" || minted.RefreshToken == "" {
		t.Fatalf("unexpected token response: %+v", minted)
	}
	if minted.Scope != "recipes:read recipes:write" {
		t.Fatalf("unexpected scope %q", minted.Scope)
	}

	// Introspection vouches for the token to resource servers.
	introspectReq, err := http.NewRequest(http.MethodPost, server.URL+"/introspect", nil)
	if err != nil {
		t.Fatalf("create introspect request: %v", err)
	}
	introspectReq.Header.Set("X-Resource-Secret", flowResourceSecret)
	introspectReq.Header.Set("Authorization", "Bearer "+minted.AccessToken)
	introspectResp, err := client.Do(introspectReq)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	var introspected struct {
		Active bool   `json:"active"`
		Scope  string `json:"scope"`
		UserID string `json:"user_id"`
	}
	err = json.NewDecoder(introspectResp.Body).Decode(&introspected)
	introspectResp.Body.Close()
	if err != nil {
		t.Fatalf("decode introspect response: %v", err)
	}
	if !introspected.Active || introspected.UserID == "" {
		t.Fatalf("expected active token, got %+v", introspected)
	}

	// The minted token authorizes MCP recipe tools for its scopes only.
	grant, err := signedtoken.DecodeAccessToken(tokens, minted.AccessToken)
	if err != nil {
		t.Fatalf("decode access token: %v", err)
	}
	scopes := mcpdomain.ParseScopes(grant.Scope)
	if err := mcpdomain.Authorize(scopes, "recipe_create"); err != nil {
		t.Fatalf("expected recipes:write to authorize recipe_create: %v", err)
	}
	if err := mcpdomain.Authorize(scopes, "shopping_add"); err == nil {
		t.Fatal("expected shopping_add to be denied without shopping:write")
	}
}

func requestMagicLink(t *testing.T, client *http.Client, base string, email string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"email": email})
	if err != nil {
		t.Fatalf("marshal email request: %v", err)
	}
	resp, err := client.Post(base+"/auth/email", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("request magic link: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request magic link: expected 200, got %d", resp.StatusCode)
	}
}

func tokenFromLoginURL(t *testing.T, raw string) string {
	t.Helper()
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse login url: %v", err)
	}
	token := parsed.Query().Get("token")
	if token == "" {
		t.Fatalf("login url %q has no token", raw)
	}
	return token
}

func mustGet(t *testing.T, client *http.Client, target string) *http.Response {
	t.Helper()
	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("get %s: %v", target, err)
	}
	return resp
}

func mustPostForm(t *testing.T, client *http.Client, target string, form url.Values) *http.Response {
	t.Helper()
	resp, err := client.PostForm(target, form)
	if err != nil {
		t.Fatalf("post %s: %v", target, err)
	}
	return resp
}
