package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/mcp/domain"
)

func TestRequireBearerStashesGrant(t *testing.T) {
	s := newTestServer(t)

	var got domain.Grant
	var found bool
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, found = domain.GrantFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, s, "recipes:read shopping:write", testNow.Add(time.Hour)))
	rec := httptest.NewRecorder()
	s.requireBearer(probe).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !found {
		t.Fatal("expected grant in request context")
	}
	if got.UserID != "user-1" || got.ClientID != "client-1" {
		t.Fatalf("unexpected grant identity %+v", got)
	}
	if len(got.Scopes) != 2 || got.Scopes[0] != "recipes:read" || got.Scopes[1] != "shopping:write" {
		t.Fatalf("unexpected grant scopes %v", got.Scopes)
	}
}

func TestRequireBearerRejectsMissingToken(t *testing.T) {
	s := newTestServer(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp", nil)
	rec := httptest.NewRecorder()
	s.requireBearer(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	want := `Bearer resource_metadata="http://localhost:8085/.well-known/oauth-protected-resource"`
	if challenge != want {
		t.Fatalf("unexpected challenge %q", challenge)
	}
}

func TestRequireBearerRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run with a bad token")
	})

	cases := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty bearer", token: ""},
		{name: "expires exactly now", token: mintToken(t, s, "recipes:read", testNow)},
		{name: "expired", token: mintToken(t, s, "recipes:read", testNow.Add(-time.Minute))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			s.requireBearer(next).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status %d", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestRequireBearerRejectsForeignHost(t *testing.T) {
	s := newTestServer(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a foreign host")
	})

	req := httptest.NewRequest(http.MethodPost, "http://evil.example/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, s, "recipes:read", testNow.Add(time.Hour)))
	rec := httptest.NewRecorder()
	s.requireBearer(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestRequireBearerAllowsConfiguredHost(t *testing.T) {
	s := newTestServer(t)
	s.allowedHosts = parseAllowedHosts([]string{"recipes.internal"})

	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "http://recipes.internal/mcp", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, s, "recipes:read", testNow.Add(time.Hour)))
	rec := httptest.NewRecorder()
	s.requireBearer(probe).ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRequireBearerRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run for a foreign origin")
	})

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Authorization", "Bearer "+mintToken(t, s, "recipes:read", testNow.Add(time.Hour)))
	rec := httptest.NewRecorder()
	s.requireBearer(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestMCPEndpointRequiresToken(t *testing.T) {
	s := newTestServer(t)
	handler := s.handler()

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	s := newTestServer(t)
	handler := s.handler()

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8085/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}

	var metadata protectedResourceMetadata
	if err := json.NewDecoder(rec.Body).Decode(&metadata); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if metadata.Resource != "http://localhost:8085/mcp" {
		t.Fatalf("unexpected resource %q", metadata.Resource)
	}
	if len(metadata.AuthorizationServers) != 1 || metadata.AuthorizationServers[0] != defaultAuthServer {
		t.Fatalf("unexpected authorization servers %v", metadata.AuthorizationServers)
	}
	if len(metadata.BearerMethodsSupported) != 1 || metadata.BearerMethodsSupported[0] != "header" {
		t.Fatalf("unexpected bearer methods %v", metadata.BearerMethodsSupported)
	}
}

func TestProtectedResourceMetadataRejectsPost(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8085/.well-known/oauth-protected-resource", nil)
	rec := httptest.NewRecorder()
	s.handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	handler := s.handler()

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8085/mcp/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "http://localhost:8085/mcp/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{input: "localhost:8085", want: "localhost", ok: true},
		{input: "localhost", want: "localhost", ok: true},
		{input: "[::1]:8085", want: "::1", ok: true},
		{input: "[::1]", want: "::1", ok: true},
		{input: "::1", want: "::1", ok: true},
		{input: "recipes.internal:443", want: "recipes.internal", ok: true},
		{input: "", want: "", ok: false},
		{input: "   ", want: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := normalizeHost(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("normalizeHost(%q) = %q, %v; want %q, %v", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIsLoopbackHost(t *testing.T) {
	for _, host := range []string{"localhost", "127.0.0.1", "::1", " LOCALHOST "} {
		if !isLoopbackHost(host) {
			t.Errorf("expected %q to be loopback", host)
		}
	}
	for _, host := range []string{"recipes.internal", "192.168.1.10", ""} {
		if isLoopbackHost(host) {
			t.Errorf("expected %q not to be loopback", host)
		}
	}
}
