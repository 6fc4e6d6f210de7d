package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	mcpsqlite "github.com/louisbranch/family.recipes/internal/services/mcp/storage/sqlite"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// newTestServer builds a server around a throwaway store with a fixed clock,
// skipping the listener so handlers can be driven through httptest.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := mcpsqlite.Open(filepath.Join(t.TempDir(), "mcp.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	tokens := signedtoken.Config{
		Issuer: "https://auth.family.recipes",
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Now:    func() time.Time { return testNow },
	}

	return &Server{
		store:        store,
		mcpServer:    newMCPServer(store, func() time.Time { return testNow }),
		tokens:       tokens,
		authServer:   defaultAuthServer,
		allowedHosts: parseAllowedHosts(nil),
	}
}

func mintToken(t *testing.T, s *Server, scope string, expiresAt time.Time) string {
	t.Helper()

	token, err := signedtoken.EncodeAccessToken(s.tokens, signedtoken.AccessGrant{
		ClientID:  "client-1",
		UserID:    "user-1",
		Scope:     scope,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("encode access token: %v", err)
	}
	return token
}
