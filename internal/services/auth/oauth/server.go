package oauth

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// appName labels the browser-facing authorization pages.
const appName = "Family Recipes"

// SessionValidator resolves a login session cookie to its user.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (user.User, storage.Session, error)
}

// LinkIssuer sends a sign-in link that can resume a pending authorization.
type LinkIssuer interface {
	Issue(ctx context.Context, email string, pendingID string) error
}

// Server hosts the browser-facing authorization endpoints and the token API.
type Server struct {
	config   Config
	store    storage.OAuthStore
	sessions SessionValidator
	links    LinkIssuer
	tokens   signedtoken.Config
	clock    func() time.Time
}

// NewServer builds an authorization server bound to its config and backing
// store.
func NewServer(config Config, store storage.OAuthStore, sessions SessionValidator, links LinkIssuer, tokens signedtoken.Config) *Server {
	return &Server{
		config:   config,
		store:    store,
		sessions: sessions,
		links:    links,
		tokens:   tokens,
		clock:    time.Now,
	}
}

// RegisterRoutes registers the authorization endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/authorize/login", s.handleLogin)
	mux.HandleFunc("/authorize/consent", s.handleConsent)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/introspect", s.handleIntrospect)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleMetadata)
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// StartCleanup starts periodic expiry cleanup for grant artifacts.
//
// Expiry is already enforced at read time; the sweep keeps pending logins,
// spent codes, and rotated refresh tokens from accumulating.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.store.DeleteExpiredOAuth(ctx, s.clock().UTC()); err != nil {
					log.Printf("oauth cleanup sweep failed: %v", err)
				}
			}
		}
	}()
}
