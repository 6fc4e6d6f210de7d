package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	platformotel "github.com/louisbranch/family.recipes/internal/platform/otel"
	"github.com/louisbranch/family.recipes/internal/services/auth/allowlist"
	"github.com/louisbranch/family.recipes/internal/services/auth/api/web"
	"github.com/louisbranch/family.recipes/internal/services/auth/email"
	"github.com/louisbranch/family.recipes/internal/services/auth/magiclink"
	"github.com/louisbranch/family.recipes/internal/services/auth/oauth"
	"github.com/louisbranch/family.recipes/internal/services/auth/passkey"
	"github.com/louisbranch/family.recipes/internal/services/auth/session"
	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	authsqlite "github.com/louisbranch/family.recipes/internal/services/auth/storage/sqlite"
)

const defaultHTTPAddr = "localhost:8084"

// cleanupInterval paces the background sweeps for expired rows. Expiry is
// enforced at read time regardless; the sweeps only bound table growth.
const cleanupInterval = 5 * time.Minute

// Server hosts the auth service HTTP surface.
type Server struct {
	listener    net.Listener
	httpServer  *http.Server
	store       *authsqlite.Store
	oauthServer *oauth.Server
}

// New creates a configured auth server listening on the provided address.
func New(httpAddr string) (*Server, error) {
	httpAddr = strings.TrimSpace(httpAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}

	store, err := openAuthStore(resolveDBPath())
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	fail := func(err error) (*Server, error) {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	tokens, err := signedtoken.LoadConfigFromEnv(nil)
	if err != nil {
		return fail(fmt.Errorf("configure signed tokens: %w", err))
	}

	resolver := allowlist.NewResolver(store, nil)
	if owner := strings.TrimSpace(os.Getenv("FAMILY_RECIPES_AUTH_OWNER_EMAIL")); owner != "" {
		if err := resolver.EnsureOwner(context.Background(), owner); err != nil {
			return fail(fmt.Errorf("seed owner: %w", err))
		}
	} else {
		log.Printf("FAMILY_RECIPES_AUTH_OWNER_EMAIL is not set; nobody can sign in until the allowlist has an owner")
	}

	sessions := session.NewManager(store, store)
	sender, err := email.NewSenderFromEnv()
	if err != nil {
		return fail(fmt.Errorf("configure email sender: %w", err))
	}
	links := magiclink.NewService(store, store, resolver, sessions, sender, magiclink.LoadConfigFromEnv())

	passkeyConfig := passkey.LoadConfigFromEnv()
	passkeys, err := passkey.NewService(store, store, resolver, sessions, tokens, passkeyConfig)
	if err != nil {
		return fail(fmt.Errorf("configure passkeys: %w", err))
	}

	oauthConfig := oauth.LoadConfigFromEnv()
	if oauthConfig.Issuer == "" {
		oauthConfig.Issuer = defaultOAuthIssuer(httpAddr)
	}
	oauthServer := oauth.NewServer(oauthConfig, store, sessions, links, tokens)

	webHandler := web.NewHandler(links, passkeys, sessions, resolver, store, web.Config{
		ChallengeTTL:        passkeyConfig.ChallengeTTL,
		TrustForwardedProto: trustProxy(),
	})

	mux := http.NewServeMux()
	oauthServer.RegisterRoutes(mux)
	webHandler.RegisterRoutes(mux)

	return &Server{
		listener:    listener,
		httpServer:  &http.Server{Handler: platformotel.HTTPMiddleware("auth", mux)},
		store:       store,
		oauthServer: oauthServer,
	}, nil
}

// Addr returns the listener address for the auth server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an auth server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	authServer, err := New(httpAddr)
	if err != nil {
		return err
	}
	return authServer.Serve(ctx)
}

// Serve starts the auth server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.oauthServer.StartCleanup(serverCtx, cleanupInterval)
	s.startCleanup(serverCtx, cleanupInterval)

	log.Printf("auth server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve auth http: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// startCleanup sweeps expired magic links and sessions; the OAuth server
// runs its own sweep for grant artifacts.
func (s *Server) startCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				if _, err := s.store.DeleteExpiredMagicLinks(ctx, now); err != nil {
					log.Printf("magic link cleanup failed: %v", err)
				}
				if _, err := s.store.DeleteExpiredSessions(ctx, now); err != nil {
					log.Printf("session cleanup failed: %v", err)
				}
			}
		}
	}()
}

func resolveDBPath() string {
	path := strings.TrimSpace(os.Getenv("FAMILY_RECIPES_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	return path
}

func openAuthStore(path string) (*authsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}

func defaultOAuthIssuer(httpAddr string) string {
	addr := strings.TrimSpace(httpAddr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

func trustProxy() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("FAMILY_RECIPES_TRUST_PROXY")), "true")
}
