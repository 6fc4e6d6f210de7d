package service

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

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/family.recipes/internal/platform/branding"
	"github.com/louisbranch/family.recipes/internal/platform/config"
	platformotel "github.com/louisbranch/family.recipes/internal/platform/otel"
	"github.com/louisbranch/family.recipes/internal/services/auth/signedtoken"
	"github.com/louisbranch/family.recipes/internal/services/mcp/domain"
	mcpsqlite "github.com/louisbranch/family.recipes/internal/services/mcp/storage/sqlite"
)

const (
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"

	defaultHTTPAddr = "localhost:8085"

	// defaultAuthServer is the authorization server advertised to clients
	// when none is configured. It matches the auth service default address.
	defaultAuthServer = "http://localhost:8084"

	shutdownTimeout = 10 * time.Second
)

// serverName is the implementation name reported to MCP clients.
var serverName = branding.AppName + " MCP"

// mcpEnv holds env-parsed configuration for the MCP resource server.
type mcpEnv struct {
	DBPath       string   `env:"FAMILY_RECIPES_MCP_DB_PATH"`
	AllowedHosts []string `env:"FAMILY_RECIPES_MCP_ALLOWED_HOSTS" envSeparator:","`
	AuthServer   string   `env:"FAMILY_RECIPES_MCP_OAUTH_ISSUER"`
}

// Server hosts the MCP resource server over HTTP.
type Server struct {
	listener     net.Listener
	httpServer   *http.Server
	store        *mcpsqlite.Store
	mcpServer    *mcp.Server
	tokens       signedtoken.Config
	authServer   string
	allowedHosts map[string]struct{}
}

// New creates a configured MCP server listening on the provided address. It
// opens the recipe store, loads the token verification secret, and registers
// every tool behind its scope gate.
func New(httpAddr string) (*Server, error) {
	httpAddr = strings.TrimSpace(httpAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}
	listener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", httpAddr, err)
	}

	var raw mcpEnv
	_ = config.ParseEnv(&raw)

	store, err := openStore(resolveDBPath(raw.DBPath))
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

	authServer := strings.TrimRight(strings.TrimSpace(raw.AuthServer), "/")
	if authServer == "" {
		authServer = defaultAuthServer
	}

	mcpServer := newMCPServer(store, nil)
	s := &Server{
		listener:     listener,
		store:        store,
		mcpServer:    mcpServer,
		tokens:       tokens,
		authServer:   authServer,
		allowedHosts: parseAllowedHosts(raw.AllowedHosts),
	}
	s.httpServer = &http.Server{Handler: platformotel.HTTPMiddleware("mcp", s.handler())}
	return s, nil
}

// Addr returns the listener address for the MCP server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an MCP server until the context ends.
func Run(ctx context.Context, httpAddr string) error {
	mcpServer, err := New(httpAddr)
	if err != nil {
		return err
	}
	return mcpServer.Serve(ctx)
}

// Serve starts the MCP server and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("mcp server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve mcp http: %w", err)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return handleErr(<-serveErr)
	case err := <-serveErr:
		return handleErr(err)
	}
}

// newMCPServer assembles the MCP runtime with every tool registered behind
// its scope gate.
func newMCPServer(store *mcpsqlite.Store, now func() time.Time) *mcp.Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	registerTools(mcpServer, store, now)
	return mcpServer
}

// registerTools binds the recipe and shopping-list tools. Handlers never see
// an unauthorized call: the gate wraps each one under its own tool name.
func registerTools(mcpServer *mcp.Server, store *mcpsqlite.Store, now func() time.Time) {
	recipeList := domain.RecipeListTool()
	mcp.AddTool(mcpServer, recipeList, requireScope(recipeList.Name, domain.RecipeListHandler(store)))

	recipeGet := domain.RecipeGetTool()
	mcp.AddTool(mcpServer, recipeGet, requireScope(recipeGet.Name, domain.RecipeGetHandler(store)))

	recipeCreate := domain.RecipeCreateTool()
	mcp.AddTool(mcpServer, recipeCreate, requireScope(recipeCreate.Name, domain.RecipeCreateHandler(store, now)))

	recipeUpdate := domain.RecipeUpdateTool()
	mcp.AddTool(mcpServer, recipeUpdate, requireScope(recipeUpdate.Name, domain.RecipeUpdateHandler(store, now)))

	shoppingList := domain.ShoppingListTool()
	mcp.AddTool(mcpServer, shoppingList, requireScope(shoppingList.Name, domain.ShoppingListHandler(store)))

	shoppingAdd := domain.ShoppingAddTool()
	mcp.AddTool(mcpServer, shoppingAdd, requireScope(shoppingAdd.Name, domain.ShoppingAddHandler(store, now)))

	shoppingToggle := domain.ShoppingToggleTool()
	mcp.AddTool(mcpServer, shoppingToggle, requireScope(shoppingToggle.Name, domain.ShoppingToggleHandler(store, now)))
}

func resolveDBPath(configured string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = filepath.Join("data", "mcp.db")
	}
	return path
}

func openStore(path string) (*mcpsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := mcpsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mcp sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close mcp store: %v", err)
		}
	}
}
