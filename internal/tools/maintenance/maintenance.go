// Package maintenance runs the expired-row sweep one-shot against the auth
// database. The auth server runs the same sweep on a ticker; this command
// covers deployments where the server is down or a backlog built up.
package maintenance

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	authsqlite "github.com/louisbranch/family.recipes/internal/services/auth/storage/sqlite"
)

// Config holds maintenance command configuration.
type Config struct {
	DBPath     string        `env:"FAMILY_RECIPES_AUTH_DB_PATH"`
	Timeout    time.Duration `env:"FAMILY_RECIPES_MAINTENANCE_TIMEOUT" envDefault:"1m"`
	JSONOutput bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join("data", "auth.db")
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the auth sqlite database (default: FAMILY_RECIPES_AUTH_DB_PATH or data/auth.db)")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output a JSON report")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// sweepReport counts deleted rows per table family.
type sweepReport struct {
	Mode       string `json:"mode"`
	MagicLinks int64  `json:"magic_links"`
	Sessions   int64  `json:"sessions"`
	OAuth      int64  `json:"oauth"`
	Total      int64  `json:"total"`
}

// Run opens the auth store and executes the sweep.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	store, err := openAuthStore(cfg.DBPath)
	if err != nil {
		return err
	}
	return runWithDeps(ctx, store, time.Now().UTC(), cfg.JSONOutput, out, errOut)
}

// runWithDeps contains the sweep logic with an injectable store and clock.
// It owns the store lifecycle, closing it on return.
func runWithDeps(ctx context.Context, store sweepStore, now time.Time, jsonOutput bool, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if store == nil {
		return fmt.Errorf("auth store is not configured")
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close auth store: %v\n", err)
		}
	}()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	report := sweepReport{Mode: "sweep"}
	magicLinks, err := store.DeleteExpiredMagicLinks(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep magic links: %w", err)
	}
	sessions, err := store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep sessions: %w", err)
	}
	oauthRows, err := store.DeleteExpiredOAuth(ctx, now)
	if err != nil {
		return fmt.Errorf("sweep oauth grants: %w", err)
	}

	report.MagicLinks = magicLinks
	report.Sessions = sessions
	report.OAuth = oauthRows
	report.Total = magicLinks + sessions + oauthRows

	if jsonOutput {
		encoded, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	fmt.Fprintf(out, "Deleted expired rows: magic_links=%d sessions=%d oauth=%d (total=%d)\n",
		report.MagicLinks, report.Sessions, report.OAuth, report.Total)
	return nil
}

// openAuthStore opens an existing auth database. A missing file is an error:
// a cleanup run against a typoed path must not create an empty database.
func openAuthStore(path string) (*authsqlite.Store, error) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" {
		return nil, fmt.Errorf("auth db path is required")
	}
	if _, err := os.Stat(cleanPath); err != nil {
		return nil, fmt.Errorf("auth db not found at %s: %w", cleanPath, err)
	}
	store, err := authsqlite.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open auth store: %w", err)
	}
	return store, nil
}
