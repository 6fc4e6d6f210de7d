// Package seed loads development fixtures into the local databases: the
// sign-in allowlist on the auth side, sample recipes and shopping items on
// the MCP side. Fixture rows carry fixed ids, so repeated runs converge on
// the same data instead of duplicating it.
package seed

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	authsqlite "github.com/louisbranch/family.recipes/internal/services/auth/storage/sqlite"
	mcpstorage "github.com/louisbranch/family.recipes/internal/services/mcp/storage"
	mcpsqlite "github.com/louisbranch/family.recipes/internal/services/mcp/storage/sqlite"
)

const defaultOwnerEmail = "owner@family.test"

// Config holds seed command configuration.
type Config struct {
	AuthDBPath string `env:"FAMILY_RECIPES_AUTH_DB_PATH"`
	MCPDBPath  string `env:"FAMILY_RECIPES_MCP_DB_PATH"`
	OwnerEmail string `env:"FAMILY_RECIPES_SEED_OWNER_EMAIL"`
	JSONOutput bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AuthDBPath == "" {
		cfg.AuthDBPath = filepath.Join("data", "auth.db")
	}
	if cfg.MCPDBPath == "" {
		cfg.MCPDBPath = filepath.Join("data", "mcp.db")
	}
	if cfg.OwnerEmail == "" {
		cfg.OwnerEmail = defaultOwnerEmail
	}

	fs.StringVar(&cfg.AuthDBPath, "auth-db-path", cfg.AuthDBPath, "path to the auth sqlite database (default: FAMILY_RECIPES_AUTH_DB_PATH or data/auth.db)")
	fs.StringVar(&cfg.MCPDBPath, "mcp-db-path", cfg.MCPDBPath, "path to the mcp sqlite database (default: FAMILY_RECIPES_MCP_DB_PATH or data/mcp.db)")
	fs.StringVar(&cfg.OwnerEmail, "owner", cfg.OwnerEmail, "email seeded with the owner role")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output a JSON report")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// seedReport counts rows written per fixture family.
type seedReport struct {
	Mode      string `json:"mode"`
	Allowlist int64  `json:"allowlist"`
	Recipes   int64  `json:"recipes"`
	Shopping  int64  `json:"shopping"`
	Skipped   int64  `json:"skipped"`
}

// Run opens both stores, creating missing databases, and loads the fixtures.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if errOut == nil {
		errOut = io.Discard
	}
	allowlist, err := openAuthStore(cfg.AuthDBPath)
	if err != nil {
		return err
	}
	recipes, err := openRecipeStore(cfg.MCPDBPath)
	if err != nil {
		if cerr := allowlist.Close(); cerr != nil {
			fmt.Fprintf(errOut, "Error: close auth store: %v\n", cerr)
		}
		return err
	}
	return runWithDeps(ctx, allowlist, recipes, time.Now().UTC(), cfg, out, errOut)
}

// runWithDeps contains the seeding logic with injectable stores and clock.
// It owns both store lifecycles, closing them on return.
func runWithDeps(ctx context.Context, allowlist allowlistStore, recipes recipeStore, now time.Time, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if allowlist == nil || recipes == nil {
		return fmt.Errorf("seed stores are not configured")
	}
	defer func() {
		if err := allowlist.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close auth store: %v\n", err)
		}
		if err := recipes.Close(); err != nil {
			fmt.Fprintf(errOut, "Error: close mcp store: %v\n", err)
		}
	}()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	report := seedReport{Mode: "seed"}
	entries := allowlistFixtures(cfg.OwnerEmail, now)
	for _, entry := range entries {
		if err := allowlist.PutAllowedEmail(ctx, entry); err != nil {
			return fmt.Errorf("seed allowlist %s: %w", entry.Email, err)
		}
	}
	report.Allowlist = int64(len(entries))

	for _, recipe := range recipeFixtures(now) {
		switch _, err := recipes.GetRecipe(ctx, recipe.ID); {
		case err == nil:
			report.Skipped++
		case errors.Is(err, mcpstorage.ErrNotFound):
			if err := recipes.PutRecipe(ctx, recipe); err != nil {
				return fmt.Errorf("seed recipe %s: %w", recipe.ID, err)
			}
			report.Recipes++
		default:
			return fmt.Errorf("check recipe %s: %w", recipe.ID, err)
		}
	}

	for _, item := range shoppingFixtures(now) {
		switch _, err := recipes.GetShoppingItem(ctx, item.ID); {
		case err == nil:
			report.Skipped++
		case errors.Is(err, mcpstorage.ErrNotFound):
			if err := recipes.PutShoppingItem(ctx, item); err != nil {
				return fmt.Errorf("seed shopping item %s: %w", item.ID, err)
			}
			report.Shopping++
		default:
			return fmt.Errorf("check shopping item %s: %w", item.ID, err)
		}
	}

	if cfg.JSONOutput {
		encoded, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		fmt.Fprintln(out, string(encoded))
		return nil
	}

	fmt.Fprintf(out, "Seeded rows: allowlist=%d recipes=%d shopping=%d skipped=%d\n",
		report.Allowlist, report.Recipes, report.Shopping, report.Skipped)
	return nil
}

// openAuthStore opens the auth database, creating it and its directory when
// missing. Seeding is a bootstrap path, unlike the maintenance sweep.
func openAuthStore(path string) (*authsqlite.Store, error) {
	cleanPath, err := ensureParentDir(path)
	if err != nil {
		return nil, err
	}
	store, err := authsqlite.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open auth store: %w", err)
	}
	return store, nil
}

// openRecipeStore opens the MCP database, creating it and its directory when
// missing.
func openRecipeStore(path string) (*mcpsqlite.Store, error) {
	cleanPath, err := ensureParentDir(path)
	if err != nil {
		return nil, err
	}
	store, err := mcpsqlite.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("open mcp store: %w", err)
	}
	return store, nil
}

func ensureParentDir(path string) (string, error) {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" {
		return "", fmt.Errorf("db path is required")
	}
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db directory: %w", err)
		}
	}
	return cleanPath, nil
}
