// Package auth parses auth command flags and starts the identity service.
package auth

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/family.recipes/internal/platform/cmd"
	server "github.com/louisbranch/family.recipes/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	Addr string `env:"FAMILY_RECIPES_AUTH_HTTP_ADDR" envDefault:"localhost:8084"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The auth server listen address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, func(context.Context) error {
		return server.Run(ctx, cfg.Addr)
	})
}
