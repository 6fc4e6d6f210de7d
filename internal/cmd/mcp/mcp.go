// Package mcp parses MCP command flags and starts the resource server.
package mcp

import (
	"context"
	"flag"

	entrypoint "github.com/louisbranch/family.recipes/internal/platform/cmd"
	"github.com/louisbranch/family.recipes/internal/services/mcp/service"
)

// Config holds MCP command configuration.
type Config struct {
	Addr string `env:"FAMILY_RECIPES_MCP_HTTP_ADDR" envDefault:"localhost:8085"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The MCP server listen address")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the MCP resource server.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceMCP, func(context.Context) error {
		return service.Run(ctx, cfg.Addr)
	})
}
