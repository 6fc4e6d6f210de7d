package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// defaultRPDisplayName names the relying party in authenticator prompts.
const defaultRPDisplayName = "Family Recipes"

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"FAMILY_RECIPES_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"FAMILY_RECIPES_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"FAMILY_RECIPES_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"FAMILY_RECIPES_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = defaultRPDisplayName
	}
	if cfg.RPID == "" {
		cfg.RPID = "localhost"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8086"}
	}
	if cfg.ChallengeTTL == 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}
