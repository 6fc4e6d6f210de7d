package oauth

import (
	"encoding/json"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes the authorization server configuration.
type Config struct {
	Issuer                  string
	ResourceSecret          string
	Clients                 []Client
	AccessTokenTTL          time.Duration
	RefreshTokenTTL         time.Duration
	AuthorizationCodeTTL    time.Duration
	PendingAuthorizationTTL time.Duration
}

// Client represents a registered OAuth client application. Confidential
// clients carry a bcrypt hash of their secret; the plaintext never appears in
// configuration.
type Client struct {
	ID                      string   `json:"client_id"`
	SecretHash              string   `json:"client_secret_hash,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Name                    string   `json:"client_name,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
}

// oauthEnv holds raw env values for the authorization server configuration.
type oauthEnv struct {
	Issuer                  string        `env:"FAMILY_RECIPES_OAUTH_ISSUER"`
	ResourceSecret          string        `env:"FAMILY_RECIPES_OAUTH_RESOURCE_SECRET"`
	ClientsJSON             string        `env:"FAMILY_RECIPES_OAUTH_CLIENTS"`
	AccessTokenTTL          time.Duration `env:"FAMILY_RECIPES_OAUTH_TOKEN_TTL"   envDefault:"1h"`
	RefreshTokenTTL         time.Duration `env:"FAMILY_RECIPES_OAUTH_REFRESH_TTL" envDefault:"720h"`
	AuthorizationCodeTTL    time.Duration `env:"FAMILY_RECIPES_OAUTH_CODE_TTL"    envDefault:"10m"`
	PendingAuthorizationTTL time.Duration `env:"FAMILY_RECIPES_OAUTH_PENDING_TTL" envDefault:"15m"`
}

// LoadConfigFromEnv loads authorization server configuration from environment
// variables. A malformed value falls back to its default so one bad TTL cannot
// take the server down.
func LoadConfigFromEnv() Config {
	var raw oauthEnv
	_ = env.Parse(&raw)

	if raw.AccessTokenTTL <= 0 {
		raw.AccessTokenTTL = time.Hour
	}
	if raw.RefreshTokenTTL <= 0 {
		raw.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if raw.AuthorizationCodeTTL <= 0 {
		raw.AuthorizationCodeTTL = 10 * time.Minute
	}
	if raw.PendingAuthorizationTTL <= 0 {
		raw.PendingAuthorizationTTL = 15 * time.Minute
	}

	var clients []Client
	if raw.ClientsJSON != "" {
		if err := json.Unmarshal([]byte(raw.ClientsJSON), &clients); err != nil {
			clients = nil
		}
	}

	return Config{
		Issuer:                  raw.Issuer,
		ResourceSecret:          raw.ResourceSecret,
		Clients:                 clients,
		AccessTokenTTL:          raw.AccessTokenTTL,
		RefreshTokenTTL:         raw.RefreshTokenTTL,
		AuthorizationCodeTTL:    raw.AuthorizationCodeTTL,
		PendingAuthorizationTTL: raw.PendingAuthorizationTTL,
	}
}
