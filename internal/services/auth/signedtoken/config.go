package signedtoken

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// minSecretLen is the minimum HMAC secret size in bytes.
const minSecretLen = 32

// configEnv holds raw env values before post-parse validation.
type configEnv struct {
	Issuer string `env:"FAMILY_RECIPES_TOKEN_ISSUER" envDefault:"https://auth.family.recipes"`
	Secret string `env:"FAMILY_RECIPES_TOKEN_SECRET"`
}

// Config defines how tokens are signed and verified.
type Config struct {
	Issuer string
	Secret []byte
	Now    func() time.Time
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("token issuer is not configured")
	}
	if len(c.Secret) < minSecretLen {
		return fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}
	return nil
}

func (c Config) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// LoadConfigFromEnv reads token signing configuration from the environment.
// The secret is base64; both raw and padded encodings are accepted.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw configEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	secret := strings.TrimSpace(raw.Secret)
	if issuer == "" {
		issuer = "https://auth.family.recipes"
	}
	if secret == "" {
		return Config{}, fmt.Errorf("FAMILY_RECIPES_TOKEN_SECRET is required")
	}
	secretBytes, err := decodeBase64(secret)
	if err != nil {
		return Config{}, fmt.Errorf("decode token secret: %w", err)
	}
	if len(secretBytes) < minSecretLen {
		return Config{}, fmt.Errorf("token secret must be at least %d bytes", minSecretLen)
	}

	return Config{
		Issuer: issuer,
		Secret: secretBytes,
		Now:    now,
	}, nil
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
