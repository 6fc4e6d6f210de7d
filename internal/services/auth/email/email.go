// Package email delivers sign-in mail for the auth service.
package email

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Sender delivers a magic sign-in link to one address.
type Sender interface {
	SendMagicLink(ctx context.Context, toEmail string, loginURL string) error
}

// senderEnv holds raw env values before post-parse validation.
type senderEnv struct {
	PostmarkToken  string `env:"FAMILY_RECIPES_POSTMARK_TOKEN"`
	PostmarkAPIURL string `env:"FAMILY_RECIPES_POSTMARK_API_URL" envDefault:"https://api.postmarkapp.com/email"`
	FromEmail      string `env:"FAMILY_RECIPES_EMAIL_FROM"       envDefault:"signin@family.recipes"`
}

// NewSenderFromEnv selects the delivery backend: Postmark when a server
// token is configured, a log-only sender otherwise.
func NewSenderFromEnv() (Sender, error) {
	var raw senderEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("parse email env: %w", err)
	}
	token := strings.TrimSpace(raw.PostmarkToken)
	if token == "" {
		return LogSender{}, nil
	}
	from := strings.TrimSpace(raw.FromEmail)
	if from == "" {
		return nil, fmt.Errorf("FAMILY_RECIPES_EMAIL_FROM is required when Postmark is configured")
	}
	return NewPostmarkClient(token, from, strings.TrimSpace(raw.PostmarkAPIURL)), nil
}

// LogSender writes the link to the process log instead of sending mail.
// Default for development and tests.
type LogSender struct{}

// SendMagicLink logs the sign-in link.
func (LogSender) SendMagicLink(_ context.Context, toEmail string, loginURL string) error {
	log.Printf("magic link for %s: %s", toEmail, loginURL)
	return nil
}
