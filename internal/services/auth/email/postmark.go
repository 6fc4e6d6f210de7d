package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// PostmarkClient sends magic link mail through the Postmark HTTP API.
type PostmarkClient struct {
	serverToken string
	fromEmail   string
	apiURL      string
	httpClient  *http.Client
}

// PostmarkOption adjusts a PostmarkClient.
type PostmarkOption func(*PostmarkClient)

// WithHTTPClient overrides the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) PostmarkOption {
	return func(cl *PostmarkClient) {
		cl.httpClient = c
	}
}

// NewPostmarkClient builds a Postmark-backed sender.
func NewPostmarkClient(serverToken, fromEmail, apiURL string, opts ...PostmarkOption) *PostmarkClient {
	c := &PostmarkClient{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		apiURL:      apiURL,
		httpClient:  http.DefaultClient,
	}
	if c.apiURL == "" {
		c.apiURL = "https://api.postmarkapp.com/email"
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// postmarkEmail mirrors the Postmark message payload field casing.
type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendMagicLink sends the sign-in link to one address.
func (c *PostmarkClient) SendMagicLink(ctx context.Context, toEmail string, loginURL string) error {
	if c == nil || c.serverToken == "" {
		return fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  "Sign in to Family Recipes",
		TextBody: fmt.Sprintf("Click the link below to sign in:\n\n%s\n\nThis link expires in 15 minutes.", loginURL),
		HtmlBody: fmt.Sprintf(`<p>Click the link below to sign in:</p><p><a href="%s">Sign in</a></p><p>This link expires in 15 minutes.</p>`, loginURL),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	return nil
}
