package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPostmarkSendMagicLink(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"MessageID": "test-id"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer server.Close()

	client := NewPostmarkClient("test-token", "signin@family.test", server.URL, WithHTTPClient(server.Client()))

	loginURL := "https://auth.family.test/auth/verify?token=abc123"
	if err := client.SendMagicLink(context.Background(), "cook@example.com", loginURL); err != nil {
		t.Fatalf("SendMagicLink error: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "cook@example.com" {
		t.Errorf("To = %q, want %q", received.To, "cook@example.com")
	}
	if received.From != "signin@family.test" {
		t.Errorf("From = %q, want %q", received.From, "signin@family.test")
	}
	if received.Subject != "Sign in to Family Recipes" {
		t.Errorf("Subject = %q, want %q", received.Subject, "Sign in to Family Recipes")
	}
	if !strings.Contains(received.TextBody, loginURL) {
		t.Errorf("TextBody missing login URL: %q", received.TextBody)
	}
	if !strings.Contains(received.HtmlBody, loginURL) {
		t.Errorf("HtmlBody missing login URL: %q", received.HtmlBody)
	}
}

func TestPostmarkSendMagicLinkAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewPostmarkClient("test-token", "signin@family.test", server.URL, WithHTTPClient(server.Client()))

	err := client.SendMagicLink(context.Background(), "cook@example.com", "https://auth.family.test/auth/verify?token=x")
	if err == nil {
		t.Fatal("SendMagicLink should surface API errors")
	}
}

func TestPostmarkRequiresToken(t *testing.T) {
	client := NewPostmarkClient("", "signin@family.test", "")

	err := client.SendMagicLink(context.Background(), "cook@example.com", "https://auth.family.test")
	if err == nil {
		t.Fatal("SendMagicLink should fail without a server token")
	}
}

func TestNewSenderFromEnv(t *testing.T) {
	t.Run("defaults to log sender", func(t *testing.T) {
		t.Setenv("FAMILY_RECIPES_POSTMARK_TOKEN", "")

		sender, err := NewSenderFromEnv()
		if err != nil {
			t.Fatalf("NewSenderFromEnv error: %v", err)
		}
		if _, ok := sender.(LogSender); !ok {
			t.Errorf("sender = %T, want LogSender", sender)
		}
	})

	t.Run("postmark when token set", func(t *testing.T) {
		t.Setenv("FAMILY_RECIPES_POSTMARK_TOKEN", "token")
		t.Setenv("FAMILY_RECIPES_EMAIL_FROM", "signin@family.test")

		sender, err := NewSenderFromEnv()
		if err != nil {
			t.Fatalf("NewSenderFromEnv error: %v", err)
		}
		if _, ok := sender.(*PostmarkClient); !ok {
			t.Errorf("sender = %T, want *PostmarkClient", sender)
		}
	})
}
