// Package oauth implements the browser-facing authorization server.
//
// It carries the code-with-PKCE flow end to end: pending authorizations,
// magic-link login, consent, single-use codes, and rotated refresh tokens.
// Access tokens are signed so the resource server can verify them without
// calling back here.
package oauth
