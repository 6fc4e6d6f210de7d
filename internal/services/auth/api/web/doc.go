// Package web exposes the browser-facing JSON endpoints for sign-in,
// passkeys, sessions, and allowlist management. Handlers translate between
// wire payloads and the auth services; every auth decision lives in the
// services, never here.
package web
