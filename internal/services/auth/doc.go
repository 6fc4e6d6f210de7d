// Package auth defines the identity boundary for the product.
//
// It is the single place that owns the allowlist, authentication factors,
// sessions, and grant issuance so resource servers can depend on stable user
// IDs and token checks instead of re-implementing identity rules.
//
// Subpackages:
//   - app: auth server wiring and lifecycle
//   - api/web: JSON handlers for the first-party client
//   - oauth: authorization, consent, and token flows
//   - storage: persistence interfaces and the SQLite implementation
//   - user: user domain model and helpers
package auth
