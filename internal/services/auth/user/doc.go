// Package user defines the auth user model used as the shared identity anchor.
//
// These utilities normalize and validate addresses and roles before they are
// persisted or used by session, consent, and tool-grant paths.
package user
