// Package server composes and runs the auth process boundary.
//
// It hosts the browser-facing auth endpoints and the OAuth authorization
// server on one HTTP listener sharing the same SQLite store, so every
// identity decision is made from one source of truth.
package server
