// Package sqlite provides SQLite-backed persistence for the resource server.
//
// One on-disk file holds the recipe and shopping tables the MCP tools read
// and write; it is separate from the identity store on purpose.
package sqlite
