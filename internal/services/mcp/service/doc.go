// Package service runs the Family Recipes MCP resource server: a streamable
// HTTP endpoint exposing the recipe and shopping-list tools to MCP clients.
//
// Every /mcp request must carry an OAuth bearer token. The transport verifies
// the token with the shared signing secret, stashes the resulting grant in the
// request context, and each tool re-checks that grant against the scope it
// requires before running. There is no unauthenticated mode.
package service
